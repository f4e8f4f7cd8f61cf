// Package sqlite stores quiz definitions in a local SQLite file for
// single-node deployments that run without Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"liveboard/internal/domain"

	_ "modernc.org/sqlite"
)

type QuizStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for tests.
func Open(path string) (*QuizStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// a second connection to ":memory:" would see an empty database
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &QuizStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *QuizStore) Close() error {
	return s.db.Close()
}

func (s *QuizStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS quizzes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *QuizStore) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM quizzes WHERE id = ?`, quizID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	var quiz domain.Quiz
	if err := json.Unmarshal([]byte(raw), &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	return quiz, nil
}

// SaveQuiz validates and upserts a quiz definition.
func (s *QuizStore) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	if err := domain.ValidateQuiz(quiz); err != nil {
		return err
	}
	raw, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quizzes (id, title, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, data = excluded.data, updated_at = excluded.updated_at`,
		quiz.ID, quiz.Title, string(raw), time.Now().UTC())
	return err
}

// ListQuizzes returns id and title of every stored quiz, ordered by title.
func (s *QuizStore) ListQuizzes(ctx context.Context) ([]domain.QuizSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title FROM quizzes ORDER BY title, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.QuizSummary
	for rows.Next() {
		var q domain.QuizSummary
		if err := rows.Scan(&q.ID, &q.Title); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
