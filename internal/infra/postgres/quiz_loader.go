package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"liveboard/internal/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuizLoader loads quiz definitions stored as JSONB in Postgres.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM quizzes WHERE id=$1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	if quiz.ID == "" {
		quiz.ID = quizID
	}
	return quiz, nil
}

// SaveQuiz validates and upserts a quiz definition.
func (l *QuizLoader) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	if err := domain.ValidateQuiz(quiz); err != nil {
		return err
	}
	raw, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO quizzes (id, title, data) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, data = EXCLUDED.data, updated_at = now()`,
		quiz.ID, quiz.Title, raw)
	if err != nil {
		return fmt.Errorf("save quiz: %w", err)
	}
	return nil
}

// ListQuizzes returns id and title of every stored quiz, ordered by title.
func (l *QuizLoader) ListQuizzes(ctx context.Context) ([]domain.QuizSummary, error) {
	rows, err := l.pool.Query(ctx, `SELECT id, title FROM quizzes ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()
	var out []domain.QuizSummary
	for rows.Next() {
		var s domain.QuizSummary
		if err := rows.Scan(&s.ID, &s.Title); err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
