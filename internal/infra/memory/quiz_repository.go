package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"liveboard/internal/domain"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

// QuizLoader fetches quiz definitions from a backing store.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizRepository caches validated quiz definitions with a jittered TTL.
type QuizRepository struct {
	loader QuizLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedQuiz
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewQuizRepository(loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuiz),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := r.cached(quizID); ok {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		if quiz, ok := r.cached(quizID); ok {
			return quiz, nil
		}
		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if err := domain.ValidateQuiz(quiz); err != nil {
			return domain.Quiz{}, err
		}

		r.mu.Lock()
		r.cache[quizID] = cachedQuiz{
			quiz:      quiz,
			expiresAt: r.clock().Add(r.ttlWithJitterLocked()),
		}
		r.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (r *QuizRepository) cached(quizID string) (domain.Quiz, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[quizID]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return domain.Quiz{}, false
	}
	return entry.quiz, true
}

// add up to 10% jitter to spread expirations
func (r *QuizRepository) ttlWithJitterLocked() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuizLoader is backed by an in-memory map (tests, demos, fixture files).
type StaticQuizLoader struct {
	quizzes map[string]domain.Quiz
}

func NewStaticQuizLoader(quizzes map[string]domain.Quiz) *StaticQuizLoader {
	return &StaticQuizLoader{quizzes: quizzes}
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

// Quizzes returns the loaded definitions ordered by id.
func (l *StaticQuizLoader) Quizzes() []domain.Quiz {
	out := make([]domain.Quiz, 0, len(l.quizzes))
	for _, q := range l.quizzes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadQuizFile reads a list of quiz definitions from a YAML or JSON file.
func LoadQuizFile(path string) (*StaticQuizLoader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var quizzes []domain.Quiz
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &quizzes)
	default:
		err = yaml.Unmarshal(data, &quizzes)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	byID := make(map[string]domain.Quiz, len(quizzes))
	for _, q := range quizzes {
		if err := domain.ValidateQuiz(q); err != nil {
			return nil, fmt.Errorf("quiz %q in %s: %w", q.ID, path, err)
		}
		byID[q.ID] = q
	}
	return NewStaticQuizLoader(byID), nil
}
