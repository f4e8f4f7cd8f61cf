package redis

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"liveboard/internal/domain"
	"liveboard/internal/infra/memory"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestQuizRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1": sampleQuiz(),
		}),
	}
	repo := NewQuizRepository(client, loader, time.Minute)

	quiz, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls.Load())
	}
	if ttl := mr.TTL("quiz:quiz-1"); ttl < time.Minute || ttl > 66*time.Second {
		t.Fatalf("expected jittered ttl, got %v", ttl)
	}

	// Second call should hit cache, loader not incremented.
	cached, _ := repo.GetQuiz(context.Background(), "quiz-1")
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls.Load())
	}
	if cached.Questions[0].CorrectAnswer != quiz.Questions[0].CorrectAnswer {
		t.Fatalf("cached quiz lost its answer key")
	}

	if err := repo.Invalidate(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = repo.GetQuiz(context.Background(), "quiz-1")
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after invalidate, loader calls=%d", loader.calls.Load())
	}
}

type countingLoader struct {
	memory.QuizLoader
	calls atomic.Int32
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls.Add(1)
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.QuizQuestion{
			{
				ID:               "q1",
				Text:             "What is 2 + 2?",
				Type:             domain.QuestionMC,
				CorrectAnswer:    "4",
				IncorrectAnswers: []string{"3", "5"},
			},
		},
	}
}
