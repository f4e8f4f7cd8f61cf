package app_test

import (
	"sync"
	"testing"
	"time"

	"liveboard/internal/app"
	"liveboard/internal/domain"
	"liveboard/internal/infra/memory"
)

// queuedCodes hands out codes in order, then repeats the last one.
type queuedCodes struct {
	mu    sync.Mutex
	codes []string
}

func (q *queuedCodes) NewCode() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	code := q.codes[0]
	if len(q.codes) > 1 {
		q.codes = q.codes[1:]
	}
	return code
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type answerTally struct {
	mu     sync.Mutex
	counts map[string]int
}

func (a *answerTally) ObserveAnswer(result string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.counts == nil {
		a.counts = make(map[string]int)
	}
	a.counts[result]++
}

func (a *answerTally) count(result string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[result]
}

func codes(list ...string) app.Option {
	return app.WithCodeGenerator(&queuedCodes{codes: list})
}

func geographyQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-geo",
		Title: "Capitals and numbers",
		Questions: []domain.QuizQuestion{
			{ID: "q1", Text: "Capital of France?", Type: domain.QuestionMC, CorrectAnswer: "Paris", IncorrectAnswers: []string{"Rome", "Madrid"}},
			{ID: "q2", Text: "3 + 4?", Type: domain.QuestionMC, CorrectAnswer: "7", IncorrectAnswers: []string{"5", "9"}},
		},
	}
}

func newStore() *memory.DocStore {
	return memory.NewDocStore()
}

// waitFor receives from ch until match accepts a value.
func waitFor[T any](t *testing.T, ch <-chan T, match func(T) bool) T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed before expected state")
			}
			if match(v) {
				return v
			}
		case <-timeout:
			t.Fatalf("timed out waiting for expected state")
		}
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
