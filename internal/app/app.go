// Package app holds the session managers. Each manager is bound to one
// identity (a teacher or a student) and coordinates with every other client
// only through a docstore.Store.
package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"liveboard/internal/docstore"
	"liveboard/internal/domain"
	"liveboard/internal/logging"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	sessionsCollection     = "sessions"
	studentsCollection     = "students"
	quizSessionsCollection = "quiz_sessions"
	responsesCollection    = "responses"

	// DefaultAutoProgressGrace is the countdown shown before an auto-paced quiz moves on.
	DefaultAutoProgressGrace = 5 * time.Second

	maxCodeAttempts = 5
	maxCASAttempts  = 3
	fanOutLimit     = 16
)

var errCodesExhausted = errors.New("no unused join code found")

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// AnswerRecorder observes graded answer submissions.
type AnswerRecorder interface {
	ObserveAnswer(result string)
}

// Option configures a manager.
type Option func(*settings)

type settings struct {
	now     func() time.Time
	log     logrus.FieldLogger
	codes   domain.CodeGenerator
	ids     func() string
	grace   time.Duration
	tick    time.Duration
	answers AnswerRecorder
}

var sharedCodes = domain.NewRandomCodes()

func newSettings(opts []Option) settings {
	s := settings{
		now:   time.Now,
		log:   logging.Discard(),
		codes: sharedCodes,
		ids:   uuid.NewString,
		grace: DefaultAutoProgressGrace,
		tick:  250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithClock is for deterministic timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

func WithCodeGenerator(codes domain.CodeGenerator) Option {
	return func(s *settings) { s.codes = codes }
}

// WithIDGenerator replaces uuid-based roster ids.
func WithIDGenerator(ids func() string) Option {
	return func(s *settings) { s.ids = ids }
}

// WithAutoProgressGrace sets the delay between opening a question in auto mode
// and the earliest automatic advance.
func WithAutoProgressGrace(grace time.Duration) Option {
	return func(s *settings) {
		if grace > 0 {
			s.grace = grace
		}
	}
}

// WithAutoProgressTick sets how often the auto-progressor re-checks its deadline.
func WithAutoProgressTick(tick time.Duration) Option {
	return func(s *settings) {
		if tick > 0 {
			s.tick = tick
		}
	}
}

func WithAnswerRecorder(r AnswerRecorder) Option {
	return func(s *settings) { s.answers = r }
}

func (s settings) observeAnswer(result string) {
	if s.answers != nil {
		s.answers.ObserveAnswer(result)
	}
}

func sessionPath(teacherID string) string {
	return docstore.Join(sessionsCollection, teacherID)
}

func studentsPath(teacherID string) string {
	return docstore.Join(sessionsCollection, teacherID, studentsCollection)
}

func studentPath(teacherID, studentID string) string {
	return docstore.Join(sessionsCollection, teacherID, studentsCollection, studentID)
}

func quizSessionPath(teacherID string) string {
	return docstore.Join(quizSessionsCollection, teacherID)
}

func responsesPath(teacherID string) string {
	return docstore.Join(quizSessionsCollection, teacherID, responsesCollection)
}

func responsePath(teacherID, studentUID string) string {
	return docstore.Join(quizSessionsCollection, teacherID, responsesCollection, studentUID)
}

// validID rejects identities that cannot be used as a path segment.
func validID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.NewValidationError(field, "required")
	}
	if strings.Contains(id, "/") {
		return domain.NewValidationError(field, "must not contain '/'")
	}
	return nil
}

// storeFailure logs a store error once at the manager boundary and wraps it.
func storeFailure(log logrus.FieldLogger, op string, err error) error {
	log.WithError(err).WithField("op", op).Error("document store operation failed")
	return domain.StoreError(op, err)
}

func decode[T any](doc docstore.Document) (T, error) {
	var v T
	err := doc.Decode(&v)
	return v, err
}

// decodeSnapshot returns nil for a missing or undecodable document.
func decodeSnapshot[T any](log logrus.FieldLogger, snap docstore.Snapshot) *T {
	if !snap.Exists {
		return nil
	}
	v, err := decode[T](snap.Doc)
	if err != nil {
		log.WithError(err).WithField("path", snap.Path).Warn("skip undecodable document")
		return nil
	}
	return &v
}

func decodeAll[T any](log logrus.FieldLogger, docs []docstore.Document) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := decode[T](doc)
		if err != nil {
			log.WithError(err).WithField("path", doc.Path).Warn("skip undecodable document")
			continue
		}
		out = append(out, v)
	}
	return out
}

// allocateCode draws join codes until one is not used by another owner's live
// session in collection.
func allocateCode(ctx context.Context, store docstore.Store, codes domain.CodeGenerator, collection, owner string, live func(docstore.Document) bool) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := codes.NewCode()
		docs, err := store.Query(ctx, collection, docstore.Eq("code", code))
		if err != nil {
			return "", err
		}
		taken := false
		for _, doc := range docs {
			if doc.ID != owner && live(doc) {
				taken = true
				break
			}
		}
		if !taken {
			return code, nil
		}
	}
	return "", errCodesExhausted
}

// streamPair merges two subscriptions into one latest-wins stream of views.
// Nothing is emitted until both sources delivered their first state; the
// stream closes as soon as either source closes.
func streamPair[A, B, V any](a <-chan A, b <-chan B, build func(A, B) V) <-chan V {
	out := make(chan V, 1)
	go func() {
		defer close(out)
		var (
			va           A
			vb           B
			haveA, haveB bool
		)
		for {
			select {
			case v, ok := <-a:
				if !ok {
					return
				}
				va, haveA = v, true
			case v, ok := <-b:
				if !ok {
					return
				}
				vb, haveB = v, true
			}
			if haveA && haveB {
				docstore.Offer(out, build(va, vb))
			}
		}
	}()
	return out
}
