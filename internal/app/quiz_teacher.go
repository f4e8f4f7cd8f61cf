package app

import (
	"context"
	"errors"

	"liveboard/internal/docstore"
	"liveboard/internal/domain"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// QuizTeacher runs one teacher's live quiz. The session document lives at
// quiz_sessions/{teacherID} and responses below it.
type QuizTeacher struct {
	store     docstore.Store
	quizzes   QuizRepository
	teacherID string
	settings
}

func NewQuizTeacher(store docstore.Store, quizzes QuizRepository, teacherID string, opts ...Option) *QuizTeacher {
	s := newSettings(opts)
	s.log = s.log.WithField("teacher_id", teacherID)
	return &QuizTeacher{store: store, quizzes: quizzes, teacherID: teacherID, settings: s}
}

// StartQuiz loads a quiz definition by id and starts a session from it.
func (t *QuizTeacher) StartQuiz(ctx context.Context, quizID string, mode domain.SessionMode) (string, error) {
	if t.quizzes == nil {
		return "", domain.ErrQuizNotFound
	}
	quiz, err := t.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return "", err
	}
	return t.StartQuizSession(ctx, quiz, mode)
}

// StartQuizSession replaces any previous session with a fresh waiting one and
// returns its join code. A still-running previous session is ended first so
// its stragglers stop writing, then its responses are deleted.
func (t *QuizTeacher) StartQuizSession(ctx context.Context, quiz domain.Quiz, mode domain.SessionMode) (string, error) {
	if err := validID("teacherId", t.teacherID); err != nil {
		return "", err
	}
	if mode == "" {
		mode = domain.ModeTeacher
	}
	if !mode.Valid() {
		return "", domain.NewValidationError("sessionMode", "must be teacher, auto or student")
	}
	if err := domain.ValidateQuiz(quiz); err != nil {
		return "", err
	}

	if err := t.EndQuizSession(ctx); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return "", err
	}
	if err := t.clearResponses(ctx); err != nil {
		return "", storeFailure(t.log, "start quiz: clear responses", err)
	}

	code, err := allocateCode(ctx, t.store, t.codes, quizSessionsCollection, t.teacherID, func(doc docstore.Document) bool {
		s, err := decode[domain.QuizSession](doc)
		return err == nil && s.Status != domain.QuizEnded
	})
	if err != nil {
		return "", storeFailure(t.log, "start quiz", err)
	}

	session := domain.NewQuizSession(t.teacherID, code, quiz, mode)
	if err := t.store.Put(ctx, quizSessionPath(t.teacherID), session); err != nil {
		return "", storeFailure(t.log, "start quiz", err)
	}
	t.log.WithFields(logrus.Fields{"quiz_id": quiz.ID, "code": code, "mode": mode}).Info("quiz session started")
	return code, nil
}

func (t *QuizTeacher) clearResponses(ctx context.Context) error {
	docs, err := t.store.Query(ctx, responsesPath(t.teacherID))
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for _, doc := range docs {
		path := doc.Path
		g.Go(func() error {
			return t.store.Delete(gctx, path)
		})
	}
	return g.Wait()
}

// AdvanceQuestion moves the session one step: waiting opens question 0, active
// opens the next question, and advancing past the last question ends it.
func (t *QuizTeacher) AdvanceQuestion(ctx context.Context) (domain.QuizSession, error) {
	session, err := t.Session(ctx)
	if err != nil {
		return domain.QuizSession{}, err
	}
	return t.advanceFrom(ctx, session)
}

// advanceFrom applies one transition to the state the caller saw. The write
// only lands if the stored session is still in that state, so two racing
// advances (teacher click and auto-progress timer) never skip a question and
// an end that landed first always wins.
func (t *QuizTeacher) advanceFrom(ctx context.Context, current domain.QuizSession) (domain.QuizSession, error) {
	next, err := current.Advance(t.now(), t.grace)
	if err != nil {
		return current, err
	}
	fields := docstore.Fields{
		"status":               next.Status,
		"currentQuestionIndex": next.CurrentQuestionIndex,
		"autoProgressAt":       next.AutoProgressAt,
		"questionStartedAt":    next.QuestionStartedAt,
		"startedAt":            next.StartedAt,
		"endedAt":              next.EndedAt,
	}
	err = t.store.PatchIf(ctx, quizSessionPath(t.teacherID), fields,
		docstore.Eq("code", current.Code),
		docstore.Eq("status", current.Status),
		docstore.Eq("currentQuestionIndex", current.CurrentQuestionIndex),
	)
	switch {
	case err == nil:
	case errors.Is(err, docstore.ErrNotFound):
		return current, domain.ErrSessionNotFound
	case errors.Is(err, docstore.ErrConditionFailed):
		latest, gerr := t.Session(ctx)
		if gerr == nil && latest.Status == domain.QuizEnded {
			return latest, domain.ErrQuizEnded
		}
		return current, domain.ErrStaleState
	default:
		return current, storeFailure(t.log, "advance question", err)
	}

	t.log.WithFields(logrus.Fields{"status": next.Status, "index": next.CurrentQuestionIndex}).Info("quiz advanced")
	return next, nil
}

// EndQuizSession force-ends the session from any state. It never rewrites the
// question index, so an advance that landed concurrently is kept.
func (t *QuizTeacher) EndQuizSession(ctx context.Context) error {
	session, err := t.Session(ctx)
	if err != nil {
		return err
	}
	if session.Status == domain.QuizEnded {
		return nil
	}
	ended := session.End(t.now())
	err = t.store.Patch(ctx, quizSessionPath(t.teacherID), docstore.Fields{
		"status":         domain.QuizEnded,
		"autoProgressAt": nil,
		"endedAt":        ended.EndedAt,
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.ErrSessionNotFound
	}
	if err != nil {
		return storeFailure(t.log, "end quiz", err)
	}
	t.log.Info("quiz session ended")
	return nil
}

// Session returns the current quiz session document.
func (t *QuizTeacher) Session(ctx context.Context) (domain.QuizSession, error) {
	if err := validID("teacherId", t.teacherID); err != nil {
		return domain.QuizSession{}, err
	}
	doc, err := t.store.Get(ctx, quizSessionPath(t.teacherID))
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.QuizSession{}, storeFailure(t.log, "get quiz session", err)
	}
	session, err := decode[domain.QuizSession](doc)
	if err != nil {
		return domain.QuizSession{}, storeFailure(t.log, "get quiz session", err)
	}
	return session, nil
}

// Responses lists every participant's response ordered by student uid.
func (t *QuizTeacher) Responses(ctx context.Context) ([]domain.QuizResponse, error) {
	if err := validID("teacherId", t.teacherID); err != nil {
		return nil, err
	}
	docs, err := t.store.Query(ctx, responsesPath(t.teacherID))
	if err != nil {
		return nil, storeFailure(t.log, "list responses", err)
	}
	return decodeAll[domain.QuizResponse](t.log, docs), nil
}

// Results grades every stored answer against the session's questions.
func (t *QuizTeacher) Results(ctx context.Context) (domain.Results, error) {
	session, err := t.Session(ctx)
	if err != nil {
		return domain.Results{}, err
	}
	responses, err := t.Responses(ctx)
	if err != nil {
		return domain.Results{}, err
	}
	return domain.BuildResults(session, responses), nil
}

// QuizTeacherView is the live monitor: session, responses and derived stats
// for the open question.
type QuizTeacherView struct {
	Session      *domain.QuizSession   `json:"session"`
	Responses    []domain.QuizResponse `json:"responses"`
	Completion   *domain.Completion    `json:"completion,omitempty"`
	Distribution []domain.OptionCount  `json:"distribution,omitempty"`
}

// Watch streams the session and its responses. The responses subscription
// stays open after the session ends so late writes still reach the monitor.
func (t *QuizTeacher) Watch(ctx context.Context) (<-chan QuizTeacherView, func(), error) {
	if err := validID("teacherId", t.teacherID); err != nil {
		return nil, nil, err
	}
	wctx, cancel := context.WithCancel(ctx)
	sessions, _, err := t.store.Subscribe(wctx, quizSessionPath(t.teacherID))
	if err != nil {
		cancel()
		return nil, nil, storeFailure(t.log, "watch quiz session", err)
	}
	responses, _, err := t.store.SubscribeCollection(wctx, responsesPath(t.teacherID))
	if err != nil {
		cancel()
		return nil, nil, storeFailure(t.log, "watch responses", err)
	}

	views := streamPair(sessions, responses, func(a docstore.Snapshot, b docstore.CollectionSnapshot) QuizTeacherView {
		view := QuizTeacherView{
			Session:   decodeSnapshot[domain.QuizSession](t.log, a),
			Responses: decodeAll[domain.QuizResponse](t.log, b.Docs),
		}
		if view.Session == nil {
			return view
		}
		if c, ok := domain.CurrentCompletion(*view.Session, view.Responses); ok {
			view.Completion = &c
		}
		if q, ok := view.Session.CurrentQuestion(); ok && q.Type == domain.QuestionMC {
			view.Distribution = domain.AnswerDistribution(q, view.Responses)
		}
		return view
	})
	return views, cancel, nil
}
