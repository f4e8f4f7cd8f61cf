package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"liveboard/internal/docstore"
	"liveboard/internal/domain"

	"github.com/sirupsen/logrus"
)

// QuizStudent is one participant's side of a live quiz. The participant owns
// exactly one response document, keyed by its uid.
type QuizStudent struct {
	store docstore.Store
	uid   string
	settings

	mu        sync.Mutex
	teacherID string
	pending   map[string]string
}

func NewQuizStudent(store docstore.Store, uid string, opts ...Option) *QuizStudent {
	s := newSettings(opts)
	s.log = s.log.WithField("student_id", uid)
	return &QuizStudent{store: store, uid: uid, settings: s, pending: make(map[string]string)}
}

// Resume binds the participant to a teacher's quiz joined earlier.
func (s *QuizStudent) Resume(teacherID string) {
	s.mu.Lock()
	s.teacherID = teacherID
	s.mu.Unlock()
}

func (s *QuizStudent) TeacherID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teacherID, s.teacherID != ""
}

// JoinQuizSession resolves a join code and creates the participant's response.
// Rejoining keeps the stored response and its answers.
func (s *QuizStudent) JoinQuizSession(ctx context.Context, rawCode, name, pin string) (string, error) {
	if err := validID("studentId", s.uid); err != nil {
		return "", err
	}
	req, err := domain.NewQuizJoinRequest(name, pin, rawCode)
	if err != nil {
		return "", err
	}
	log := s.log.WithField("code", req.Code)

	docs, err := s.store.Query(ctx, quizSessionsCollection, docstore.Eq("code", req.Code))
	if err != nil {
		return "", storeFailure(log, "join quiz", err)
	}
	var (
		teacherID string
		ended     bool
	)
	for _, doc := range docs {
		session, err := decode[domain.QuizSession](doc)
		if err != nil {
			continue
		}
		if session.Status == domain.QuizEnded {
			ended = true
			continue
		}
		teacherID = doc.ID
		break
	}
	if teacherID == "" {
		if ended {
			return "", domain.ErrQuizEnded
		}
		return "", domain.ErrSessionNotFound
	}

	path := responsePath(teacherID, s.uid)
	_, err = s.store.Get(ctx, path)
	switch {
	case err == nil:
		log.WithField("teacher_id", teacherID).Info("participant rejoined quiz")
	case errors.Is(err, docstore.ErrNotFound):
		response := domain.QuizResponse{
			StudentUID:  s.uid,
			StudentName: req.Name,
			PIN:         req.PIN,
			Status:      domain.ResponseJoined,
			Answers:     []domain.ResponseAnswer{},
			JoinedAt:    s.now(),
		}
		if err := s.store.Put(ctx, path, response); err != nil {
			return "", storeFailure(log, "join quiz", err)
		}
		log.WithField("teacher_id", teacherID).Info("participant joined quiz")
	default:
		return "", storeFailure(log, "join quiz", err)
	}

	s.Resume(teacherID)
	return teacherID, nil
}

// PendingAnswer returns an answer whose submission failed and can be retried.
func (s *QuizStudent) PendingAnswer(questionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.pending[questionID]
	return a, ok
}

func (s *QuizStudent) setPending(questionID, answer string) {
	s.mu.Lock()
	s.pending[questionID] = answer
	s.mu.Unlock()
}

func (s *QuizStudent) clearPending(questionID string) {
	s.mu.Lock()
	delete(s.pending, questionID)
	s.mu.Unlock()
}

// SubmitAnswer appends one answer. The first answer to a question wins; the
// write is conditional on the answers list the participant last read, so two
// concurrent submits from the same participant cannot both land.
func (s *QuizStudent) SubmitAnswer(ctx context.Context, questionID, answer string) error {
	if err := ValidateSubmission(questionID, answer); err != nil {
		return err
	}
	teacherID, ok := s.TeacherID()
	if !ok {
		return domain.ErrResponseNotFound
	}
	s.setPending(questionID, answer)

	log := s.log.WithFields(logrus.Fields{"teacher_id": teacherID, "question_id": questionID})
	err := s.submit(ctx, teacherID, questionID, answer, log)
	switch {
	case err == nil:
		s.clearPending(questionID)
	case errors.Is(err, domain.ErrStore), errors.Is(err, domain.ErrStaleState):
		// kept for retry
	default:
		s.clearPending(questionID)
	}
	return err
}

// ValidateSubmission checks submit input before any store access.
func ValidateSubmission(questionID, answer string) error {
	if questionID == "" {
		return domain.NewValidationError("questionId", "required")
	}
	return domain.ValidateAnswer(answer)
}

func (s *QuizStudent) submit(ctx context.Context, teacherID, questionID, answer string, log logrus.FieldLogger) error {
	session, err := s.session(ctx, teacherID)
	if err != nil {
		return err
	}
	question, index, ok := session.Question(questionID)
	if !ok {
		return domain.ErrQuestionNotFound
	}
	if err := session.AcceptsAnswer(index); err != nil {
		return err
	}

	path := responsePath(teacherID, s.uid)
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		doc, err := s.store.Get(ctx, path)
		if errors.Is(err, docstore.ErrNotFound) {
			return domain.ErrResponseNotFound
		}
		if err != nil {
			return storeFailure(log, "submit answer", err)
		}
		response, err := decode[domain.QuizResponse](doc)
		if err != nil {
			return storeFailure(log, "submit answer", err)
		}
		if _, dup := response.Answer(questionID); dup {
			s.observeAnswer("duplicate")
			return domain.ErrAlreadyAnswered
		}

		now := s.now()
		answers := append(append([]domain.ResponseAnswer{}, response.Answers...), domain.ResponseAnswer{
			QuestionID: questionID,
			Answer:     answer,
			AnsweredAt: now,
		})
		fields := docstore.Fields{"answers": answers}
		switch {
		case response.Status == domain.ResponseCompleted:
		case len(answers) >= session.TotalQuestions:
			fields["status"] = domain.ResponseCompleted
			fields["submittedAt"] = now
		default:
			fields["status"] = domain.ResponseInProgress
		}

		err = s.store.PatchIf(ctx, path, fields, docstore.Eq("answers", rawField(doc, "answers")))
		switch {
		case err == nil:
			result := "incorrect"
			if domain.GradeAnswer(question, answer) {
				result = "correct"
			}
			s.observeAnswer(result)
			log.WithField("answers", len(answers)).Debug("answer recorded")
			return nil
		case errors.Is(err, docstore.ErrNotFound):
			return domain.ErrResponseNotFound
		case !errors.Is(err, docstore.ErrConditionFailed):
			return storeFailure(log, "submit answer", err)
		}
	}
	return domain.ErrStaleState
}

// rawField returns a field exactly as stored so a precondition compares the
// same JSON the participant read. A missing field compares as null.
func rawField(doc docstore.Document, field string) json.RawMessage {
	if raw, ok := doc.Data[field]; ok {
		return raw
	}
	return json.RawMessage("null")
}

// RecordTabSwitchWarning increments the participant's tab-switch counter and
// returns the new count. Warnings are advisory and never reset.
func (s *QuizStudent) RecordTabSwitchWarning(ctx context.Context) (int, error) {
	teacherID, ok := s.TeacherID()
	if !ok {
		return 0, domain.ErrResponseNotFound
	}
	log := s.log.WithField("teacher_id", teacherID)
	path := responsePath(teacherID, s.uid)
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		doc, err := s.store.Get(ctx, path)
		if errors.Is(err, docstore.ErrNotFound) {
			return 0, domain.ErrResponseNotFound
		}
		if err != nil {
			return 0, storeFailure(log, "record tab switch", err)
		}
		response, err := decode[domain.QuizResponse](doc)
		if err != nil {
			return 0, storeFailure(log, "record tab switch", err)
		}
		next := response.TabSwitchWarnings + 1
		err = s.store.PatchIf(ctx, path,
			docstore.Fields{"tabSwitchWarnings": next},
			docstore.Eq("tabSwitchWarnings", rawField(doc, "tabSwitchWarnings")),
		)
		if err == nil {
			log.WithField("warnings", next).Info("tab switch recorded")
			return next, nil
		}
		if !errors.Is(err, docstore.ErrConditionFailed) {
			return 0, storeFailure(log, "record tab switch", err)
		}
	}
	return 0, domain.ErrStaleState
}

// CompleteQuiz marks the response completed even when questions were skipped,
// which is how a late joiner finishes. Completing twice keeps the first
// submission time.
func (s *QuizStudent) CompleteQuiz(ctx context.Context) error {
	teacherID, ok := s.TeacherID()
	if !ok {
		return domain.ErrResponseNotFound
	}
	log := s.log.WithField("teacher_id", teacherID)
	err := s.store.PatchIf(ctx, responsePath(teacherID, s.uid), docstore.Fields{
		"status":      domain.ResponseCompleted,
		"submittedAt": s.now(),
	}, docstore.Eq("submittedAt", nil))
	switch {
	case err == nil, errors.Is(err, docstore.ErrConditionFailed):
		return nil
	case errors.Is(err, docstore.ErrNotFound):
		return domain.ErrResponseNotFound
	default:
		return storeFailure(log, "complete quiz", err)
	}
}

// Response returns the participant's own response.
func (s *QuizStudent) Response(ctx context.Context) (domain.QuizResponse, error) {
	teacherID, ok := s.TeacherID()
	if !ok {
		return domain.QuizResponse{}, domain.ErrResponseNotFound
	}
	doc, err := s.store.Get(ctx, responsePath(teacherID, s.uid))
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.QuizResponse{}, domain.ErrResponseNotFound
	}
	if err != nil {
		return domain.QuizResponse{}, storeFailure(s.log, "get response", err)
	}
	response, err := decode[domain.QuizResponse](doc)
	if err != nil {
		return domain.QuizResponse{}, storeFailure(s.log, "get response", err)
	}
	return response, nil
}

func (s *QuizStudent) session(ctx context.Context, teacherID string) (domain.QuizSession, error) {
	doc, err := s.store.Get(ctx, quizSessionPath(teacherID))
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.QuizSession{}, storeFailure(s.log, "get quiz session", err)
	}
	session, err := decode[domain.QuizSession](doc)
	if err != nil {
		return domain.QuizSession{}, storeFailure(s.log, "get quiz session", err)
	}
	return session, nil
}

// QuizStudentView is what a participant's screen renders. The session is
// redacted so correct answers never reach the participant.
type QuizStudentView struct {
	Session  *domain.StudentSessionView `json:"session"`
	Response *domain.QuizResponse       `json:"response"`
	Ended    bool                       `json:"ended"`
}

// Watch streams the redacted session together with the participant's response.
func (s *QuizStudent) Watch(ctx context.Context) (<-chan QuizStudentView, func(), error) {
	teacherID, ok := s.TeacherID()
	if !ok {
		return nil, nil, domain.ErrResponseNotFound
	}
	log := s.log.WithField("teacher_id", teacherID)
	wctx, cancel := context.WithCancel(ctx)
	sessions, _, err := s.store.Subscribe(wctx, quizSessionPath(teacherID))
	if err != nil {
		cancel()
		return nil, nil, storeFailure(log, "watch quiz session", err)
	}
	self, _, err := s.store.Subscribe(wctx, responsePath(teacherID, s.uid))
	if err != nil {
		cancel()
		return nil, nil, storeFailure(log, "watch response", err)
	}

	views := streamPair(sessions, self, func(a, b docstore.Snapshot) QuizStudentView {
		view := QuizStudentView{Response: decodeSnapshot[domain.QuizResponse](log, b), Ended: true}
		if session := decodeSnapshot[domain.QuizSession](log, a); session != nil {
			sv := session.ForStudent()
			view.Session = &sv
			view.Ended = session.Status == domain.QuizEnded
		}
		return view
	})
	return views, cancel, nil
}
