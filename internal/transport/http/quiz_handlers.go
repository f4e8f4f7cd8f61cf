package http

import (
	"net/http"

	"liveboard/internal/app"
	"liveboard/internal/domain"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) quizRoutes(r chi.Router) {
	r.Post("/session", h.startQuiz)
	r.Get("/session", h.getQuizSession)
	r.Post("/session/advance", h.advanceQuestion)
	r.Post("/session/end", h.endQuiz)
	r.Get("/session/results", h.quizResults)
	r.Post("/join", h.joinQuiz)
	r.Post("/answer", h.submitAnswer)
	r.Post("/tab-switch", h.recordTabSwitch)
	r.Post("/complete", h.completeQuiz)
	r.Get("/ws", h.quizWS)
}

func (h *Handler) quizTeacher(r *http.Request) *app.QuizTeacher {
	return app.NewQuizTeacher(h.store, h.quizzes, teacherID(r), h.opts...)
}

func (h *Handler) quizStudent(r *http.Request) (*app.QuizStudent, error) {
	owner, uid := sessionOwner(r), studentID(r)
	if owner == "" {
		return nil, domain.NewValidationError(HeaderSessionOwner, "required")
	}
	if uid == "" {
		return nil, domain.NewValidationError(HeaderStudentID, "required")
	}
	s := app.NewQuizStudent(h.store, uid, h.opts...)
	s.Resume(owner)
	return s, nil
}

type startQuizRequest struct {
	QuizID string             `json:"quizId"`
	Quiz   *domain.Quiz       `json:"quiz"`
	Mode   domain.SessionMode `json:"mode"`
}

type startQuizResponse struct {
	Code string `json:"code"`
}

// startQuiz starts from an inline quiz definition or loads one by id.
func (h *Handler) startQuiz(w http.ResponseWriter, r *http.Request) {
	var req startQuizRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	teacher := h.quizTeacher(r)
	var (
		code string
		err  error
	)
	switch {
	case req.Quiz != nil:
		code, err = teacher.StartQuizSession(r.Context(), *req.Quiz, req.Mode)
	case req.QuizID != "":
		code, err = teacher.StartQuiz(r.Context(), req.QuizID, req.Mode)
	default:
		err = domain.NewValidationError("quizId", "quizId or quiz required")
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, startQuizResponse{Code: code})
}

func (h *Handler) getQuizSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.quizTeacher(r).Session(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) advanceQuestion(w http.ResponseWriter, r *http.Request) {
	session, err := h.quizTeacher(r).AdvanceQuestion(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) endQuiz(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, h.quizTeacher(r).EndQuizSession(r.Context()))
}

func (h *Handler) quizResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.quizTeacher(r).Results(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) joinQuiz(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
		Name string `json:"name"`
		PIN  string `json:"pin"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	student := app.NewQuizStudent(h.store, studentID(r), h.opts...)
	teacherID, err := student.JoinQuizSession(r.Context(), req.Code, req.Name, req.PIN)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, joinResponse{TeacherID: teacherID})
}

type answerRequest struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

// submitAnswer echoes a retryable answer back in the error body so the client
// never has to re-type it.
func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	student, err := h.quizStudent(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := student.SubmitAnswer(r.Context(), req.QuestionID, req.Answer); err != nil {
		status, body := errorPayload(err)
		if pending, ok := student.PendingAnswer(req.QuestionID); ok {
			body.PendingAnswer = pending
		}
		writeJSON(w, status, body)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tabSwitchResponse struct {
	Warnings int `json:"warnings"`
}

func (h *Handler) recordTabSwitch(w http.ResponseWriter, r *http.Request) {
	student, err := h.quizStudent(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	n, err := student.RecordTabSwitchWarning(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, tabSwitchResponse{Warnings: n})
}

func (h *Handler) completeQuiz(w http.ResponseWriter, r *http.Request) {
	student, err := h.quizStudent(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.noContent(w, student.CompleteQuiz(r.Context()))
}
