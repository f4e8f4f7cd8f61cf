package http

import (
	"encoding/json"
	"net/http"

	"liveboard/internal/app"
	"liveboard/internal/domain"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) broadcastRoutes(r chi.Router) {
	r.Post("/session", h.startSession)
	r.Patch("/session/config", h.updateSessionConfig)
	r.Patch("/session/background", h.updateSessionBackground)
	r.Post("/session/end", h.endSession)
	r.Get("/session", h.getSession)
	r.Post("/freeze", h.toggleGlobalFreeze)
	r.Post("/students/{studentID}/freeze", h.toggleFreezeStudent)
	r.Post("/join", h.joinSession)
	r.Post("/heartbeat", h.heartbeat)
	r.Get("/ws", h.broadcastWS)
}

func (h *Handler) broadcastTeacher(r *http.Request) *app.BroadcastTeacher {
	return app.NewBroadcastTeacher(h.store, teacherID(r), h.opts...)
}

// broadcastStudent rebuilds a joined student's manager from its identity headers.
func (h *Handler) broadcastStudent(r *http.Request) (*app.BroadcastStudent, error) {
	m := app.Membership{TeacherID: sessionOwner(r), StudentID: studentID(r)}
	if m.TeacherID == "" {
		return nil, domain.NewValidationError(HeaderSessionOwner, "required")
	}
	if m.StudentID == "" {
		return nil, domain.NewValidationError(HeaderStudentID, "required")
	}
	s := app.NewBroadcastStudent(h.store, m.StudentID, h.opts...)
	s.Resume(m)
	return s, nil
}

type startSessionRequest struct {
	WidgetID   string          `json:"widgetId"`
	WidgetType string          `json:"widgetType"`
	Config     json.RawMessage `json:"config"`
	Background string          `json:"background"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	session, err := h.broadcastTeacher(r).StartSession(r.Context(), req.WidgetID, req.WidgetType, req.Config, req.Background)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *Handler) updateSessionConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config json.RawMessage `json:"config"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.noContent(w, h.broadcastTeacher(r).UpdateSessionConfig(r.Context(), req.Config))
}

func (h *Handler) updateSessionBackground(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Background string `json:"background"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.noContent(w, h.broadcastTeacher(r).UpdateSessionBackground(r.Context(), req.Background))
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, h.broadcastTeacher(r).EndSession(r.Context()))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	teacher := h.broadcastTeacher(r)
	session, err := teacher.Session(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	students, err := teacher.Students(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, app.BroadcastTeacherView{Session: &session, Students: students})
}

func (h *Handler) toggleGlobalFreeze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Frozen bool `json:"frozen"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.noContent(w, h.broadcastTeacher(r).ToggleGlobalFreeze(r.Context(), req.Frozen))
}

func (h *Handler) toggleFreezeStudent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentStatus domain.StudentStatus `json:"currentStatus"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	err := h.broadcastTeacher(r).ToggleFreezeStudent(r.Context(), chi.URLParam(r, "studentID"), req.CurrentStatus)
	h.noContent(w, err)
}

type joinResponse struct {
	TeacherID string `json:"teacherId"`
	StudentID string `json:"studentId,omitempty"`
}

func (h *Handler) joinSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Code string `json:"code"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	student := app.NewBroadcastStudent(h.store, studentID(r), h.opts...)
	teacherID, err := student.JoinSession(r.Context(), req.Name, req.Code)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	m, _ := student.Membership()
	writeJSON(w, http.StatusCreated, joinResponse{TeacherID: teacherID, StudentID: m.StudentID})
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	student, err := h.broadcastStudent(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.noContent(w, student.Touch(r.Context()))
}

func (h *Handler) noContent(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
