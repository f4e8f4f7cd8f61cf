package http

import (
	"context"
	"encoding/json"
	"net/http"

	"liveboard/internal/app"
	"liveboard/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

func errorMessage(err error) outboundMessage {
	_, body := errorPayload(err)
	return outboundMessage{Type: "error", Payload: body}
}

var errUnsupportedMessage = domain.NewValidationError("type", "unsupported message type")

// inboundHandler answers one client message with zero or more replies.
type inboundHandler func(ctx context.Context, msg inboundMessage) []outboundMessage

// runSocket pumps views to the client as viewType messages and dispatches
// client messages to handle until the client goes away. Exactly one goroutine
// writes to conn.
func runSocket[V any](ctx context.Context, conn *websocket.Conn, log logrus.FieldLogger, viewType string, views <-chan V, handle inboundHandler) {
	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.WithError(err).Debug("ws write")
				// unblocks the read loop below
				_ = conn.Close()
				return
			}
		}
	}()

	emit := func(msg outboundMessage) bool {
		select {
		case send <- msg:
			return true
		case <-writerDone:
			return false
		case <-closeSignals:
			return false
		}
	}

	go func() {
		defer close(updatesDone)
		for {
			select {
			case v, ok := <-views:
				if !ok {
					emit(outboundMessage{Type: "closed"})
					return
				}
				if !emit(outboundMessage{Type: viewType, Payload: v}) {
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		var replies []outboundMessage
		if handle == nil {
			replies = []outboundMessage{errorMessage(errUnsupportedMessage)}
		} else {
			replies = handle(ctx, msg)
		}
		for _, reply := range replies {
			emit(reply)
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *Handler) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return nil, false
	}
	return conn, true
}

// broadcastWS streams the teacher monitor when a teacher id is given, else the
// student screen of the joined student.
func (h *Handler) broadcastWS(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if teacherID(r) != "" {
		teacher := h.broadcastTeacher(r)
		views, stop, err := teacher.Watch(ctx)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		defer stop()
		conn, ok := h.upgrade(w, r)
		if !ok {
			return
		}
		defer conn.Close()
		runSocket(ctx, conn, h.log, "broadcast", views, nil)
		return
	}

	student, err := h.broadcastStudent(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	views, stop, err := student.Watch(ctx)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	defer stop()
	conn, ok := h.upgrade(w, r)
	if !ok {
		return
	}
	defer conn.Close()
	runSocket(ctx, conn, h.log, "broadcast", views, func(ctx context.Context, msg inboundMessage) []outboundMessage {
		if msg.Type != "heartbeat" {
			return []outboundMessage{errorMessage(errUnsupportedMessage)}
		}
		if err := student.Touch(ctx); err != nil {
			return []outboundMessage{errorMessage(err)}
		}
		return nil
	})
}

// quizWS streams the quiz monitor to a teacher and keeps the auto-progressor
// running while the teacher is connected. Participants get their redacted
// session and can answer over the same socket.
func (h *Handler) quizWS(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if teacherID(r) != "" {
		teacher := h.quizTeacher(r)
		views, stop, err := teacher.Watch(ctx)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		defer stop()
		conn, ok := h.upgrade(w, r)
		if !ok {
			return
		}
		defer conn.Close()

		go func() {
			if err := teacher.RunAutoProgress(ctx); err != nil {
				h.log.WithError(err).Warn("auto-progress stopped")
			}
		}()
		runSocket(ctx, conn, h.log, "quiz", views, h.quizTeacherCommands(teacher))
		return
	}

	student, err := h.quizStudent(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	views, stop, err := student.Watch(ctx)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	defer stop()
	conn, ok := h.upgrade(w, r)
	if !ok {
		return
	}
	defer conn.Close()
	runSocket(ctx, conn, h.log, "quiz", views, h.quizStudentCommands(student))
}

func (h *Handler) quizTeacherCommands(teacher *app.QuizTeacher) inboundHandler {
	return func(ctx context.Context, msg inboundMessage) []outboundMessage {
		var err error
		switch msg.Type {
		case "advance":
			_, err = teacher.AdvanceQuestion(ctx)
		case "end":
			err = teacher.EndQuizSession(ctx)
		case "results":
			results, rerr := teacher.Results(ctx)
			if rerr != nil {
				return []outboundMessage{errorMessage(rerr)}
			}
			return []outboundMessage{{Type: "results", Payload: results}}
		default:
			err = errUnsupportedMessage
		}
		if err != nil {
			return []outboundMessage{errorMessage(err)}
		}
		return nil
	}
}

type answerResult struct {
	QuestionID string `json:"questionId"`
	Accepted   bool   `json:"accepted"`
}

func (h *Handler) quizStudentCommands(student *app.QuizStudent) inboundHandler {
	return func(ctx context.Context, msg inboundMessage) []outboundMessage {
		switch msg.Type {
		case "answer":
			var req answerRequest
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				return []outboundMessage{errorMessage(domain.NewValidationError("payload", "invalid answer payload"))}
			}
			if err := student.SubmitAnswer(ctx, req.QuestionID, req.Answer); err != nil {
				_, body := errorPayload(err)
				if pending, ok := student.PendingAnswer(req.QuestionID); ok {
					body.PendingAnswer = pending
				}
				return []outboundMessage{{Type: "error", Payload: body}}
			}
			return []outboundMessage{{Type: "answerResult", Payload: answerResult{QuestionID: req.QuestionID, Accepted: true}}}
		case "tabSwitch":
			n, err := student.RecordTabSwitchWarning(ctx)
			if err != nil {
				return []outboundMessage{errorMessage(err)}
			}
			return []outboundMessage{{Type: "tabSwitch", Payload: tabSwitchResponse{Warnings: n}}}
		case "complete":
			if err := student.CompleteQuiz(ctx); err != nil {
				return []outboundMessage{errorMessage(err)}
			}
			return []outboundMessage{{Type: "completed"}}
		}
		return []outboundMessage{errorMessage(errUnsupportedMessage)}
	}
}
