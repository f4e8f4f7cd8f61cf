package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"liveboard/internal/docstore"
	"liveboard/internal/domain"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// BroadcastTeacher drives one teacher's live broadcast session.
type BroadcastTeacher struct {
	store     docstore.Store
	teacherID string
	settings
}

func NewBroadcastTeacher(store docstore.Store, teacherID string, opts ...Option) *BroadcastTeacher {
	s := newSettings(opts)
	s.log = s.log.WithField("teacher_id", teacherID)
	return &BroadcastTeacher{store: store, teacherID: teacherID, settings: s}
}

// StartSession goes live with a widget. Any previous session document for this
// teacher is replaced, so calling it again is a clean restart with a new code.
// The roster is kept: students who already joined stay subscribed by teacher id.
func (t *BroadcastTeacher) StartSession(ctx context.Context, widgetID, widgetType string, config json.RawMessage, background string) (domain.BroadcastSession, error) {
	if err := validID("teacherId", t.teacherID); err != nil {
		return domain.BroadcastSession{}, err
	}
	if widgetID == "" {
		return domain.BroadcastSession{}, domain.NewValidationError("widgetId", "required")
	}
	if len(config) > 0 && !json.Valid(config) {
		return domain.BroadcastSession{}, domain.NewValidationError("config", "must be valid JSON")
	}

	code, err := allocateCode(ctx, t.store, t.codes, sessionsCollection, t.teacherID, func(doc docstore.Document) bool {
		s, err := decode[domain.BroadcastSession](doc)
		return err == nil && s.IsActive
	})
	if err != nil {
		return domain.BroadcastSession{}, storeFailure(t.log, "start session", err)
	}

	id := widgetID
	session := domain.BroadcastSession{
		ID:                 t.teacherID,
		IsActive:           true,
		Code:               code,
		ActiveWidgetID:     &id,
		ActiveWidgetType:   widgetType,
		ActiveWidgetConfig: config,
		Background:         background,
		Frozen:             false,
		CreatedAt:          t.now(),
	}
	if err := t.store.Put(ctx, sessionPath(t.teacherID), session); err != nil {
		return domain.BroadcastSession{}, storeFailure(t.log, "start session", err)
	}
	t.log.WithFields(logrus.Fields{"code": code, "widget_id": widgetID}).Info("broadcast session started")
	return session, nil
}

// UpdateSessionConfig replaces only the widget config of a live session.
func (t *BroadcastTeacher) UpdateSessionConfig(ctx context.Context, config json.RawMessage) error {
	if len(config) > 0 && !json.Valid(config) {
		return domain.NewValidationError("config", "must be valid JSON")
	}
	return t.patchLive(ctx, "update session config", docstore.Fields{"activeWidgetConfig": config})
}

// UpdateSessionBackground replaces only the background of a live session.
func (t *BroadcastTeacher) UpdateSessionBackground(ctx context.Context, background string) error {
	return t.patchLive(ctx, "update session background", docstore.Fields{"background": background})
}

func (t *BroadcastTeacher) patchLive(ctx context.Context, op string, fields docstore.Fields) error {
	if err := validID("teacherId", t.teacherID); err != nil {
		return err
	}
	err := t.store.PatchIf(ctx, sessionPath(t.teacherID), fields, docstore.Eq("isActive", true))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, docstore.ErrNotFound):
		return domain.ErrSessionNotFound
	case errors.Is(err, docstore.ErrConditionFailed):
		return domain.ErrSessionInactive
	default:
		return storeFailure(t.log, op, err)
	}
}

// EndSession deactivates the session and disconnects every student. Each
// roster update is independent; failures are collected, logged and returned
// together after all students were attempted.
func (t *BroadcastTeacher) EndSession(ctx context.Context) error {
	if err := validID("teacherId", t.teacherID); err != nil {
		return err
	}
	err := t.store.Patch(ctx, sessionPath(t.teacherID), docstore.Fields{
		"isActive":       false,
		"activeWidgetId": nil,
		"frozen":         false,
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.ErrSessionNotFound
	}
	if err != nil {
		return storeFailure(t.log, "end session", err)
	}

	docs, err := t.store.Query(ctx, studentsPath(t.teacherID))
	if err != nil {
		return storeFailure(t.log, "end session: list students", err)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(fanOutLimit)
	for _, doc := range docs {
		student, err := decode[domain.LiveStudent](doc)
		if err == nil && student.Status == domain.StudentDisconnected {
			continue
		}
		studentID := doc.ID
		g.Go(func() error {
			err := t.store.Patch(ctx, studentPath(t.teacherID, studentID), docstore.Fields{"status": domain.StudentDisconnected})
			if err != nil && !errors.Is(err, docstore.ErrNotFound) {
				t.log.WithError(err).WithField("student_id", studentID).Warn("disconnect student")
				mu.Lock()
				errs = append(errs, fmt.Errorf("student %s: %w", studentID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return domain.StoreError("end session: disconnect students", errors.Join(errs...))
	}
	t.log.WithField("students", len(docs)).Info("broadcast session ended")
	return nil
}

// ToggleFreezeStudent flips a student between active and frozen. The write is
// conditional on currentStatus, so a retry after success is a no-op and a
// disconnected student is never touched.
func (t *BroadcastTeacher) ToggleFreezeStudent(ctx context.Context, studentID string, currentStatus domain.StudentStatus) error {
	if err := validID("teacherId", t.teacherID); err != nil {
		return err
	}
	if err := validID("studentId", studentID); err != nil {
		return err
	}
	var target domain.StudentStatus
	switch currentStatus {
	case domain.StudentActive:
		target = domain.StudentFrozen
	case domain.StudentFrozen:
		target = domain.StudentActive
	default:
		return domain.NewValidationError("status", "must be active or frozen")
	}

	path := studentPath(t.teacherID, studentID)
	err := t.store.PatchIf(ctx, path, docstore.Fields{"status": target}, docstore.Eq("status", currentStatus))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, docstore.ErrNotFound):
		return domain.ErrStudentNotFound
	case !errors.Is(err, docstore.ErrConditionFailed):
		return storeFailure(t.log.WithField("student_id", studentID), "toggle student freeze", err)
	}

	doc, err := t.store.Get(ctx, path)
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.ErrStudentNotFound
	}
	if err != nil {
		return storeFailure(t.log.WithField("student_id", studentID), "toggle student freeze", err)
	}
	student, err := decode[domain.LiveStudent](doc)
	if err != nil {
		return storeFailure(t.log.WithField("student_id", studentID), "toggle student freeze", err)
	}
	switch student.Status {
	case domain.StudentDisconnected:
		return domain.ErrStudentDisconnected
	case target:
		return nil
	default:
		return domain.ErrStaleState
	}
}

// ToggleGlobalFreeze sets the session-wide freeze. Unfreezing an inactive
// session is a no-op because ending already cleared the flag.
func (t *BroadcastTeacher) ToggleGlobalFreeze(ctx context.Context, freeze bool) error {
	err := t.patchLive(ctx, "toggle global freeze", docstore.Fields{"frozen": freeze})
	if !freeze && errors.Is(err, domain.ErrSessionInactive) {
		return nil
	}
	return err
}

// Session returns the current session document.
func (t *BroadcastTeacher) Session(ctx context.Context) (domain.BroadcastSession, error) {
	if err := validID("teacherId", t.teacherID); err != nil {
		return domain.BroadcastSession{}, err
	}
	doc, err := t.store.Get(ctx, sessionPath(t.teacherID))
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.BroadcastSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.BroadcastSession{}, storeFailure(t.log, "get session", err)
	}
	session, err := decode[domain.BroadcastSession](doc)
	if err != nil {
		return domain.BroadcastSession{}, storeFailure(t.log, "get session", err)
	}
	return session, nil
}

// Students lists the roster ordered by id.
func (t *BroadcastTeacher) Students(ctx context.Context) ([]domain.LiveStudent, error) {
	if err := validID("teacherId", t.teacherID); err != nil {
		return nil, err
	}
	docs, err := t.store.Query(ctx, studentsPath(t.teacherID))
	if err != nil {
		return nil, storeFailure(t.log, "list students", err)
	}
	return withIDs(decodeAll[domain.LiveStudent](t.log, docs), docs), nil
}

// withIDs fills LiveStudent.ID from the document id when the stored copy lacks it.
func withIDs(students []domain.LiveStudent, docs []docstore.Document) []domain.LiveStudent {
	if len(students) != len(docs) {
		return students
	}
	for i := range students {
		if students[i].ID == "" {
			students[i].ID = docs[i].ID
		}
	}
	return students
}
