package app

import (
	"context"
	"errors"
	"sync"

	"liveboard/internal/docstore"
	"liveboard/internal/domain"

	"github.com/sirupsen/logrus"
)

// Membership identifies a joined student: the session owner and the roster id.
type Membership struct {
	TeacherID string `json:"teacherId"`
	StudentID string `json:"studentId"`
}

// BroadcastStudent is one student's side of a broadcast session.
type BroadcastStudent struct {
	store   docstore.Store
	authUID string
	settings

	mu         sync.RWMutex
	membership Membership
}

func NewBroadcastStudent(store docstore.Store, authUID string, opts ...Option) *BroadcastStudent {
	return &BroadcastStudent{store: store, authUID: authUID, settings: newSettings(opts)}
}

// Resume re-attaches to a roster entry created by an earlier JoinSession.
func (s *BroadcastStudent) Resume(m Membership) {
	s.mu.Lock()
	s.membership = m
	s.mu.Unlock()
}

func (s *BroadcastStudent) Membership() (Membership, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.membership, s.membership.StudentID != ""
}

// JoinSession resolves a join code to an active session, adds the student to
// its roster and returns the owning teacher id.
func (s *BroadcastStudent) JoinSession(ctx context.Context, name, rawCode string) (string, error) {
	req, err := domain.NewJoinRequest(name, rawCode)
	if err != nil {
		return "", err
	}
	log := s.log.WithField("code", req.Code)

	docs, err := s.store.Query(ctx, sessionsCollection, docstore.Eq("code", req.Code), docstore.Eq("isActive", true))
	if err != nil {
		return "", storeFailure(log, "join session", err)
	}
	if len(docs) == 0 {
		return "", domain.ErrSessionNotFound
	}
	teacherID := docs[0].ID

	now := s.now()
	student := domain.LiveStudent{
		ID:         s.ids(),
		Name:       req.Name,
		Status:     domain.StudentActive,
		JoinedAt:   now,
		LastActive: now,
		AuthUID:    s.authUID,
	}
	path := studentPath(teacherID, student.ID)
	if err := s.store.Put(ctx, path, student); err != nil {
		return "", storeFailure(log, "join session", err)
	}

	// an end that raced this join has already swept the roster
	if doc, err := s.store.Get(ctx, sessionPath(teacherID)); err == nil {
		if session, err := decode[domain.BroadcastSession](doc); err == nil && !session.IsActive {
			_ = s.store.Patch(ctx, path, docstore.Fields{"status": domain.StudentDisconnected})
			return "", domain.ErrSessionInactive
		}
	}

	s.Resume(Membership{TeacherID: teacherID, StudentID: student.ID})
	log.WithFields(logrus.Fields{"teacher_id": teacherID, "student_id": student.ID}).Info("student joined broadcast")
	return teacherID, nil
}

// Touch refreshes lastActive on the student's roster entry.
func (s *BroadcastStudent) Touch(ctx context.Context) error {
	m, ok := s.Membership()
	if !ok {
		return domain.ErrStudentNotFound
	}
	err := s.store.Patch(ctx, studentPath(m.TeacherID, m.StudentID), docstore.Fields{"lastActive": s.now()})
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.ErrStudentNotFound
	}
	if err != nil {
		return storeFailure(s.log.WithField("student_id", m.StudentID), "touch", err)
	}
	return nil
}

// BroadcastStudentView is what a student's screen renders.
type BroadcastStudentView struct {
	Session *domain.BroadcastSession `json:"session"`
	Student *domain.LiveStudent      `json:"student"`
	// Frozen is session.frozen OR student.status == frozen.
	Frozen bool `json:"frozen"`
	// Ended is set once the session is gone or inactive.
	Ended bool `json:"ended"`
}

// Watch streams the session together with the student's own roster entry.
func (s *BroadcastStudent) Watch(ctx context.Context) (<-chan BroadcastStudentView, func(), error) {
	m, ok := s.Membership()
	if !ok {
		return nil, nil, domain.ErrStudentNotFound
	}
	log := s.log.WithField("student_id", m.StudentID)
	wctx, cancel := context.WithCancel(ctx)
	sessions, _, err := s.store.Subscribe(wctx, sessionPath(m.TeacherID))
	if err != nil {
		cancel()
		return nil, nil, storeFailure(log, "watch session", err)
	}
	self, _, err := s.store.Subscribe(wctx, studentPath(m.TeacherID, m.StudentID))
	if err != nil {
		cancel()
		return nil, nil, storeFailure(log, "watch student", err)
	}

	views := streamPair(sessions, self, func(a, b docstore.Snapshot) BroadcastStudentView {
		session := decodeSnapshot[domain.BroadcastSession](log, a)
		student := decodeSnapshot[domain.LiveStudent](log, b)
		return BroadcastStudentView{
			Session: session,
			Student: student,
			Frozen:  domain.EffectiveFrozen(session, student),
			Ended:   session == nil || !session.IsActive,
		}
	})
	return views, cancel, nil
}
