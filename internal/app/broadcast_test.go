package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"liveboard/internal/app"
	"liveboard/internal/docstore"
	"liveboard/internal/domain"
	"liveboard/internal/infra/memory"
)

func TestStartSessionTwiceLeavesOnlySecondPayload(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	teacher := app.NewBroadcastTeacher(store, "t1", codes("AAA111", "BBB222"))

	first, err := teacher.StartSession(ctx, "w1", "timer", json.RawMessage(`{"seconds":30}`), "blue")
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	second, err := teacher.StartSession(ctx, "w2", "poll", json.RawMessage(`{"question":"?"}`), "")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if first.Code != "AAA111" || second.Code != "BBB222" {
		t.Fatalf("expected fresh codes, got %q then %q", first.Code, second.Code)
	}

	views, cancel, err := teacher.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()
	view := waitFor(t, views, func(v app.BroadcastTeacherView) bool { return v.Session != nil })
	s := view.Session
	if !s.IsActive || s.Frozen || s.Code != "BBB222" || *s.ActiveWidgetID != "w2" || s.ActiveWidgetType != "poll" {
		t.Fatalf("unexpected session after restart: %+v", s)
	}
	if string(s.ActiveWidgetConfig) != `{"question":"?"}` || s.Background != "" {
		t.Fatalf("stale payload leaked: config=%s background=%q", s.ActiveWidgetConfig, s.Background)
	}
}

func TestStartSessionSkipsCodesHeldByOtherTeachers(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	other := app.NewBroadcastTeacher(store, "t2", codes("AAA111"))
	if _, err := other.StartSession(ctx, "w", "timer", nil, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	teacher := app.NewBroadcastTeacher(store, "t1", codes("AAA111", "CCC333"))
	session, err := teacher.StartSession(ctx, "w", "timer", nil, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if session.Code != "CCC333" {
		t.Fatalf("expected collision to be skipped, got %s", session.Code)
	}
}

func TestStartSessionRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	teacher := app.NewBroadcastTeacher(newStore(), "t1")
	if _, err := teacher.StartSession(ctx, "", "timer", nil, ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty widget, got %v", err)
	}
	if _, err := teacher.StartSession(ctx, "w", "timer", json.RawMessage(`{`), ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for bad config, got %v", err)
	}
	bad := app.NewBroadcastTeacher(newStore(), "a/b")
	if _, err := bad.StartSession(ctx, "w", "timer", nil, ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for teacher id, got %v", err)
	}
}

func TestPartialUpdatesKeepLiveFlags(t *testing.T) {
	ctx := context.Background()
	teacher := app.NewBroadcastTeacher(newStore(), "t1", codes("AAA111"))

	if err := teacher.UpdateSessionConfig(ctx, json.RawMessage(`{}`)); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found before start, got %v", err)
	}
	if _, err := teacher.StartSession(ctx, "w1", "timer", nil, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := teacher.ToggleGlobalFreeze(ctx, true); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if err := teacher.UpdateSessionConfig(ctx, json.RawMessage(`{"seconds":10}`)); err != nil {
		t.Fatalf("update config: %v", err)
	}
	if err := teacher.UpdateSessionBackground(ctx, "green"); err != nil {
		t.Fatalf("update background: %v", err)
	}
	s, err := teacher.Session(ctx)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if !s.IsActive || !s.Frozen || s.Background != "green" || string(s.ActiveWidgetConfig) != `{"seconds":10}` {
		t.Fatalf("partial update clobbered fields: %+v", s)
	}

	if err := teacher.EndSession(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := teacher.UpdateSessionBackground(ctx, "red"); !errors.Is(err, domain.ErrSessionInactive) {
		t.Fatalf("expected inactive error, got %v", err)
	}
	if err := teacher.ToggleGlobalFreeze(ctx, false); err != nil {
		t.Fatalf("unfreezing an ended session should be a no-op, got %v", err)
	}
	if err := teacher.ToggleGlobalFreeze(ctx, true); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestJoinSessionNormalizesCode(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	teacher := app.NewBroadcastTeacher(store, "t1", codes("ABC123"))
	if _, err := teacher.StartSession(ctx, "w1", "timer", nil, ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	for _, raw := range []string{"  a-b c123 ", "ABC123"} {
		student := app.NewBroadcastStudent(store, "uid-"+raw)
		teacherID, err := student.JoinSession(ctx, "  Ada   Lovelace ", raw)
		if err != nil {
			t.Fatalf("join %q: %v", raw, err)
		}
		if teacherID != "t1" {
			t.Fatalf("join %q resolved to %q", raw, teacherID)
		}
	}

	students, err := teacher.Students(ctx)
	if err != nil {
		t.Fatalf("students: %v", err)
	}
	if len(students) != 2 {
		t.Fatalf("expected 2 students, got %d", len(students))
	}
	for _, s := range students {
		if s.Name != "Ada Lovelace" || s.Status != domain.StudentActive || s.ID == "" {
			t.Fatalf("unexpected roster entry %+v", s)
		}
	}
}

func TestJoinSessionRejections(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	teacher := app.NewBroadcastTeacher(store, "t1", codes("ABC123"))
	if _, err := teacher.StartSession(ctx, "w1", "timer", nil, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	student := app.NewBroadcastStudent(store, "u1")

	if _, err := student.JoinSession(ctx, "Ada", "ZZZ999"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := student.JoinSession(ctx, "Ada", "--"); !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if _, err := student.JoinSession(ctx, "   ", "ABC123"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected name validation error, got %v", err)
	}
	if _, ok := student.Membership(); ok {
		t.Fatalf("failed joins must not bind a membership")
	}

	if err := teacher.EndSession(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := student.JoinSession(ctx, "Ada", "ABC123"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ended session to be unjoinable, got %v", err)
	}
}

func TestFreezeTogglesAndEffectiveFreeze(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	teacher := app.NewBroadcastTeacher(store, "t1", codes("ABC123"))
	if _, err := teacher.StartSession(ctx, "w1", "timer", nil, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	student := app.NewBroadcastStudent(store, "u1", app.WithIDGenerator(func() string { return "s1" }))
	if _, err := student.JoinSession(ctx, "Ada", "ABC123"); err != nil {
		t.Fatalf("join: %v", err)
	}

	views, cancel, err := student.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()
	waitFor(t, views, func(v app.BroadcastStudentView) bool { return v.Student != nil && !v.Frozen })

	if err := teacher.ToggleFreezeStudent(ctx, "s1", domain.StudentActive); err != nil {
		t.Fatalf("freeze student: %v", err)
	}
	// a retry of the same absolute write is harmless
	if err := teacher.ToggleFreezeStudent(ctx, "s1", domain.StudentActive); err != nil {
		t.Fatalf("retry freeze student: %v", err)
	}
	waitFor(t, views, func(v app.BroadcastStudentView) bool { return v.Frozen && v.Student.Status == domain.StudentFrozen })

	if err := teacher.ToggleGlobalFreeze(ctx, true); err != nil {
		t.Fatalf("global freeze: %v", err)
	}
	waitFor(t, views, func(v app.BroadcastStudentView) bool { return v.Session.Frozen })
	if err := teacher.ToggleFreezeStudent(ctx, "s1", domain.StudentFrozen); err != nil {
		t.Fatalf("unfreeze student: %v", err)
	}
	// global freeze still applies
	v := waitFor(t, views, func(v app.BroadcastStudentView) bool { return v.Student.Status == domain.StudentActive })
	if !v.Frozen {
		t.Fatalf("global freeze must keep the student blocked")
	}
	if err := teacher.ToggleGlobalFreeze(ctx, false); err != nil {
		t.Fatalf("global unfreeze: %v", err)
	}
	waitFor(t, views, func(v app.BroadcastStudentView) bool { return !v.Frozen })

	if err := teacher.ToggleFreezeStudent(ctx, "nobody", domain.StudentActive); !errors.Is(err, domain.ErrStudentNotFound) {
		t.Fatalf("expected student not found, got %v", err)
	}
	if err := teacher.ToggleFreezeStudent(ctx, "s1", domain.StudentDisconnected); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if err := teacher.EndSession(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}
	v = waitFor(t, views, func(v app.BroadcastStudentView) bool {
		return v.Ended && v.Student.Status == domain.StudentDisconnected
	})
	if v.Frozen {
		t.Fatalf("ending clears the global freeze")
	}
	if err := teacher.ToggleFreezeStudent(ctx, "s1", domain.StudentActive); !errors.Is(err, domain.ErrStudentDisconnected) {
		t.Fatalf("expected disconnected error, got %v", err)
	}
}

func TestEndSessionDisconnectsEveryStudent(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	teacher := app.NewBroadcastTeacher(store, "t1", codes("ABC123"))
	if _, err := teacher.StartSession(ctx, "w1", "timer", nil, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i, name := range []string{"Ada", "Grace", "Linus"} {
		id := string(rune('a' + i))
		s := app.NewBroadcastStudent(store, "u-"+id, app.WithIDGenerator(func() string { return id }))
		if _, err := s.JoinSession(ctx, name, "ABC123"); err != nil {
			t.Fatalf("join %s: %v", name, err)
		}
	}
	if err := teacher.ToggleFreezeStudent(ctx, "b", domain.StudentActive); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	if err := teacher.EndSession(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}
	session, err := teacher.Session(ctx)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if session.IsActive || session.Frozen || session.ActiveWidgetID != nil {
		t.Fatalf("unexpected ended session %+v", session)
	}
	students, _ := teacher.Students(ctx)
	for _, s := range students {
		if s.Status != domain.StudentDisconnected {
			t.Fatalf("student %s left in %s", s.ID, s.Status)
		}
	}
}

// failingPatches fails Patch for paths containing one of the given fragments.
type failingPatches struct {
	*memory.DocStore
	fail []string
}

func (f *failingPatches) Patch(ctx context.Context, path string, fields docstore.Fields) error {
	for _, frag := range f.fail {
		if strings.Contains(path, frag) {
			return errors.New("quota exceeded")
		}
	}
	return f.DocStore.Patch(ctx, path, fields)
}

func TestEndSessionFanOutIsBestEffort(t *testing.T) {
	ctx := context.Background()
	store := &failingPatches{DocStore: newStore(), fail: []string{"/students/b"}}
	teacher := app.NewBroadcastTeacher(store, "t1", codes("ABC123"))
	if _, err := teacher.StartSession(ctx, "w1", "timer", nil, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		s := app.NewBroadcastStudent(store, "u-"+id, app.WithIDGenerator(func() string { return id }))
		if _, err := s.JoinSession(ctx, "Student "+id, "ABC123"); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}

	err := teacher.EndSession(ctx)
	if !errors.Is(err, domain.ErrStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	students, _ := teacher.Students(ctx)
	for _, s := range students {
		want := domain.StudentDisconnected
		if s.ID == "b" {
			want = domain.StudentActive
		}
		if s.Status != want {
			t.Fatalf("student %s: expected %s, got %s", s.ID, want, s.Status)
		}
	}
}

func TestTeacherWatchOnlySubscribesRosterWhileActive(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	teacher := app.NewBroadcastTeacher(store, "t1", codes("ABC123", "DEF456"))
	roster := "sessions/t1/students"

	views, cancel, err := teacher.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()
	waitFor(t, views, func(v app.BroadcastTeacherView) bool { return v.Session == nil })
	if n := store.CollectionSubscribers(roster); n != 0 {
		t.Fatalf("no roster subscription expected without a session, got %d", n)
	}

	if _, err := teacher.StartSession(ctx, "w1", "timer", nil, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	student := app.NewBroadcastStudent(store, "u1")
	if _, err := student.JoinSession(ctx, "Ada", "ABC123"); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, views, func(v app.BroadcastTeacherView) bool { return len(v.Students) == 1 })
	eventually(t, func() bool { return store.CollectionSubscribers(roster) == 1 }, "roster subscribed while active")

	if err := teacher.EndSession(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}
	v := waitFor(t, views, func(v app.BroadcastTeacherView) bool { return v.Session != nil && !v.Session.IsActive })
	if len(v.Students) != 0 {
		t.Fatalf("roster must be dropped once inactive, got %d", len(v.Students))
	}
	eventually(t, func() bool { return store.CollectionSubscribers(roster) == 0 }, "roster released when inactive")

	if _, err := teacher.StartSession(ctx, "w2", "poll", nil, ""); err != nil {
		t.Fatalf("restart: %v", err)
	}
	eventually(t, func() bool { return store.CollectionSubscribers(roster) == 1 }, "roster re-subscribed on restart")

	cancel()
	eventually(t, func() bool { return store.CollectionSubscribers(roster) == 0 }, "cancel releases everything")
}

func TestTouchRefreshesLastActive(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	clock := newFakeClock()
	teacher := app.NewBroadcastTeacher(store, "t1", codes("ABC123"))
	if _, err := teacher.StartSession(ctx, "w1", "timer", nil, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	student := app.NewBroadcastStudent(store, "u1", app.WithClock(clock.Now))
	if err := student.Touch(ctx); !errors.Is(err, domain.ErrStudentNotFound) {
		t.Fatalf("expected not found before join, got %v", err)
	}
	if _, err := student.JoinSession(ctx, "Ada", "ABC123"); err != nil {
		t.Fatalf("join: %v", err)
	}
	clock.Advance(time.Minute)
	if err := student.Touch(ctx); err != nil {
		t.Fatalf("touch: %v", err)
	}
	students, _ := teacher.Students(ctx)
	if len(students) != 1 || !students[0].LastActive.Equal(clock.Now()) || !students[0].JoinedAt.Equal(clock.Now().Add(-time.Minute)) {
		t.Fatalf("unexpected timestamps %+v", students)
	}

	resumed := app.NewBroadcastStudent(store, "u1")
	m, _ := student.Membership()
	resumed.Resume(m)
	if err := resumed.Touch(ctx); err != nil {
		t.Fatalf("resumed touch: %v", err)
	}
}
