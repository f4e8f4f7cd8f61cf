package app

import (
	"context"

	"liveboard/internal/docstore"
	"liveboard/internal/domain"
)

// BroadcastTeacherView is what the teacher's monitor renders.
type BroadcastTeacherView struct {
	Session  *domain.BroadcastSession `json:"session"`
	Students []domain.LiveStudent     `json:"students"`
}

// Watch streams the session and, only while it is active, its roster. The
// roster subscription is dropped the moment an inactive session is observed
// and re-opened on the next active one; in between Students is empty.
func (t *BroadcastTeacher) Watch(ctx context.Context) (<-chan BroadcastTeacherView, func(), error) {
	if err := validID("teacherId", t.teacherID); err != nil {
		return nil, nil, err
	}
	wctx, cancel := context.WithCancel(ctx)
	sessions, _, err := t.store.Subscribe(wctx, sessionPath(t.teacherID))
	if err != nil {
		cancel()
		return nil, nil, storeFailure(t.log, "watch session", err)
	}

	out := make(chan BroadcastTeacherView, 1)
	go func() {
		defer close(out)
		var (
			view         BroadcastTeacherView
			roster       <-chan docstore.CollectionSnapshot
			cancelRoster = func() {}
		)
		defer func() { cancelRoster() }()

		for {
			select {
			case snap, ok := <-sessions:
				if !ok {
					return
				}
				view.Session = decodeSnapshot[domain.BroadcastSession](t.log, snap)
				active := view.Session != nil && view.Session.IsActive
				switch {
				case active && roster == nil:
					ch, stop, err := t.store.SubscribeCollection(wctx, studentsPath(t.teacherID))
					if err != nil {
						t.log.WithError(err).Warn("subscribe roster")
						break
					}
					roster, cancelRoster = ch, stop
					// the first roster snapshot follows immediately
					continue
				case !active && roster != nil:
					cancelRoster()
					roster, cancelRoster = nil, func() {}
					view.Students = nil
				}
			case snap, ok := <-roster:
				if !ok {
					roster, cancelRoster = nil, func() {}
					view.Students = nil
					break
				}
				view.Students = withIDs(decodeAll[domain.LiveStudent](t.log, snap.Docs), snap.Docs)
			}
			docstore.Offer(out, copyTeacherView(view))
		}
	}()
	return out, cancel, nil
}

func copyTeacherView(v BroadcastTeacherView) BroadcastTeacherView {
	students := make([]domain.LiveStudent, len(v.Students))
	copy(students, v.Students)
	return BroadcastTeacherView{Session: v.Session, Students: students}
}
