package app

import (
	"context"
	"errors"
	"time"

	"liveboard/internal/domain"
)

// RunAutoProgress drives an auto-paced quiz from the teacher's side until ctx
// is done. A question moves on once its countdown has elapsed and either every
// participant answered or the question's time limit ran out. Questions without
// a time limit wait for all answers.
//
// The teacher's manual advance and this loop go through the same conditional
// write, so at most one of them wins for any given question.
func (t *QuizTeacher) RunAutoProgress(ctx context.Context) error {
	views, cancel, err := t.Watch(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	var latest QuizTeacherView
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-views:
			if !ok {
				return nil
			}
			latest = v
		case <-ticker.C:
		}
		if !t.shouldAdvance(latest) {
			continue
		}
		if _, err := t.advanceFrom(ctx, *latest.Session); err != nil {
			if errors.Is(err, domain.ErrStaleState) || errors.Is(err, domain.ErrQuizEnded) {
				continue
			}
			t.log.WithError(err).Warn("auto-progress")
		}
	}
}

func (t *QuizTeacher) shouldAdvance(v QuizTeacherView) bool {
	s := v.Session
	if s == nil || s.SessionMode != domain.ModeAuto || s.Status != domain.QuizActive || s.AutoProgressAt == nil {
		return false
	}
	now := t.now()
	if now.Before(*s.AutoProgressAt) {
		return false
	}
	q, ok := s.CurrentQuestion()
	if !ok {
		return false
	}
	if domain.AllAnswered(q.ID, v.Responses) {
		return true
	}
	deadline, ok := s.QuestionDeadline()
	return ok && !now.Before(deadline)
}
