package domain

import (
	"errors"
	"testing"
	"time"
)

func twoQuestionQuiz() Quiz {
	return Quiz{
		ID:    "geo",
		Title: "Geo",
		Questions: []QuizQuestion{
			{ID: "q1", Text: "Capital of France?", Type: QuestionMC, CorrectAnswer: "Paris", IncorrectAnswers: []string{"Rome", "Madrid"}},
			{ID: "q2", Text: "3 + 4?", Type: QuestionMC, CorrectAnswer: "7", IncorrectAnswers: []string{"5", "9"}, TimeLimit: 20},
		},
	}
}

func TestAdvanceWalksTheStateMachine(t *testing.T) {
	now := time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)
	s := NewQuizSession("t1", "ABC123", twoQuestionQuiz(), ModeTeacher)
	if s.Status != QuizWaiting || s.CurrentQuestionIndex != -1 || s.TotalQuestions != 2 {
		t.Fatalf("unexpected new session %+v", s)
	}

	s, err := s.Advance(now, time.Second)
	if err != nil || s.Status != QuizActive || s.CurrentQuestionIndex != 0 || !s.StartedAt.Equal(now) {
		t.Fatalf("waiting -> active(0) failed: %v %+v", err, s)
	}
	if s.AutoProgressAt != nil {
		t.Fatalf("teacher-paced sessions have no countdown")
	}

	later := now.Add(time.Minute)
	s, err = s.Advance(later, time.Second)
	if err != nil || s.CurrentQuestionIndex != 1 || !s.QuestionStartedAt.Equal(later) || !s.StartedAt.Equal(now) {
		t.Fatalf("active(0) -> active(1) failed: %v %+v", err, s)
	}
	deadline, ok := s.QuestionDeadline()
	if !ok || !deadline.Equal(later.Add(20*time.Second)) {
		t.Fatalf("unexpected question deadline %v %v", deadline, ok)
	}

	s, err = s.Advance(later.Add(time.Minute), time.Second)
	if err != nil || s.Status != QuizEnded || s.CurrentQuestionIndex != 1 || s.EndedAt == nil {
		t.Fatalf("advance past the last question should end and keep the index: %v %+v", err, s)
	}
	if _, err := s.Advance(later, time.Second); !errors.Is(err, ErrQuizEnded) || !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on ended session, got %v", err)
	}
}

func TestAutoModeSetsCountdown(t *testing.T) {
	now := time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)
	s := NewQuizSession("t1", "ABC123", twoQuestionQuiz(), ModeAuto)
	s, _ = s.Advance(now, 5*time.Second)
	if s.AutoProgressAt == nil || !s.AutoProgressAt.Equal(now.Add(5*time.Second)) {
		t.Fatalf("expected countdown, got %v", s.AutoProgressAt)
	}
	ended := s.End(now.Add(time.Second))
	if ended.AutoProgressAt != nil || ended.Status != QuizEnded {
		t.Fatalf("end must clear the countdown: %+v", ended)
	}
	again := ended.End(now.Add(time.Hour))
	if !again.EndedAt.Equal(*ended.EndedAt) {
		t.Fatalf("ending twice must keep the first end time")
	}
	if _, ok := ended.QuestionDeadline(); ok {
		t.Fatalf("first question has no time limit")
	}
}

func TestAcceptsAnswer(t *testing.T) {
	now := time.Now()
	paced := NewQuizSession("t1", "ABC123", twoQuestionQuiz(), ModeTeacher)
	if err := paced.AcceptsAnswer(0); !errors.Is(err, ErrQuizNotStarted) {
		t.Fatalf("expected not started, got %v", err)
	}
	paced, _ = paced.Advance(now, 0)
	if err := paced.AcceptsAnswer(0); err != nil {
		t.Fatalf("open question rejected: %v", err)
	}
	if err := paced.AcceptsAnswer(1); !errors.Is(err, ErrQuestionNotOpen) {
		t.Fatalf("expected question not open, got %v", err)
	}

	selfPaced := NewQuizSession("t1", "ABC123", twoQuestionQuiz(), ModeStudent)
	selfPaced, _ = selfPaced.Advance(now, 0)
	if err := selfPaced.AcceptsAnswer(1); err != nil {
		t.Fatalf("self-paced should accept any question, got %v", err)
	}
	if err := selfPaced.End(now).AcceptsAnswer(0); !errors.Is(err, ErrQuizEnded) {
		t.Fatalf("expected quiz ended, got %v", err)
	}
}
