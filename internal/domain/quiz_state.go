package domain

import "time"

// NewQuizSession builds a session in the waiting state.
func NewQuizSession(teacherID, code string, quiz Quiz, mode SessionMode) QuizSession {
	return QuizSession{
		ID:                   teacherID,
		QuizID:               quiz.ID,
		QuizTitle:            quiz.Title,
		TeacherUID:           teacherID,
		Code:                 code,
		Status:               QuizWaiting,
		SessionMode:          mode,
		CurrentQuestionIndex: -1,
		TotalQuestions:       len(quiz.Questions),
		Questions:            quiz.Questions,
	}
}

// Advance moves the session one step along
// waiting -> active(0) -> active(i+1) -> ended.
// Moving past the last question ends the session and keeps the last index.
// In auto mode every newly opened question gets an auto-progress deadline of now+grace.
func (s QuizSession) Advance(now time.Time, grace time.Duration) (QuizSession, error) {
	next := s
	switch s.Status {
	case QuizEnded:
		return s, ErrQuizEnded
	case QuizWaiting:
		if s.TotalQuestions <= 0 {
			return s.End(now), nil
		}
		next.Status = QuizActive
		next.CurrentQuestionIndex = 0
		next.StartedAt = &now
	case QuizActive:
		if s.CurrentQuestionIndex+1 > s.TotalQuestions-1 {
			return s.End(now), nil
		}
		next.CurrentQuestionIndex = s.CurrentQuestionIndex + 1
	default:
		return s, ErrStaleState
	}
	next.QuestionStartedAt = &now
	next.AutoProgressAt = nil
	if next.SessionMode == ModeAuto {
		deadline := now.Add(grace)
		next.AutoProgressAt = &deadline
	}
	return next, nil
}

// End force-transitions to ended. The question index is left untouched.
func (s QuizSession) End(now time.Time) QuizSession {
	next := s
	next.Status = QuizEnded
	next.AutoProgressAt = nil
	if s.EndedAt == nil {
		next.EndedAt = &now
	}
	if next.CurrentQuestionIndex >= s.TotalQuestions && s.TotalQuestions > 0 {
		next.CurrentQuestionIndex = s.TotalQuestions - 1
	}
	return next
}

// QuestionDeadline is when the current question's time limit runs out.
func (s QuizSession) QuestionDeadline() (time.Time, bool) {
	q, ok := s.CurrentQuestion()
	if !ok || q.TimeLimit <= 0 || s.QuestionStartedAt == nil {
		return time.Time{}, false
	}
	return s.QuestionStartedAt.Add(time.Duration(q.TimeLimit) * time.Second), true
}

// AcceptsAnswer checks whether a question can be answered in the current state.
// Paced sessions accept the open question and earlier ones, so a write delayed
// past an advance is not lost; self-paced sessions accept any question.
func (s QuizSession) AcceptsAnswer(questionIndex int) error {
	switch s.Status {
	case QuizEnded:
		return ErrQuizEnded
	case QuizWaiting:
		return ErrQuizNotStarted
	}
	if s.SessionMode == ModeStudent {
		return nil
	}
	if questionIndex > s.CurrentQuestionIndex {
		return ErrQuestionNotOpen
	}
	return nil
}
