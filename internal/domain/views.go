package domain

import (
	"sort"
	"strings"
	"time"
)

// QuestionView is a question as shown to students: no answer key.
type QuestionView struct {
	ID        string       `json:"id"`
	Text      string       `json:"text"`
	Type      QuestionType `json:"type"`
	TimeLimit int          `json:"timeLimit"`
	Options   []string     `json:"options,omitempty"`
}

// Redact strips the answer key. MC options and Ordering items are listed
// alphabetically so their position gives nothing away.
func (q QuizQuestion) Redact() QuestionView {
	v := QuestionView{ID: q.ID, Text: q.Text, Type: q.Type, TimeLimit: q.TimeLimit}
	switch q.Type {
	case QuestionMC:
		v.Options = append([]string{q.CorrectAnswer}, q.IncorrectAnswers...)
	case QuestionOrdering:
		for _, item := range strings.Split(q.CorrectAnswer, segmentSeparator) {
			v.Options = append(v.Options, strings.TrimSpace(item))
		}
	}
	sort.Strings(v.Options)
	return v
}

// StudentSessionView is the part of a QuizSession a participant may see.
type StudentSessionView struct {
	ID                   string         `json:"id"`
	QuizTitle            string         `json:"quizTitle"`
	Status               QuizStatus     `json:"status"`
	SessionMode          SessionMode    `json:"sessionMode"`
	CurrentQuestionIndex int            `json:"currentQuestionIndex"`
	TotalQuestions       int            `json:"totalQuestions"`
	AutoProgressAt       *time.Time     `json:"autoProgressAt"`
	QuestionStartedAt    *time.Time     `json:"questionStartedAt"`
	Current              *QuestionView  `json:"current,omitempty"`
	Questions            []QuestionView `json:"questions,omitempty"`
}

// ForStudent projects the session for participants. Self-paced sessions list
// every question once started; paced sessions only expose the open one.
func (s QuizSession) ForStudent() StudentSessionView {
	v := StudentSessionView{
		ID:                   s.ID,
		QuizTitle:            s.QuizTitle,
		Status:               s.Status,
		SessionMode:          s.SessionMode,
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		TotalQuestions:       s.TotalQuestions,
		AutoProgressAt:       s.AutoProgressAt,
		QuestionStartedAt:    s.QuestionStartedAt,
	}
	if s.Status != QuizActive {
		return v
	}
	if s.SessionMode == ModeStudent {
		v.Questions = make([]QuestionView, 0, len(s.Questions))
		for _, q := range s.Questions {
			v.Questions = append(v.Questions, q.Redact())
		}
		return v
	}
	if q, ok := s.CurrentQuestion(); ok {
		view := q.Redact()
		v.Current = &view
	}
	return v
}
