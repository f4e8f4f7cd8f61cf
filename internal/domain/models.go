package domain

import (
	"encoding/json"
	"time"
)

// StudentStatus is the roster state of a LiveStudent.
type StudentStatus string

const (
	StudentActive       StudentStatus = "active"
	StudentFrozen       StudentStatus = "frozen"
	StudentDisconnected StudentStatus = "disconnected"
)

// BroadcastSession mirrors one teacher's live widget to every joined student.
// It is keyed by the teacher id and soft-deactivated, never deleted.
type BroadcastSession struct {
	ID                 string          `json:"id"`
	IsActive           bool            `json:"isActive"`
	Code               string          `json:"code"`
	ActiveWidgetID     *string         `json:"activeWidgetId"`
	ActiveWidgetType   string          `json:"activeWidgetType,omitempty"`
	ActiveWidgetConfig json.RawMessage `json:"activeWidgetConfig,omitempty"`
	Background         string          `json:"background,omitempty"`
	Frozen             bool            `json:"frozen"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// LiveStudent is a roster entry under a BroadcastSession.
type LiveStudent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Status     StudentStatus `json:"status"`
	JoinedAt   time.Time     `json:"joinedAt"`
	LastActive time.Time     `json:"lastActive"`
	AuthUID    string        `json:"authUid,omitempty"`
}

// EffectiveFrozen reports whether a student should have interaction blocked.
func EffectiveFrozen(session *BroadcastSession, student *LiveStudent) bool {
	if session != nil && session.Frozen {
		return true
	}
	return student != nil && student.Status == StudentFrozen
}

// QuizStatus is the progression state of a QuizSession.
type QuizStatus string

const (
	QuizWaiting QuizStatus = "waiting"
	QuizActive  QuizStatus = "active"
	QuizEnded   QuizStatus = "ended"
)

// SessionMode selects how a quiz progresses between questions.
type SessionMode string

const (
	ModeTeacher SessionMode = "teacher"
	ModeAuto    SessionMode = "auto"
	ModeStudent SessionMode = "student"
)

// Valid reports whether m is a known pacing mode.
func (m SessionMode) Valid() bool {
	switch m {
	case ModeTeacher, ModeAuto, ModeStudent:
		return true
	}
	return false
}

// QuestionType tags the grading discipline of a question.
type QuestionType string

const (
	QuestionMC       QuestionType = "MC"
	QuestionFIB      QuestionType = "FIB"
	QuestionMatching QuestionType = "Matching"
	QuestionOrdering QuestionType = "Ordering"
)

// QuizQuestion is immutable once a session starts.
type QuizQuestion struct {
	ID               string       `json:"id" yaml:"id" validate:"required"`
	Text             string       `json:"text" yaml:"text" validate:"required"`
	Type             QuestionType `json:"type" yaml:"type" validate:"oneof=MC FIB Matching Ordering"`
	TimeLimit        int          `json:"timeLimit" yaml:"timeLimit" validate:"gte=0"`
	CorrectAnswer    string       `json:"correctAnswer" yaml:"correctAnswer" validate:"required"`
	IncorrectAnswers []string     `json:"incorrectAnswers,omitempty" yaml:"incorrectAnswers" validate:"max=4"`
}

// Quiz is a quiz definition.
type Quiz struct {
	ID        string         `json:"id" yaml:"id" validate:"required"`
	Title     string         `json:"title" yaml:"title"`
	Questions []QuizQuestion `json:"questions" yaml:"questions" validate:"required,min=1,dive"`
}

type QuizSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// QuizSession is the live state of a quiz, keyed by the teacher id.
type QuizSession struct {
	ID                   string         `json:"id"`
	QuizID               string         `json:"quizId"`
	QuizTitle            string         `json:"quizTitle"`
	TeacherUID           string         `json:"teacherUid"`
	Code                 string         `json:"code"`
	Status               QuizStatus     `json:"status"`
	SessionMode          SessionMode    `json:"sessionMode"`
	CurrentQuestionIndex int            `json:"currentQuestionIndex"`
	TotalQuestions       int            `json:"totalQuestions"`
	AutoProgressAt       *time.Time     `json:"autoProgressAt"`
	QuestionStartedAt    *time.Time     `json:"questionStartedAt"`
	StartedAt            *time.Time     `json:"startedAt"`
	EndedAt              *time.Time     `json:"endedAt"`
	Questions            []QuizQuestion `json:"questions"`
}

// Question returns the question with the given id and its index.
func (s QuizSession) Question(id string) (QuizQuestion, int, bool) {
	for i, q := range s.Questions {
		if q.ID == id {
			return q, i, true
		}
	}
	return QuizQuestion{}, -1, false
}

// CurrentQuestion returns the question at CurrentQuestionIndex, if any.
func (s QuizSession) CurrentQuestion() (QuizQuestion, bool) {
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.Questions) {
		return QuizQuestion{}, false
	}
	return s.Questions[s.CurrentQuestionIndex], true
}

// ResponseStatus tracks a participant's progress.
type ResponseStatus string

const (
	ResponseJoined     ResponseStatus = "joined"
	ResponseInProgress ResponseStatus = "in-progress"
	ResponseCompleted  ResponseStatus = "completed"
)

// ResponseAnswer is a single submitted answer. There is deliberately no
// correctness field: correctness is always re-derived with GradeAnswer.
type ResponseAnswer struct {
	QuestionID string    `json:"questionId"`
	Answer     string    `json:"answer"`
	AnsweredAt time.Time `json:"answeredAt"`
}

// QuizResponse is one participant's answers, written by that participant.
type QuizResponse struct {
	StudentUID        string           `json:"studentUid"`
	StudentName       string           `json:"studentName"`
	PIN               string           `json:"pin,omitempty"`
	Status            ResponseStatus   `json:"status"`
	Answers           []ResponseAnswer `json:"answers"`
	TabSwitchWarnings int              `json:"tabSwitchWarnings"`
	JoinedAt          time.Time        `json:"joinedAt"`
	SubmittedAt       *time.Time       `json:"submittedAt"`
}

// Answer returns the stored answer for a question.
func (r QuizResponse) Answer(questionID string) (ResponseAnswer, bool) {
	for _, a := range r.Answers {
		if a.QuestionID == questionID {
			return a, true
		}
	}
	return ResponseAnswer{}, false
}

// DisplayName falls back to the PIN when no name was given.
func (r QuizResponse) DisplayName() string {
	if r.StudentName != "" {
		return r.StudentName
	}
	if r.PIN != "" {
		return "PIN " + r.PIN
	}
	return r.StudentUID
}
