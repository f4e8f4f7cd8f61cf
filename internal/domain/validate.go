package domain

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxAnswerLength = 1000

var validate = validator.New()

// ValidateQuiz checks a quiz definition before a session is started from it.
func ValidateQuiz(q Quiz) error {
	if err := validate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return NewValidationError(verrs[0].Namespace(), verrs[0].Tag())
		}
		return NewValidationError("quiz", err.Error())
	}
	seen := make(map[string]struct{}, len(q.Questions))
	for _, question := range q.Questions {
		if _, dup := seen[question.ID]; dup {
			return NewValidationError("questions", "duplicate question id "+question.ID)
		}
		seen[question.ID] = struct{}{}
		if question.Type == QuestionMatching {
			for _, pair := range strings.Split(question.CorrectAnswer, segmentSeparator) {
				if !strings.Contains(pair, ":") {
					return NewValidationError("questions", "matching pair without ':' in "+question.ID)
				}
			}
		}
	}
	return nil
}

// JoinRequest is the normalized input of a join operation.
type JoinRequest struct {
	Name string `validate:"required,max=20"`
	Code string `validate:"required,len=6,alphanum,uppercase"`
}

// NewJoinRequest normalizes raw client input and validates it.
func NewJoinRequest(rawName, rawCode string) (JoinRequest, error) {
	req := JoinRequest{Name: SanitizeName(rawName), Code: NormalizeCode(rawCode)}
	if req.Code == "" {
		return req, ErrInvalidCode
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Field() {
			case "Code":
				return req, ErrInvalidCode
			case "Name":
				return req, NewValidationError("name", "must be 1-20 characters")
			}
		}
		return req, NewValidationError("join", err.Error())
	}
	return req, nil
}

// ValidateAnswer rejects empty or oversized answers.
func ValidateAnswer(answer string) error {
	if strings.TrimSpace(answer) == "" {
		return NewValidationError("answer", "must not be empty")
	}
	if len([]rune(answer)) > maxAnswerLength {
		return NewValidationError("answer", "too long")
	}
	return nil
}

// QuizJoinRequest is the normalized input of a quiz join. A PIN may stand in
// for the display name.
type QuizJoinRequest struct {
	Name string `validate:"required_without=PIN,max=20"`
	PIN  string `validate:"omitempty,numeric,max=8"`
	Code string `validate:"required,len=6,alphanum,uppercase"`
}

func NewQuizJoinRequest(rawName, rawPIN, rawCode string) (QuizJoinRequest, error) {
	req := QuizJoinRequest{
		Name: SanitizeName(rawName),
		PIN:  strings.TrimSpace(rawPIN),
		Code: NormalizeCode(rawCode),
	}
	if req.Code == "" {
		return req, ErrInvalidCode
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Field() {
			case "Code":
				return req, ErrInvalidCode
			case "PIN":
				return req, NewValidationError("pin", "must be up to 8 digits")
			case "Name":
				return req, NewValidationError("name", "name or pin required")
			}
		}
		return req, NewValidationError("join", err.Error())
	}
	return req, nil
}
