package domain

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const segmentSeparator = "|"

// GradeAnswer is the only source of truth for answer correctness.
//
// MC answers must match the correct option exactly. FIB answers are compared
// case-insensitively with surrounding and repeated whitespace ignored.
// Matching answers must contain exactly the canonical term:definition pairs,
// in any order. Ordering answers must list the canonical items in order.
func GradeAnswer(question QuizQuestion, submitted string) bool {
	switch question.Type {
	case QuestionMC:
		return submitted != "" && submitted == question.CorrectAnswer
	case QuestionFIB:
		given := foldText(submitted)
		return given != "" && given == foldText(question.CorrectAnswer)
	case QuestionMatching:
		want := matchingPairs(question.CorrectAnswer)
		got := matchingPairs(submitted)
		if len(got) == 0 || len(got) != len(want) {
			return false
		}
		slices.Sort(want)
		slices.Sort(got)
		return slices.Equal(want, got)
	case QuestionOrdering:
		want := segments(question.CorrectAnswer)
		got := segments(submitted)
		return len(got) > 0 && slices.Equal(want, got)
	}
	return false
}

// foldText NFC-normalizes, case-folds and collapses whitespace.
func foldText(s string) string {
	s = norm.NFC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

func segments(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, segmentSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, foldText(p))
	}
	return out
}

func matchingPairs(raw string) []string {
	parts := segments(raw)
	for i, p := range parts {
		term, def, ok := strings.Cut(p, ":")
		if !ok {
			continue
		}
		parts[i] = strings.TrimSpace(term) + ":" + strings.TrimSpace(def)
	}
	return parts
}
