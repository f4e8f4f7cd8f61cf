package domain

import "testing"

func TestGradeAnswer(t *testing.T) {
	mc := QuizQuestion{ID: "q1", Type: QuestionMC, CorrectAnswer: "Paris", IncorrectAnswers: []string{"Rome", "Madrid"}}
	fib := QuizQuestion{ID: "q2", Type: QuestionFIB, CorrectAnswer: "Photo synthesis"}
	matching := QuizQuestion{ID: "q3", Type: QuestionMatching, CorrectAnswer: "H2O:water|NaCl:salt"}
	ordering := QuizQuestion{ID: "q4", Type: QuestionOrdering, CorrectAnswer: "one|two|three"}

	cases := []struct {
		name     string
		question QuizQuestion
		answer   string
		want     bool
	}{
		{"mc exact", mc, "Paris", true},
		{"mc case differs", mc, "paris", false},
		{"mc incorrect option", mc, mc.IncorrectAnswers[0], false},
		{"mc empty", mc, "", false},
		{"fib folded", fib, "  PHOTO   synthesis ", true},
		{"fib wrong", fib, "respiration", false},
		{"fib blank", fib, "   ", false},
		{"matching any order", matching, "NaCl : salt|h2o:Water", true},
		{"matching missing pair", matching, "H2O:water", false},
		{"matching swapped definitions", matching, "H2O:salt|NaCl:water", false},
		{"ordering exact", ordering, "One | two|THREE", true},
		{"ordering wrong order", ordering, "two|one|three", false},
		{"ordering partial", ordering, "one|two", false},
		{"unknown type", QuizQuestion{Type: "Essay", CorrectAnswer: "x"}, "x", false},
	}
	for _, tc := range cases {
		if got := GradeAnswer(tc.question, tc.answer); got != tc.want {
			t.Fatalf("%s: GradeAnswer(%q) = %v, want %v", tc.name, tc.answer, got, tc.want)
		}
	}
}
