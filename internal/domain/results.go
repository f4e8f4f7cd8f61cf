package domain

import (
	"math"
	"sort"
	"strings"
	"time"
)

// ScoreSummary is a re-graded score for one response.
type ScoreSummary struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
	Percent int `json:"percent"`
}

// ScoreResponse re-grades every stored answer. Answers to unknown questions and
// repeated answers to the same question are ignored; only the first counts.
func ScoreResponse(r QuizResponse, questions []QuizQuestion) ScoreSummary {
	summary := ScoreSummary{Total: len(questions)}
	if len(questions) == 0 {
		return summary
	}
	byID := make(map[string]QuizQuestion, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	seen := make(map[string]struct{}, len(r.Answers))
	for _, a := range r.Answers {
		if _, dup := seen[a.QuestionID]; dup {
			continue
		}
		seen[a.QuestionID] = struct{}{}
		if q, ok := byID[a.QuestionID]; ok && GradeAnswer(q, a.Answer) {
			summary.Correct++
		}
	}
	summary.Percent = percent(summary.Correct, summary.Total)
	return summary
}

// ClassAverage is the mean percentage over completed responses.
func ClassAverage(responses []QuizResponse, questions []QuizQuestion) (int, bool) {
	sum, n := 0, 0
	for _, r := range responses {
		if r.Status != ResponseCompleted {
			continue
		}
		sum += ScoreResponse(r, questions).Percent
		n++
	}
	if n == 0 {
		return 0, false
	}
	return int(math.Round(float64(sum) / float64(n))), true
}

// QuestionStat is the accuracy of one question across respondents.
type QuestionStat struct {
	QuestionID string `json:"questionId"`
	Answered   int    `json:"answered"`
	Correct    int    `json:"correct"`
	Accuracy   int    `json:"accuracy"`
}

func QuestionAccuracy(questions []QuizQuestion, responses []QuizResponse) []QuestionStat {
	stats := make([]QuestionStat, 0, len(questions))
	for _, q := range questions {
		stat := QuestionStat{QuestionID: q.ID}
		for _, r := range responses {
			a, ok := r.Answer(q.ID)
			if !ok {
				continue
			}
			stat.Answered++
			if GradeAnswer(q, a.Answer) {
				stat.Correct++
			}
		}
		stat.Accuracy = percent(stat.Correct, stat.Answered)
		stats = append(stats, stat)
	}
	return stats
}

// Completion is the share of respondents that answered a question.
type Completion struct {
	QuestionID string  `json:"questionId"`
	Answered   int     `json:"answered"`
	Total      int     `json:"total"`
	Rate       float64 `json:"rate"`
}

// CurrentCompletion measures answers to the session's current question.
// Responses may reference questions the local session copy has not reached yet;
// those are simply not counted here.
func CurrentCompletion(session QuizSession, responses []QuizResponse) (Completion, bool) {
	q, ok := session.CurrentQuestion()
	if !ok {
		return Completion{}, false
	}
	c := Completion{QuestionID: q.ID, Total: len(responses)}
	for _, r := range responses {
		if _, ok := r.Answer(q.ID); ok {
			c.Answered++
		}
	}
	if c.Total > 0 {
		c.Rate = float64(c.Answered) / float64(c.Total)
	}
	return c, true
}

// AllAnswered reports whether every respondent answered the question.
func AllAnswered(questionID string, responses []QuizResponse) bool {
	if len(responses) == 0 {
		return false
	}
	for _, r := range responses {
		if _, ok := r.Answer(questionID); !ok {
			return false
		}
	}
	return true
}

// OptionCount is the live tally of one MC option.
type OptionCount struct {
	Option  string `json:"option"`
	Count   int    `json:"count"`
	Percent int    `json:"percent"`
	Correct bool   `json:"correct"`
}

// AnswerDistribution tallies MC answers per option. Other question types return nil.
func AnswerDistribution(q QuizQuestion, responses []QuizResponse) []OptionCount {
	if q.Type != QuestionMC {
		return nil
	}
	options := []string{q.CorrectAnswer}
	for _, opt := range q.IncorrectAnswers {
		if opt != "" {
			options = append(options, opt)
		}
	}
	answered := 0
	counts := make(map[string]int, len(options))
	for _, r := range responses {
		a, ok := r.Answer(q.ID)
		if !ok {
			continue
		}
		answered++
		counts[a.Answer]++
	}
	out := make([]OptionCount, 0, len(options))
	for _, opt := range options {
		out = append(out, OptionCount{
			Option:  opt,
			Count:   counts[opt],
			Percent: percent(counts[opt], answered),
			Correct: GradeAnswer(q, opt),
		})
	}
	return out
}

// ScoreBucket groups completed responses by percentage band.
type ScoreBucket struct {
	Label   string `json:"label"`
	Min     int    `json:"min"`
	Max     int    `json:"max"`
	Count   int    `json:"count"`
	Percent int    `json:"percent"`
}

func ScoreDistribution(responses []QuizResponse, questions []QuizQuestion) []ScoreBucket {
	buckets := []ScoreBucket{
		{Label: "90-100%", Min: 90, Max: 100},
		{Label: "80-89%", Min: 80, Max: 89},
		{Label: "60-79%", Min: 60, Max: 79},
		{Label: "0-59%", Min: 0, Max: 59},
	}
	completed := 0
	for _, r := range responses {
		if r.Status != ResponseCompleted {
			continue
		}
		completed++
		score := ScoreResponse(r, questions).Percent
		for i := range buckets {
			if score >= buckets[i].Min && score <= buckets[i].Max {
				buckets[i].Count++
				break
			}
		}
	}
	for i := range buckets {
		buckets[i].Percent = percent(buckets[i].Count, completed)
	}
	return buckets
}

// LeaderboardEntry is one row of the results or roster view.
type LeaderboardEntry struct {
	StudentUID        string         `json:"studentUid"`
	DisplayName       string         `json:"displayName"`
	Status            ResponseStatus `json:"status"`
	Answered          int            `json:"answered"`
	Score             ScoreSummary   `json:"score"`
	TabSwitchWarnings int            `json:"tabSwitchWarnings"`
	SubmittedAt       *time.Time     `json:"submittedAt,omitempty"`
}

func entryFor(r QuizResponse, questions []QuizQuestion) LeaderboardEntry {
	return LeaderboardEntry{
		StudentUID:        r.StudentUID,
		DisplayName:       r.DisplayName(),
		Status:            r.Status,
		Answered:          len(r.Answers),
		Score:             ScoreResponse(r, questions),
		TabSwitchWarnings: r.TabSwitchWarnings,
		SubmittedAt:       r.SubmittedAt,
	}
}

// RosterByName lists every respondent alphabetically.
func RosterByName(responses []QuizResponse, questions []QuizQuestion) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(responses))
	for _, r := range responses {
		entries = append(entries, entryFor(r, questions))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return lessName(entries[i], entries[j])
	})
	return entries
}

// Leaderboard orders respondents by score descending, then earliest submission, then name.
func Leaderboard(responses []QuizResponse, questions []QuizQuestion) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(responses))
	for _, r := range responses {
		entries = append(entries, entryFor(r, questions))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score.Correct != b.Score.Correct {
			return a.Score.Correct > b.Score.Correct
		}
		if a.SubmittedAt != nil && b.SubmittedAt != nil && !a.SubmittedAt.Equal(*b.SubmittedAt) {
			return a.SubmittedAt.Before(*b.SubmittedAt)
		}
		if (a.SubmittedAt == nil) != (b.SubmittedAt == nil) {
			return a.SubmittedAt != nil
		}
		return lessName(a, b)
	})
	return entries
}

func lessName(a, b LeaderboardEntry) bool {
	an, bn := strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)
	if an != bn {
		return an < bn
	}
	return a.StudentUID < b.StudentUID
}

// CurrentQuestionView is the live monitor panel for the open question.
type CurrentQuestionView struct {
	Index        int           `json:"index"`
	Question     QuizQuestion  `json:"question"`
	Completion   Completion    `json:"completion"`
	Distribution []OptionCount `json:"distribution,omitempty"`
}

// Results is everything the teacher monitor derives from a session and its responses.
type Results struct {
	QuizTitle      string               `json:"quizTitle"`
	Status         QuizStatus           `json:"status"`
	TotalQuestions int                  `json:"totalQuestions"`
	Respondents    int                  `json:"respondents"`
	Completed      int                  `json:"completed"`
	ClassAverage   *int                 `json:"classAverage"`
	Current        *CurrentQuestionView `json:"current,omitempty"`
	Questions      []QuestionStat       `json:"questions"`
	Buckets        []ScoreBucket        `json:"buckets"`
	Roster         []LeaderboardEntry   `json:"roster"`
	Leaderboard    []LeaderboardEntry   `json:"leaderboard"`
}

// BuildResults derives every monitor view by re-grading stored answers.
func BuildResults(session QuizSession, responses []QuizResponse) Results {
	res := Results{
		QuizTitle:      session.QuizTitle,
		Status:         session.Status,
		TotalQuestions: session.TotalQuestions,
		Respondents:    len(responses),
		Questions:      QuestionAccuracy(session.Questions, responses),
		Buckets:        ScoreDistribution(responses, session.Questions),
		Roster:         RosterByName(responses, session.Questions),
		Leaderboard:    Leaderboard(responses, session.Questions),
	}
	for _, r := range responses {
		if r.Status == ResponseCompleted {
			res.Completed++
		}
	}
	if avg, ok := ClassAverage(responses, session.Questions); ok {
		res.ClassAverage = &avg
	}
	if session.Status == QuizActive {
		if c, ok := CurrentCompletion(session, responses); ok {
			q, _ := session.CurrentQuestion()
			res.Current = &CurrentQuestionView{
				Index:        session.CurrentQuestionIndex,
				Question:     q,
				Completion:   c,
				Distribution: AnswerDistribution(q, responses),
			}
		}
	}
	return res
}

func percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(float64(part) * 100 / float64(whole)))
}
