// Package score holds the pure scoring rules: points from correctness
// and response latency, and leaderboard aggregation for each game mode.
package score

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/persimon-pro/maybeu-live/internal/domain"
)

// LeaderboardSize is how many entries a leaderboard keeps.
const LeaderboardSize = 5

var (
	base     = decimal.NewFromInt(100)
	maxBonus = decimal.NewFromInt(100)
	perSec   = decimal.NewFromInt(10)
	msPerSec = decimal.NewFromInt(1000)
)

// Points maps a single answer to points: wrong answers score 0, correct
// ones score 100 plus a speed bonus decaying 10 points per second, so
// the floor is 100 at latencies of 10s and beyond.
func Points(isCorrect bool, responseTimeMs int64) int64 {
	if !isCorrect {
		return 0
	}

	seconds := decimal.NewFromInt(responseTimeMs).Div(msPerSec)
	bonus := maxBonus.Sub(seconds.Mul(perSec))
	if bonus.IsNegative() {
		bonus = decimal.Zero
	}

	return base.Add(bonus).Round(0).IntPart()
}

// Submission is one guest answer to one question, as read back from the store.
type Submission struct {
	Name          string
	QuestionIndex int
	Answer        domain.AnswerRecord
}

// QuizLeaderboard sums Points over every submission against the question
// list. Guests who only answered incorrectly still appear at score 0.
// Ties break by whoever finished their submissions earlier, then by name.
func QuizLeaderboard(questions []domain.Question, subs []Submission) []domain.LeaderboardEntry {
	totals := make(map[string]int64)
	lastAt := make(map[string]time.Time)

	for _, s := range subs {
		if s.QuestionIndex < 0 || s.QuestionIndex >= len(questions) {
			continue
		}
		q := questions[s.QuestionIndex]
		totals[s.Name] += Points(s.Answer.ChosenIndex == q.CorrectAnswerIndex, s.Answer.ResponseTimeMs)
		if s.Answer.SubmittedAt.After(lastAt[s.Name]) {
			lastAt[s.Name] = s.Answer.SubmittedAt
		}
	}

	return rank(totals, lastAt)
}

// QuestTargets are the precomputed expected results for the scored quest stages.
type QuestTargets struct {
	// DayOfWeek is the weekday (0 = Sunday) of today's calendar date in 2099.
	DayOfWeek int
	// MathResult is the expected answer to the fast-calc stage.
	MathResult string
}

// DefaultQuestTargets derives the stage targets from the current date.
func DefaultQuestTargets(now time.Time) QuestTargets {
	day2099 := time.Date(2099, now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Weekday()
	return QuestTargets{
		DayOfWeek:  int(day2099),
		MathResult: "12345",
	}
}

// QuestSubmission is one guest response to one quest stage.
type QuestSubmission struct {
	Stage    int
	Name     string
	Response domain.QuestResponse
}

// QuestCorrect applies the per-stage correctness rule: stage 1 is a
// numeric weekday match, stage 3 an exact string match, stages 2 and 4
// accept any non-empty submission (photo hunts).
func QuestCorrect(t QuestTargets, stage int, value string) bool {
	switch stage {
	case 1:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		return err == nil && n == t.DayOfWeek
	case 3:
		return strings.TrimSpace(value) == t.MathResult
	case 2, 4:
		return strings.TrimSpace(value) != ""
	default:
		return false
	}
}

// QuestLeaderboard sums Points over the correct stage responses.
func QuestLeaderboard(t QuestTargets, subs []QuestSubmission) []domain.LeaderboardEntry {
	totals := make(map[string]int64)
	lastAt := make(map[string]time.Time)

	for _, s := range subs {
		if _, ok := totals[s.Name]; !ok {
			totals[s.Name] = 0
		}
		if QuestCorrect(t, s.Stage, s.Response.Value) {
			totals[s.Name] += Points(true, s.Response.TimeTakenMs)
		}
		if s.Response.SubmittedAt.After(lastAt[s.Name]) {
			lastAt[s.Name] = s.Response.SubmittedAt
		}
	}

	return rank(totals, lastAt)
}

// RaceLeaderboard ranks race counters by count; ties break by earliest
// update, then name, the same order used to pick a race winner.
func RaceLeaderboard(counters map[string]domain.ProgressCounter) []domain.LeaderboardEntry {
	totals := make(map[string]int64, len(counters))
	lastAt := make(map[string]time.Time, len(counters))
	for name, c := range counters {
		totals[name] = int64(c.Count)
		lastAt[name] = c.UpdatedAt
	}

	return rank(totals, lastAt)
}

// rank sorts score desc, earliest finisher first among ties, then name,
// and truncates to LeaderboardSize. The order is a function of the set
// alone, never of input or map iteration order.
func rank(totals map[string]int64, lastAt map[string]time.Time) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(totals))
	for name, total := range totals {
		entries = append(entries, domain.LeaderboardEntry{Name: name, Score: total})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		at, bt := lastAt[a.Name], lastAt[b.Name]
		if !at.Equal(bt) {
			return at.Before(bt)
		}
		return a.Name < b.Name
	})

	if len(entries) > LeaderboardSize {
		entries = entries[:LeaderboardSize]
	}

	return entries
}
