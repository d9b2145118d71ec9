package score_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/persimon-pro/maybeu-live/internal/domain"
	"github.com/persimon-pro/maybeu-live/internal/score"
)

func TestPoints(t *testing.T) {
	tests := map[string]struct {
		isCorrect      bool
		responseTimeMs int64
		want           int64
	}{
		"incorrect answers score zero regardless of speed": {
			isCorrect:      false,
			responseTimeMs: 0,
			want:           0,
		},
		"instant correct answer gets the full bonus": {
			isCorrect:      true,
			responseTimeMs: 0,
			want:           200,
		},
		"2 second answer loses 20 bonus points": {
			isCorrect:      true,
			responseTimeMs: 2000,
			want:           180,
		},
		"5 second answer scores 150": {
			isCorrect:      true,
			responseTimeMs: 5000,
			want:           150,
		},
		"bonus bottoms out at exactly 10 seconds": {
			isCorrect:      true,
			responseTimeMs: 10_000,
			want:           100,
		},
		"bonus never goes negative": {
			isCorrect:      true,
			responseTimeMs: 60_000,
			want:           100,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.want, score.Points(tt.isCorrect, tt.responseTimeMs))
		})
	}
}

func TestPoints_NonIncreasingInLatency(t *testing.T) {
	prev := score.Points(true, 0)
	for ms := int64(100); ms <= 15_000; ms += 100 {
		p := score.Points(true, ms)
		require.LessOrEqual(t, p, prev, "points must not grow with latency: %dms", ms)
		prev = p
	}
}

func TestQuizLeaderboard(t *testing.T) {
	questions := []domain.Question{
		{Text: "q0", Options: []string{"a", "b"}, CorrectAnswerIndex: 0},
		{Text: "q1", Options: []string{"a", "b"}, CorrectAnswerIndex: 1},
	}

	at := func(s int) time.Time { return time.Date(2026, 2, 14, 20, 0, s, 0, time.UTC) }

	type (
		inputs struct {
			subs []score.Submission
		}

		outputs struct {
			entries []domain.LeaderboardEntry
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"sums points per guest and sorts by score descending": {
			arrange: func() inputs {
				return inputs{subs: []score.Submission{
					{Name: "ana", QuestionIndex: 0, Answer: domain.AnswerRecord{ChosenIndex: 0, ResponseTimeMs: 5000, SubmittedAt: at(5)}},
					{Name: "ana", QuestionIndex: 1, Answer: domain.AnswerRecord{ChosenIndex: 0, ResponseTimeMs: 1000, SubmittedAt: at(10)}},
					{Name: "bo", QuestionIndex: 0, Answer: domain.AnswerRecord{ChosenIndex: 0, ResponseTimeMs: 1000, SubmittedAt: at(1)}},
					{Name: "bo", QuestionIndex: 1, Answer: domain.AnswerRecord{ChosenIndex: 1, ResponseTimeMs: 1000, SubmittedAt: at(8)}},
				}}
			},
			assert: func(t *testing.T, out outputs) {
				require.Equal(t, []domain.LeaderboardEntry{
					{Name: "bo", Score: 380},
					{Name: "ana", Score: 150},
				}, out.entries)
			},
		},

		"all-wrong guest still appears at zero": {
			arrange: func() inputs {
				return inputs{subs: []score.Submission{
					{Name: "ana", QuestionIndex: 0, Answer: domain.AnswerRecord{ChosenIndex: 1, SubmittedAt: at(1)}},
				}}
			},
			assert: func(t *testing.T, out outputs) {
				require.Equal(t, []domain.LeaderboardEntry{{Name: "ana", Score: 0}}, out.entries)
			},
		},

		"submissions for out-of-range indexes are skipped": {
			arrange: func() inputs {
				return inputs{subs: []score.Submission{
					{Name: "ana", QuestionIndex: 7, Answer: domain.AnswerRecord{ChosenIndex: 0, SubmittedAt: at(1)}},
				}}
			},
			assert: func(t *testing.T, out outputs) {
				require.Empty(t, out.entries)
			},
		},

		"ties break by earliest last submission, then name": {
			arrange: func() inputs {
				return inputs{subs: []score.Submission{
					{Name: "late", QuestionIndex: 0, Answer: domain.AnswerRecord{ChosenIndex: 0, ResponseTimeMs: 1000, SubmittedAt: at(9)}},
					{Name: "early", QuestionIndex: 0, Answer: domain.AnswerRecord{ChosenIndex: 0, ResponseTimeMs: 1000, SubmittedAt: at(2)}},
					{Name: "b", QuestionIndex: 1, Answer: domain.AnswerRecord{ChosenIndex: 1, ResponseTimeMs: 1000, SubmittedAt: at(5)}},
					{Name: "a", QuestionIndex: 1, Answer: domain.AnswerRecord{ChosenIndex: 1, ResponseTimeMs: 1000, SubmittedAt: at(5)}},
				}}
			},
			assert: func(t *testing.T, out outputs) {
				require.Equal(t, []domain.LeaderboardEntry{
					{Name: "early", Score: 190},
					{Name: "a", Score: 190},
					{Name: "b", Score: 190},
					{Name: "late", Score: 190},
				}, out.entries)
			},
		},

		"keeps only the top 5": {
			arrange: func() inputs {
				var subs []score.Submission
				for i := 0; i < 7; i++ {
					subs = append(subs, score.Submission{
						Name:          fmt.Sprintf("guest-%d", i),
						QuestionIndex: 0,
						Answer: domain.AnswerRecord{
							ChosenIndex:    0,
							ResponseTimeMs: int64(i) * 1000,
							SubmittedAt:    at(i),
						},
					})
				}
				return inputs{subs: subs}
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.entries, 5)
				require.Equal(t, "guest-0", out.entries[0].Name)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			in := tt.arrange()
			tt.assert(t, outputs{entries: score.QuizLeaderboard(questions, in.subs)})
		})
	}
}

func TestQuizLeaderboard_OrderIndependent(t *testing.T) {
	questions := []domain.Question{{Text: "q0", CorrectAnswerIndex: 0}}

	subs := []score.Submission{
		{Name: "ana", QuestionIndex: 0, Answer: domain.AnswerRecord{ChosenIndex: 0, ResponseTimeMs: 1000, SubmittedAt: time.Unix(10, 0)}},
		{Name: "bo", QuestionIndex: 0, Answer: domain.AnswerRecord{ChosenIndex: 0, ResponseTimeMs: 1000, SubmittedAt: time.Unix(20, 0)}},
		{Name: "cy", QuestionIndex: 0, Answer: domain.AnswerRecord{ChosenIndex: 1, ResponseTimeMs: 500, SubmittedAt: time.Unix(5, 0)}},
	}
	want := score.QuizLeaderboard(questions, subs)

	reversed := make([]score.Submission, 0, len(subs))
	for i := len(subs) - 1; i >= 0; i-- {
		reversed = append(reversed, subs[i])
	}
	require.Equal(t, want, score.QuizLeaderboard(questions, reversed))
}

func TestDefaultQuestTargets(t *testing.T) {
	// 2026-02-14 maps to 2099-02-14, a Saturday.
	now := time.Date(2026, 2, 14, 21, 30, 0, 0, time.UTC)
	targets := score.DefaultQuestTargets(now)

	require.Equal(t, int(time.Saturday), targets.DayOfWeek)
	require.Equal(t, "12345", targets.MathResult)
}

func TestQuestCorrect(t *testing.T) {
	targets := score.QuestTargets{DayOfWeek: 6, MathResult: "12345"}

	tests := map[string]struct {
		stage int
		value string
		want  bool
	}{
		"stage 1 matches the weekday number":        {stage: 1, value: "6", want: true},
		"stage 1 tolerates surrounding whitespace":  {stage: 1, value: " 6 ", want: true},
		"stage 1 rejects the wrong weekday":         {stage: 1, value: "3", want: false},
		"stage 1 rejects non-numeric input":         {stage: 1, value: "saturday", want: false},
		"stage 2 accepts any non-empty submission":  {stage: 2, value: "data:image/png;base64,xx", want: true},
		"stage 2 rejects blank submissions":         {stage: 2, value: "  ", want: false},
		"stage 3 requires the exact result":         {stage: 3, value: "12345", want: true},
		"stage 3 rejects anything else":             {stage: 3, value: "12346", want: false},
		"stage 4 accepts any non-empty submission":  {stage: 4, value: "selfie", want: true},
		"unknown stages are never correct":          {stage: 5, value: "12345", want: false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.want, score.QuestCorrect(targets, tt.stage, tt.value))
		})
	}
}

func TestQuestLeaderboard(t *testing.T) {
	targets := score.QuestTargets{DayOfWeek: 2, MathResult: "12345"}

	entries := score.QuestLeaderboard(targets, []score.QuestSubmission{
		{Stage: 1, Name: "ana", Response: domain.QuestResponse{Value: "2", TimeTakenMs: 1000, SubmittedAt: time.Unix(1, 0)}},
		{Stage: 3, Name: "ana", Response: domain.QuestResponse{Value: "12345", TimeTakenMs: 2000, SubmittedAt: time.Unix(2, 0)}},
		{Stage: 1, Name: "bo", Response: domain.QuestResponse{Value: "5", TimeTakenMs: 500, SubmittedAt: time.Unix(3, 0)}},
	})

	require.Equal(t, []domain.LeaderboardEntry{
		{Name: "ana", Score: 370},
		{Name: "bo", Score: 0},
	}, entries)
}

func TestRaceLeaderboard(t *testing.T) {
	entries := score.RaceLeaderboard(map[string]domain.ProgressCounter{
		"ana": {Count: 50, UpdatedAt: time.Unix(20, 0)},
		"bo":  {Count: 50, UpdatedAt: time.Unix(10, 0)},
		"cy":  {Count: 12, UpdatedAt: time.Unix(5, 0)},
	})

	require.Equal(t, []domain.LeaderboardEntry{
		{Name: "bo", Score: 50},
		{Name: "ana", Score: 50},
		{Name: "cy", Score: 12},
	}, entries)
}
