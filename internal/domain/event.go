package domain

const (
	EventNameStateChanged       = "session.state_changed"
	EventNameAnswerRecorded     = "answer.recorded"
	EventNameProgressUpdated    = "progress.updated"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

// EventStateChanged fires on every accepted session engine mutation,
// after the new snapshot has been written to the store.
type EventStateChanged struct {
	Code  string
	State SessionState
}

func (EventStateChanged) Name() string { return EventNameStateChanged }

type EventAnswerRecorded struct {
	Code          string
	GuestName     string
	QuestionIndex int
	Answer        AnswerRecord
}

func (EventAnswerRecorded) Name() string { return EventNameAnswerRecorded }

type EventProgressUpdated struct {
	Code      string
	GameType  GameType
	GuestName string
	Progress  ProgressCounter
}

func (EventProgressUpdated) Name() string { return EventNameProgressUpdated }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
