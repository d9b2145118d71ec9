package domain

import "time"

// GameType discriminates the session payload. Each mode carries only the
// snapshot fields relevant to it; consumers switch on this tag.
type GameType string

const (
	GameTypeQuiz       GameType = "QUIZ"
	GameTypeBelieveNot GameType = "BELIEVE_NOT"
	GameTypeShakeIt    GameType = "SHAKE_IT"
	GameTypePushIt     GameType = "PUSH_IT"
	GameTypeImageGen   GameType = "IMAGE_GEN"
	GameTypeQuest      GameType = "QUEST"
)

// IsQuizLike reports whether the mode plays ordered questions with the
// reveal/advance two-step.
func (t GameType) IsQuizLike() bool {
	return t == GameTypeQuiz || t == GameTypeBelieveNot
}

// IsRace reports whether the mode ends on a progress-counter threshold.
func (t GameType) IsRace() bool {
	return t == GameTypePushIt || t == GameTypeShakeIt
}

// Threshold returns the race finish target for the mode, 0 for non-race modes.
func (t GameType) Threshold() int {
	switch t {
	case GameTypePushIt:
		return 50
	case GameTypeShakeIt:
		return 150
	default:
		return 0
	}
}

type EventStatus string

const (
	EventStatusUpcoming  EventStatus = "UPCOMING"
	EventStatusLive      EventStatus = "LIVE"
	EventStatusCompleted EventStatus = "COMPLETED"
)

// Event is the venue event guests join with a 6-char code. The code is
// immutable once created; status only moves forward.
type Event struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Date   string      `json:"date"`
	Code   string      `json:"code"`
	Status EventStatus `json:"status"`
}

// Question is immutable once its round starts.
type Question struct {
	ID                 string   `json:"id"`
	Text               string   `json:"text"`
	Options            []string `json:"options"`
	CorrectAnswerIndex int      `json:"correctAnswerIndex"`
}

// QuestStageCount is the number of quest stages.
const QuestStageCount = 4

// SessionState is the single authoritative replicated record describing
// the current round and mode of one live event. Exactly one writer (the
// session engine acting for the host); guests and screens only read it.
//
// Invariant: IsActive == (CurrentIndex >= 0 || IsCountdown).
type SessionState struct {
	GameType         GameType   `json:"gameType"`
	CurrentIndex     int        `json:"currentIndex"`
	QuestStage       int        `json:"questStage"`
	IsActive         bool       `json:"isActive"`
	IsCountdown      bool       `json:"isCountdown"`
	CountdownValue   *int       `json:"countdownValue"`
	IsAnswerRevealed bool       `json:"isAnswerRevealed"`
	IsFinished       bool       `json:"isFinished"`
	Questions        []Question `json:"questions"`
	ArtTheme         string     `json:"artTheme"`
}

// IdleState is the initial and post-clear session snapshot for a mode.
func IdleState(t GameType) SessionState {
	return SessionState{
		GameType:     t,
		CurrentIndex: -1,
		QuestStage:   1,
	}
}

// Finished reports whether the session ended, either by running past
// the last round or by an explicit or threshold-triggered finish. Modes
// without a question list (races, art, quest) carry the explicit flag
// because currentIndex alone cannot express FINISHED for them.
func (s SessionState) Finished() bool {
	if s.IsFinished {
		return true
	}
	if s.GameType.IsQuizLike() {
		return s.CurrentIndex >= 0 && s.CurrentIndex >= len(s.Questions)
	}
	return false
}

// GuestRegistration is created on join and lives until clearScreen.
// Name doubles as the guest identity within an event.
type GuestRegistration struct {
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// AnswerRecord is keyed by (guestName, questionIndex); a resubmission for
// the same index overwrites the prior value.
type AnswerRecord struct {
	ChosenIndex    int       `json:"chosenIndex"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// ProgressCounter is a guest-owned monotonically non-decreasing counter
// for race modes. UpdatedAt is the server receipt time of the last
// accepted increment and orders simultaneous threshold crossings.
type ProgressCounter struct {
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// QuestResponse is keyed by (stage, guestName); one per guest per stage.
type QuestResponse struct {
	Value       string    `json:"value"`
	TimeTakenMs int64     `json:"timeTaken"`
	IsImage     bool      `json:"isImage"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// ImageSubmission is append-only; duplicates by the same guest are
// allowed and the last one wins for leaderboard purposes.
type ImageSubmission struct {
	GuestName string    `json:"guestName"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// Leaderboard is sorted by score descending, truncated to the top 5.
type Leaderboard struct {
	Code    string
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	Name  string
	Score int64
}
