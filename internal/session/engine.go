// Package session holds the per-event state machine the host drives.
// All mutations serialize under the engine mutex, re-establish the
// isActive invariant, replicate the snapshot through the store and
// publish a state.changed event on the bus.
//
// Operations issued out of their allowed state are silent no-ops: the
// UI disables invalid actions, but stale client state must never crash
// or corrupt the session.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/persimon-pro/maybeu-live/internal/domain"
	"github.com/persimon-pro/maybeu-live/internal/event"
	"github.com/persimon-pro/maybeu-live/internal/store"
)

// CountdownSeconds is the PUSH_IT pre-race countdown.
const CountdownSeconds = 10

type Config struct {
	Store    store.Store
	EventBus *event.Bus
	Clock    clockwork.Clock
}

// Engine is the authoritative writer of one event's SessionState.
type Engine struct {
	code  string
	st    store.Store
	eb    *event.Bus
	clock clockwork.Clock

	mu            sync.Mutex
	state         domain.SessionState
	countdownStop chan struct{}
}

func newEngine(code string, c Config) *Engine {
	return &Engine{
		code:  code,
		st:    c.Store,
		eb:    c.EventBus,
		clock: c.Clock,
		state: domain.IdleState(domain.GameTypeQuiz),
	}
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() domain.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyStateLocked()
}

func (e *Engine) copyStateLocked() domain.SessionState {
	s := e.state
	s.Questions = append([]domain.Question(nil), e.state.Questions...)
	if e.state.CountdownValue != nil {
		v := *e.state.CountdownValue
		s.CountdownValue = &v
	}
	return s
}

// SelectMode switches the game mode. Allowed only from IDLE; resets the
// question list and any countdown.
func (e *Engine) SelectMode(ctx context.Context, t domain.GameType) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.IsActive {
		return
	}

	e.cancelCountdownLocked()
	art := e.state.ArtTheme
	e.state = domain.IdleState(t)
	e.state.ArtTheme = art
	e.commitLocked(ctx)
}

// SetArtTheme sets the IMAGE_GEN contest theme. No-op while a game is running.
func (e *Engine) SetArtTheme(ctx context.Context, theme string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.IsActive {
		return
	}

	e.state.ArtTheme = theme
	e.commitLocked(ctx)
}

// AddQuestion appends a question. Appending is always safe: the new
// round is in the future by construction.
func (e *Engine) AddQuestion(ctx context.Context, q domain.Question) {
	e.AppendQuestions(ctx, []domain.Question{q})
}

// AppendQuestions appends a generated batch without clobbering manual
// edits made while generation was in flight.
func (e *Engine) AppendQuestions(ctx context.Context, qs []domain.Question) {
	if len(qs) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, q := range qs {
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		e.state.Questions = append(e.state.Questions, q)
	}
	e.commitLocked(ctx)
}

// RemoveQuestion drops the question at index i. No-op for the active or
// an already-played round, or out of range.
func (e *Engine) RemoveQuestion(ctx context.Context, i int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if i < 0 || i >= len(e.state.Questions) {
		return
	}
	if e.state.CurrentIndex >= 0 && i <= e.state.CurrentIndex {
		return
	}

	e.state.Questions = append(e.state.Questions[:i], e.state.Questions[i+1:]...)
	e.commitLocked(ctx)
}

// StartGame leaves IDLE. Quiz-like modes need at least one question and
// open round 0. PUSH_IT opens a 10 second countdown driven by a host
// side ticker; the other modes go live immediately.
func (e *Engine) StartGame(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.IsActive || e.state.Finished() {
		return
	}

	if e.state.GameType.IsQuizLike() && len(e.state.Questions) == 0 {
		return
	}

	if e.state.GameType == domain.GameTypePushIt {
		e.startCountdownLocked()
		e.commitLocked(ctx)
		return
	}

	if e.state.GameType.IsRace() {
		// SHAKE_IT starts without a countdown; stale counters from a
		// previous run must not win the new race.
		e.clearCountersLocked(ctx)
	}

	e.state.CurrentIndex = 0
	e.state.QuestStage = 1
	e.commitLocked(ctx)
}

// Reveal flips isAnswerRevealed for the active quiz round. No-op if
// already revealed or outside a quiz round.
func (e *Engine) Reveal(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.revealLocked(ctx)
}

func (e *Engine) revealLocked(ctx context.Context) {
	if !e.state.GameType.IsQuizLike() {
		return
	}
	if e.state.CurrentIndex < 0 || e.state.Finished() || e.state.IsAnswerRevealed {
		return
	}

	e.state.IsAnswerRevealed = true
	e.commitLocked(ctx)
}

// Advance moves the session forward. For quiz-like modes the first press
// reveals the answer and the second one moves to the next round, so the
// room always sees the correct answer before moving on. For QUEST it
// steps the stage. Races and art contests only end via FinishGame.
func (e *Engine) Advance(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.IsActive || e.state.IsCountdown || e.state.Finished() {
		return
	}

	switch {
	case e.state.GameType.IsQuizLike():
		if !e.state.IsAnswerRevealed {
			e.revealLocked(ctx)
			return
		}
		e.state.CurrentIndex++
		e.state.IsAnswerRevealed = false
		if e.state.CurrentIndex >= len(e.state.Questions) {
			e.state.IsFinished = true
		}
		e.commitLocked(ctx)

	case e.state.GameType == domain.GameTypeQuest:
		if e.state.QuestStage >= domain.QuestStageCount {
			e.state.QuestStage = domain.QuestStageCount + 1
			e.state.IsFinished = true
		} else {
			e.state.QuestStage++
		}
		e.commitLocked(ctx)
	}
}

// FinishGame terminates any active state early. Also the landing point
// for threshold race completion.
func (e *Engine) FinishGame(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.IsActive || e.state.Finished() {
		return
	}

	e.cancelCountdownLocked()
	e.state.IsCountdown = false
	e.state.CountdownValue = nil
	e.state.CurrentIndex = len(e.state.Questions)
	e.state.IsAnswerRevealed = false
	e.state.IsFinished = true
	e.commitLocked(ctx)
}

// ClearScreen returns to IDLE from any state and wipes every session
// scoped record (answers, counters, quest responses, images, registry)
// for the event code. The only deletion path for session data.
func (e *Engine) ClearScreen(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelCountdownLocked()
	art := e.state.ArtTheme
	e.state = domain.IdleState(e.state.GameType)
	e.state.ArtTheme = art

	if err := e.st.DeletePrefix(ctx, store.SessionDataPrefix(e.code)); err != nil {
		slog.ErrorContext(ctx, "session: clear session data failed", "code", e.code, "error", err)
	}

	e.commitLocked(ctx)
}

// Close cancels any running timer. The replicated state is left as is.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelCountdownLocked()
}

func (e *Engine) startCountdownLocked() {
	e.cancelCountdownLocked()

	v := CountdownSeconds
	e.state.IsCountdown = true
	e.state.CountdownValue = &v

	stop := make(chan struct{})
	e.countdownStop = stop

	ticker := e.clock.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if e.tickCountdown() {
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

// tickCountdown decrements once per second; at zero it wipes stale race
// counters and opens the race. Returns true once the countdown is over.
func (e *Engine) tickCountdown() bool {
	ctx := context.Background()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.IsCountdown || e.state.CountdownValue == nil {
		return true
	}

	v := *e.state.CountdownValue - 1
	if v > 0 {
		e.state.CountdownValue = &v
		e.commitLocked(ctx)
		return false
	}

	e.clearCountersLocked(ctx)
	e.state.IsCountdown = false
	e.state.CountdownValue = nil
	e.state.CurrentIndex = 0
	e.commitLocked(ctx)
	return true
}

func (e *Engine) clearCountersLocked(ctx context.Context) {
	for _, prefix := range []string{store.RacePrefix(e.code), store.ShakePrefix(e.code)} {
		if err := e.st.DeletePrefix(ctx, prefix); err != nil {
			slog.ErrorContext(ctx, "session: clear counters failed", "code", e.code, "error", err)
		}
	}
}

func (e *Engine) cancelCountdownLocked() {
	if e.countdownStop != nil {
		close(e.countdownStop)
		e.countdownStop = nil
	}
	e.state.IsCountdown = false
	e.state.CountdownValue = nil
}

// commitLocked re-establishes the invariant, replicates the snapshot and
// publishes state.changed. Store failures are logged, not surfaced: the
// next successful commit re-converges every observer.
func (e *Engine) commitLocked(ctx context.Context) {
	e.state.IsActive = e.state.CurrentIndex >= 0 || e.state.IsCountdown

	snap := e.copyStateLocked()
	if err := e.st.Write(ctx, store.GameStatePath(e.code), snap); err != nil {
		slog.ErrorContext(ctx, "session: replicate state failed", "code", e.code, "error", err)
	}

	e.eb.Publish(ctx, domain.EventStateChanged{Code: e.code, State: snap})
}
