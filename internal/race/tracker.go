// Package race watches guest progress counters and ends the session
// once any counter reaches the mode's threshold (PUSH_IT 50, SHAKE_IT 150).
package race

import (
	"context"
	"log/slog"
	"sync"

	"github.com/persimon-pro/maybeu-live/internal/domain"
	"github.com/persimon-pro/maybeu-live/internal/session"
	"github.com/persimon-pro/maybeu-live/internal/store"
)

type Config struct {
	Store    store.Store
	Sessions *session.Manager
}

// Service owns one tracker per event code.
type Service struct {
	c Config

	mu       sync.Mutex
	trackers map[string]*Tracker
}

func NewService(c Config) *Service {
	return &Service{
		c:        c,
		trackers: make(map[string]*Tracker),
	}
}

// Ensure starts a tracker for the code if none is running yet.
func (s *Service) Ensure(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trackers[code]; ok {
		return nil
	}

	t := &Tracker{
		code:   code,
		st:     s.c.Store,
		engine: s.c.Sessions.Engine(code),
	}
	if err := t.start(ctx); err != nil {
		return err
	}
	s.trackers[code] = t
	return nil
}

// Close stops every tracker.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for code, t := range s.trackers {
		t.stop()
		delete(s.trackers, code)
	}
}

// Tracker observes one event's counters through the store subscription.
type Tracker struct {
	code   string
	st     store.Store
	engine *session.Engine

	unsubs []store.UnsubscribeFunc
}

func (t *Tracker) start(ctx context.Context) error {
	for _, pattern := range []string{
		store.RacePrefix(t.code) + "*",
		store.ShakePrefix(t.code) + "*",
	} {
		unsub, err := t.st.Subscribe(ctx, pattern, t.onCounter)
		if err != nil {
			t.stop()
			return err
		}
		t.unsubs = append(t.unsubs, unsub)
	}
	return nil
}

func (t *Tracker) stop() {
	for _, unsub := range t.unsubs {
		unsub()
	}
	t.unsubs = nil
}

// onCounter checks the threshold on every counter update. Once finished
// the engine rejects further FinishGame calls, so late crossings are
// ignored; the winner is read off the race leaderboard, which orders
// equal counts by earliest write timestamp rather than map iteration.
func (t *Tracker) onCounter(snap store.Snapshot) {
	var c domain.ProgressCounter
	if !snap.Decode(&c) {
		return
	}

	s := t.engine.Snapshot()
	if !s.GameType.IsRace() || !s.IsActive || s.IsCountdown || s.Finished() {
		return
	}

	if c.Count >= s.GameType.Threshold() {
		ctx := context.Background()
		slog.InfoContext(ctx, "race: threshold reached",
			"code", t.code, "game", string(s.GameType), "count", c.Count)
		t.engine.FinishGame(ctx)
	}
}
