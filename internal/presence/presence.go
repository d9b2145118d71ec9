// Package presence derives device liveness from replicated heartbeats.
// The screen writes a timestamp on a fixed beat; the host treats it as
// connected while the last beat is fresh. Guests have no heartbeat:
// their registration count only shrinks on clearScreen.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/persimon-pro/maybeu-live/internal/store"
)

const (
	// HeartbeatInterval is how often a screen writes its beat.
	HeartbeatInterval = 2 * time.Second
	// StaleThreshold is how old the last beat may be before the host
	// shows the screen as offline.
	StaleThreshold = 5 * time.Second
)

// Heartbeat is the replicated screen liveness record.
type Heartbeat struct {
	LastSeen time.Time `json:"lastSeen"`
}

type Config struct {
	Store store.Store
	Clock clockwork.Clock
}

// Monitor is the host-side view of one event's presence.
type Monitor struct {
	code  string
	st    store.Store
	clock clockwork.Clock

	mu       sync.Mutex
	lastSeen time.Time
	unsub    store.UnsubscribeFunc
}

// NewMonitor subscribes to the screen heartbeat path and primes the
// cache from the current value. Callers must Stop it on teardown.
func NewMonitor(ctx context.Context, code string, c Config) (*Monitor, error) {
	m := &Monitor{code: code, st: c.Store, clock: c.Clock}

	var hb Heartbeat
	if ok, err := c.Store.ReadOnce(ctx, store.ScreenSeenPath(code), &hb); err != nil {
		return nil, err
	} else if ok {
		m.lastSeen = hb.LastSeen
	}

	unsub, err := c.Store.Subscribe(ctx, store.ScreenSeenPath(code), func(snap store.Snapshot) {
		var hb Heartbeat
		if !snap.Decode(&hb) {
			return
		}
		m.mu.Lock()
		m.lastSeen = hb.LastSeen
		m.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	m.unsub = unsub

	return m, nil
}

// ScreenConnected reports whether the screen's last beat is fresh.
func (m *Monitor) ScreenConnected() bool {
	m.mu.Lock()
	last := m.lastSeen
	m.mu.Unlock()

	return !last.IsZero() && m.clock.Since(last) < StaleThreshold
}

// GuestCount counts registrations; this is the denominator the answer
// aggregator compares coverage against.
func (m *Monitor) GuestCount(ctx context.Context) (int, error) {
	regs, err := m.st.ReadPrefix(ctx, store.RegistryPrefix(m.code))
	if err != nil {
		return 0, err
	}
	return len(regs), nil
}

func (m *Monitor) Stop() {
	if m.unsub != nil {
		m.unsub()
	}
}

// Pulse writes the screen heartbeat on a fixed beat until stopped. The
// websocket gateway runs one per connected screen so a closed tab stops
// beating and goes stale within the threshold.
func Pulse(ctx context.Context, code string, c Config) (stop func()) {
	write := func() {
		hb := Heartbeat{LastSeen: c.Clock.Now()}
		if err := c.Store.Write(ctx, store.ScreenSeenPath(code), hb); err != nil {
			slog.ErrorContext(ctx, "presence: heartbeat write failed", "code", code, "error", err)
		}
	}
	write()

	done := make(chan struct{})
	ticker := c.Clock.NewTicker(HeartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				write()
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
