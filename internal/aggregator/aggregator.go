// Package aggregator watches answer coverage and performs the host's
// reveal/advance two-step automatically once every registered guest has
// answered the current round.
package aggregator

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/persimon-pro/maybeu-live/internal/domain"
	"github.com/persimon-pro/maybeu-live/internal/event"
	"github.com/persimon-pro/maybeu-live/internal/session"
	"github.com/persimon-pro/maybeu-live/internal/store"
)

// DwellTime is the delay between auto-reveal and auto-advance, giving
// the room time to see the correct answer.
const DwellTime = 4000 * time.Millisecond

type Config struct {
	Store    store.Store
	EventBus *event.Bus
	Sessions *session.Manager
	Clock    clockwork.Clock
}

// Service owns one watcher per event code.
type Service struct {
	c Config

	mu       sync.Mutex
	watchers map[string]*Watcher
}

func NewService(c Config) *Service {
	return &Service{
		c:        c,
		watchers: make(map[string]*Watcher),
	}
}

// Ensure starts a watcher for the code if none is running yet.
func (s *Service) Ensure(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.watchers[code]; ok {
		return nil
	}

	w := &Watcher{
		code:   code,
		st:     s.c.Store,
		clock:  s.c.Clock,
		engine: s.c.Sessions.Engine(code),
	}
	if err := w.start(ctx, s.c.EventBus); err != nil {
		return err
	}
	s.watchers[code] = w
	return nil
}

// Close stops every watcher.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for code, w := range s.watchers {
		w.stop()
		delete(s.watchers, code)
	}
}

// Watcher observes one event's answers and registrations through the
// store subscription and drives the engine when coverage completes.
type Watcher struct {
	code   string
	st     store.Store
	clock  clockwork.Clock
	engine *session.Engine

	mu           sync.Mutex
	advanceTimer clockwork.Timer
	scheduledFor int
	unsubs       []store.UnsubscribeFunc
}

func (w *Watcher) start(ctx context.Context, eb *event.Bus) error {
	onChange := func(store.Snapshot) { w.evaluate(context.Background()) }

	for _, pattern := range []string{
		store.AnswersPrefix(w.code) + "*",
		store.RegistryPrefix(w.code) + "*",
	} {
		unsub, err := w.st.Subscribe(ctx, pattern, onChange)
		if err != nil {
			w.stop()
			return err
		}
		w.unsubs = append(w.unsubs, unsub)
	}

	// A manual host action pre-empting the dwell timer must cancel it,
	// otherwise the room would skip a round on a double-advance.
	eb.Subscribe(domain.EventNameStateChanged, func(ctx context.Context, e event.Event) error {
		sc := e.(domain.EventStateChanged)
		if sc.Code == w.code {
			w.reconcile(sc.State)
		}
		return nil
	})

	return nil
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cancelTimerLocked()
	for _, unsub := range w.unsubs {
		unsub()
	}
	w.unsubs = nil
}

// evaluate re-checks the trigger condition. Safe under re-delivered
// snapshots: once the round is revealed every re-entry returns early,
// so only the first transition matters.
func (w *Watcher) evaluate(ctx context.Context) {
	s := w.engine.Snapshot()
	if !s.GameType.IsQuizLike() || !s.IsActive || s.Finished() || s.IsAnswerRevealed || s.CurrentIndex < 0 {
		return
	}

	registered, err := w.registeredCount(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "aggregator: count registrations failed", "code", w.code, "error", err)
		return
	}
	if registered == 0 {
		return
	}

	answered, err := w.distinctAnswered(ctx, s.CurrentIndex)
	if err != nil {
		slog.ErrorContext(ctx, "aggregator: count answers failed", "code", w.code, "error", err)
		return
	}
	if answered < registered {
		return
	}

	w.engine.Reveal(ctx)
	w.scheduleAdvance(s.CurrentIndex)
}

func (w *Watcher) registeredCount(ctx context.Context) (int, error) {
	regs, err := w.st.ReadPrefix(ctx, store.RegistryPrefix(w.code))
	if err != nil {
		return 0, err
	}
	return len(regs), nil
}

// distinctAnswered counts guests with an answer record for the index.
// Paths look like session_data/{code}/quiz_answers/{guest}/{index}.
func (w *Watcher) distinctAnswered(ctx context.Context, index int) (int, error) {
	records, err := w.st.ReadPrefix(ctx, store.AnswersPrefix(w.code))
	if err != nil {
		return 0, err
	}

	guests := make(map[string]struct{})
	for path := range records {
		rest := strings.TrimPrefix(path, store.AnswersPrefix(w.code))
		guest, idx, ok := strings.Cut(rest, "/")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(idx); err == nil && n == index {
			guests[guest] = struct{}{}
		}
	}

	return len(guests), nil
}

// scheduleAdvance arms the dwell timer for the revealed round, once.
func (w *Watcher) scheduleAdvance(index int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.advanceTimer != nil && w.scheduledFor == index {
		return
	}
	w.cancelTimerLocked()

	w.scheduledFor = index
	w.advanceTimer = w.clock.AfterFunc(DwellTime, func() {
		w.fireAdvance(index)
	})
}

// fireAdvance re-validates before acting: the session must still sit on
// the revealed round the timer was armed for.
func (w *Watcher) fireAdvance(index int) {
	w.mu.Lock()
	w.advanceTimer = nil
	w.mu.Unlock()

	s := w.engine.Snapshot()
	if s.CurrentIndex != index || !s.IsAnswerRevealed || !s.IsActive || s.Finished() {
		return
	}

	w.engine.Advance(context.Background())
}

// reconcile cancels a pending advance when the state moved away from
// the round it was scheduled for.
func (w *Watcher) reconcile(s domain.SessionState) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.advanceTimer == nil {
		return
	}
	if s.CurrentIndex != w.scheduledFor || !s.IsAnswerRevealed || !s.IsActive || s.Finished() {
		w.cancelTimerLocked()
	}
}

func (w *Watcher) cancelTimerLocked() {
	if w.advanceTimer != nil {
		w.advanceTimer.Stop()
		w.advanceTimer = nil
	}
}
