package presence_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/persimon-pro/maybeu-live/internal/domain"
	"github.com/persimon-pro/maybeu-live/internal/presence"
	"github.com/persimon-pro/maybeu-live/internal/store"
)

const code = "LOVE24"

func TestMonitor_ScreenConnected(t *testing.T) {
	ctx := context.Background()
	st, clock := makeStore(t)

	m, err := presence.NewMonitor(ctx, code, presence.Config{Store: st, Clock: clock})
	require.NoError(t, err)
	t.Cleanup(m.Stop)

	require.False(t, m.ScreenConnected(), "no beat yet means offline")

	hb := presence.Heartbeat{LastSeen: clock.Now()}
	require.NoError(t, st.Write(ctx, store.ScreenSeenPath(code), hb))

	require.Eventually(t, m.ScreenConnected, 2*time.Second, 5*time.Millisecond,
		"a fresh beat flips the screen online")

	// Just inside the threshold: still connected.
	clock.Advance(presence.StaleThreshold - time.Millisecond)
	require.True(t, m.ScreenConnected())

	// Crossing it: gone.
	clock.Advance(time.Millisecond)
	require.False(t, m.ScreenConnected(), "a stale beat flips the screen offline")
}

func TestMonitor_PrimesFromExistingBeat(t *testing.T) {
	ctx := context.Background()
	st, clock := makeStore(t)

	hb := presence.Heartbeat{LastSeen: clock.Now()}
	require.NoError(t, st.Write(ctx, store.ScreenSeenPath(code), hb))

	m, err := presence.NewMonitor(ctx, code, presence.Config{Store: st, Clock: clock})
	require.NoError(t, err)
	t.Cleanup(m.Stop)

	require.True(t, m.ScreenConnected(), "a monitor started after the beat must see it")
}

func TestMonitor_GuestCount(t *testing.T) {
	ctx := context.Background()
	st, clock := makeStore(t)

	m, err := presence.NewMonitor(ctx, code, presence.Config{Store: st, Clock: clock})
	require.NoError(t, err)
	t.Cleanup(m.Stop)

	n, err := m.GuestCount(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	for _, name := range []string{"ana", "bo", "cy"} {
		reg := domain.GuestRegistration{Name: name, JoinedAt: clock.Now()}
		require.NoError(t, st.Write(ctx, store.RegistryPath(code, name), reg))
	}

	n, err = m.GuestCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestPulse(t *testing.T) {
	ctx := context.Background()
	st, clock := makeStore(t)

	stop := presence.Pulse(ctx, code, presence.Config{Store: st, Clock: clock})
	defer stop()

	// The first beat lands immediately, before the first tick.
	var hb presence.Heartbeat
	found, err := st.ReadOnce(ctx, store.ScreenSeenPath(code), &hb)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, hb.LastSeen.Equal(clock.Now()))

	clock.BlockUntil(1)
	clock.Advance(presence.HeartbeatInterval)

	require.Eventually(t, func() bool {
		var hb presence.Heartbeat
		found, err := st.ReadOnce(ctx, store.ScreenSeenPath(code), &hb)
		return err == nil && found && hb.LastSeen.Equal(clock.Now())
	}, 2*time.Second, 5*time.Millisecond, "each tick refreshes the beat")

	// After stop the beat stays frozen and goes stale on its own.
	stop()
	stop() // idempotent

	found, err = st.ReadOnce(ctx, store.ScreenSeenPath(code), &hb)
	require.NoError(t, err)
	require.True(t, found)
	frozen := hb.LastSeen

	clock.Advance(10 * presence.HeartbeatInterval)
	time.Sleep(50 * time.Millisecond)

	found, err = st.ReadOnce(ctx, store.ScreenSeenPath(code), &hb)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, hb.LastSeen.Equal(frozen), "no writes after stop")
	require.GreaterOrEqual(t, clock.Since(hb.LastSeen), presence.StaleThreshold, "the stopped beat goes stale")
}

func makeStore(t *testing.T) (store.Store, *clockwork.FakeClock) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	t.Cleanup(func() { rc.Close() })
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return store.NewRedis(store.RedisConfig{Client: rc, Prefix: "test"}), clockwork.NewFakeClock()
}
