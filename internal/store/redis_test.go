package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/persimon-pro/maybeu-live/internal/store"
)

type record struct {
	Value string `json:"value"`
}

func TestRedis_WriteRead(t *testing.T) {
	s := makeStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "active_events/LOVE24/gameState", record{Value: "v1"}))

	var got record
	found, err := s.ReadOnce(ctx, "active_events/LOVE24/gameState", &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, record{Value: "v1"}, got)
}

func TestRedis_ReadAbsent(t *testing.T) {
	s := makeStore(t)

	var got record
	found, err := s.ReadOnce(context.Background(), "active_events/NOPE/gameState", &got)
	require.NoError(t, err)
	require.False(t, found, "absent path must read as not found, not as an error")
}

func TestRedis_ReadMalformed(t *testing.T) {
	rs := miniredis.RunT(t)
	rc := makeClient(t, rs)
	s := store.NewRedis(store.RedisConfig{Client: rc, Prefix: "test"})

	rs.Set("test:kv:active_events/LOVE24/gameState", "{not json")

	var got record
	found, err := s.ReadOnce(context.Background(), "active_events/LOVE24/gameState", &got)
	require.NoError(t, err)
	require.False(t, found, "malformed snapshots read as absent")
}

func TestRedis_Subscribe(t *testing.T) {
	s := makeStore(t)
	ctx := context.Background()

	snaps := collect(t, s, "active_events/LOVE24/gameState")

	require.NoError(t, s.Write(ctx, "active_events/LOVE24/gameState", record{Value: "v1"}))

	snap := next(t, snaps)
	require.Equal(t, "active_events/LOVE24/gameState", snap.Path)

	var got record
	require.True(t, snap.Decode(&got))
	require.Equal(t, record{Value: "v1"}, got)
}

func TestRedis_SubscribeDeletionTombstone(t *testing.T) {
	s := makeStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "active_events/LOVE24/gameState", record{Value: "v1"}))

	snaps := collect(t, s, "active_events/LOVE24/gameState")

	require.NoError(t, s.Write(ctx, "active_events/LOVE24/gameState", nil))

	snap := next(t, snaps)
	require.Empty(t, snap.Value, "deletion must notify with an empty payload")

	var got record
	require.False(t, snap.Decode(&got))
}

func TestRedis_SubscribePattern(t *testing.T) {
	s := makeStore(t)
	ctx := context.Background()

	snaps := collect(t, s, "session_data/LOVE24/quiz_answers/*")

	require.NoError(t, s.Write(ctx, "session_data/LOVE24/quiz_answers/ana/0", record{Value: "a"}))
	require.NoError(t, s.Write(ctx, "session_data/LOVE24/quiz_answers/bo/0", record{Value: "b"}))
	require.NoError(t, s.Write(ctx, "session_data/OTHER/quiz_answers/cy/0", record{Value: "c"}))

	paths := map[string]bool{
		next(t, snaps).Path: true,
		next(t, snaps).Path: true,
	}
	require.Equal(t, map[string]bool{
		"session_data/LOVE24/quiz_answers/ana/0": true,
		"session_data/LOVE24/quiz_answers/bo/0":  true,
	}, paths, "pattern must only match its own event")
}

func TestRedis_Unsubscribe(t *testing.T) {
	s := makeStore(t)
	ctx := context.Background()

	var mu sync.Mutex
	var n int
	unsub, err := s.Subscribe(ctx, "active_events/LOVE24/gameState", func(store.Snapshot) {
		mu.Lock()
		n++
		mu.Unlock()
	})
	require.NoError(t, err)

	unsub()
	unsub() // safe to call twice

	require.NoError(t, s.Write(ctx, "active_events/LOVE24/gameState", record{Value: "v1"}))

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, n, "no delivery after unsubscribe")
}

func TestRedis_ReadPrefix(t *testing.T) {
	s := makeStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "session_data/LOVE24/quiz_answers/ana/0", record{Value: "a"}))
	require.NoError(t, s.Write(ctx, "session_data/LOVE24/quiz_answers/ana/1", record{Value: "b"}))
	require.NoError(t, s.Write(ctx, "session_data/LOVE24/registered_guests/ana", record{Value: "c"}))

	got, err := s.ReadPrefix(ctx, "session_data/LOVE24/quiz_answers/")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Contains(t, got, "session_data/LOVE24/quiz_answers/ana/0")
	require.Contains(t, got, "session_data/LOVE24/quiz_answers/ana/1")
}

func TestRedis_DeletePrefix(t *testing.T) {
	s := makeStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "session_data/LOVE24/quiz_answers/ana/0", record{Value: "a"}))
	require.NoError(t, s.Write(ctx, "session_data/LOVE24/race_progress/ana", record{Value: "b"}))
	require.NoError(t, s.Write(ctx, "active_events/LOVE24/gameState", record{Value: "keep"}))

	require.NoError(t, s.DeletePrefix(ctx, "session_data/LOVE24/"))

	got, err := s.ReadPrefix(ctx, "session_data/LOVE24/")
	require.NoError(t, err)
	require.Empty(t, got)

	var kept record
	found, err := s.ReadOnce(ctx, "active_events/LOVE24/gameState", &kept)
	require.NoError(t, err)
	require.True(t, found, "deletion must stay inside its prefix")
}

func makeStore(t *testing.T) store.Store {
	rs := miniredis.RunT(t)
	return store.NewRedis(store.RedisConfig{Client: makeClient(t, rs), Prefix: "test"})
}

func makeClient(t *testing.T, rs *miniredis.Miniredis) redis.UniversalClient {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	t.Cleanup(func() { rc.Close() })
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return rc
}

func collect(t *testing.T, s store.Store, pattern string) <-chan store.Snapshot {
	snaps := make(chan store.Snapshot, 16)
	unsub, err := s.Subscribe(context.Background(), pattern, func(snap store.Snapshot) {
		snaps <- snap
	})
	require.NoError(t, err)
	t.Cleanup(unsub)

	return snaps
}

func next(t *testing.T, snaps <-chan store.Snapshot) store.Snapshot {
	t.Helper()

	select {
	case snap := <-snaps:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a snapshot")
		return store.Snapshot{}
	}
}
