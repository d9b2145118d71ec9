package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed adapter. Prefix namespaces
// both keys and notification channels so several deployments can share
// one Redis.
type RedisConfig struct {
	Client redis.UniversalClient
	Prefix string
}

// Redis implements Store over Redis: plain keys for state, pub/sub
// channels mirroring every write for push notifications.
type Redis struct {
	rc     redis.UniversalClient
	prefix string
}

func NewRedis(c RedisConfig) *Redis {
	return &Redis{rc: c.Client, prefix: c.Prefix}
}

func (r *Redis) key(path string) string {
	return fmt.Sprintf("%s:kv:%s", r.prefix, path)
}

func (r *Redis) channel(path string) string {
	return fmt.Sprintf("%s:notify:%s", r.prefix, path)
}

func (r *Redis) pathFromChannel(ch string) string {
	return strings.TrimPrefix(ch, fmt.Sprintf("%s:notify:", r.prefix))
}

// Write sets the path and notifies subscribers. A nil value deletes.
func (r *Redis) Write(ctx context.Context, path string, value any) error {
	if value == nil {
		return r.delete(ctx, path)
	}

	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", path, err)
	}

	if err := r.rc.Set(ctx, r.key(path), b, 0).Err(); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}

	return r.rc.Publish(ctx, r.channel(path), b).Err()
}

func (r *Redis) delete(ctx context.Context, path string) error {
	if err := r.rc.Del(ctx, r.key(path)).Err(); err != nil {
		return fmt.Errorf("store: delete %s: %w", path, err)
	}

	// Empty payload is the deletion tombstone.
	return r.rc.Publish(ctx, r.channel(path), "").Err()
}

// Subscribe delivers every subsequent write matching the pattern. The
// callback runs on the subscription's reader goroutine and must not
// block. The returned func stops delivery and is safe to call twice.
func (r *Redis) Subscribe(ctx context.Context, pattern string, cb Callback) (UnsubscribeFunc, error) {
	var ps *redis.PubSub
	if strings.HasSuffix(pattern, "*") {
		ps = r.rc.PSubscribe(ctx, r.channel(pattern))
	} else {
		ps = r.rc.Subscribe(ctx, r.channel(pattern))
	}

	// Force the subscription to be established before returning, so a
	// caller's follow-up writes are guaranteed to be observed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("store: subscribe %s: %w", pattern, err)
	}

	go func() {
		for msg := range ps.Channel() {
			snap := Snapshot{Path: r.pathFromChannel(msg.Channel)}
			if msg.Payload != "" {
				snap.Value = json.RawMessage(msg.Payload)
			}
			cb(snap)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := ps.Close(); err != nil {
				slog.Error("store: close subscription failed", "pattern", pattern, "error", err)
			}
		})
	}, nil
}

// ReadOnce reads the current value of a path into out. Returns false
// when the path is absent or the stored payload is malformed; a missing
// snapshot is never an error for callers.
func (r *Redis) ReadOnce(ctx context.Context, path string, out any) (bool, error) {
	b, err := r.rc.Get(ctx, r.key(path)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: read %s: %w", path, err)
	}

	if err := json.Unmarshal(b, out); err != nil {
		slog.Warn("store: malformed snapshot, treating as absent", "path", path, "error", err)
		return false, nil
	}

	return true, nil
}

// ReadPrefix returns all live paths under the prefix with their raw values.
func (r *Redis) ReadPrefix(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	keys, err := r.scan(ctx, prefix)
	if err != nil {
		return nil, err
	}

	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		b, err := r.rc.Get(ctx, k).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store: read prefix %s: %w", prefix, err)
		}
		path := strings.TrimPrefix(k, fmt.Sprintf("%s:kv:", r.prefix))
		out[path] = json.RawMessage(b)
	}

	return out, nil
}

// DeletePrefix removes everything under the prefix, notifying
// subscribers per deleted path.
func (r *Redis) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := r.scan(ctx, prefix)
	if err != nil {
		return err
	}

	for _, k := range keys {
		path := strings.TrimPrefix(k, fmt.Sprintf("%s:kv:", r.prefix))
		if err := r.delete(ctx, path); err != nil {
			return err
		}
	}

	return nil
}

func (r *Redis) scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.rc.Scan(ctx, 0, r.key(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("store: scan %s: %w", prefix, err)
	}
	return keys, nil
}
