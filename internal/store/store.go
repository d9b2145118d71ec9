// Package store is the replicated key-value surface everything session
// scoped lives behind. The core never touches a vendor SDK directly:
// all path strings are centralized here and the adapter can be backed
// by any pub/sub KV system.
package store

import (
	"context"
	"encoding/json"
)

// Snapshot is one observed mutation of a path. A nil Value means the
// path was deleted.
type Snapshot struct {
	Path  string
	Value json.RawMessage
}

// Decode unmarshals the snapshot into out. A malformed payload decodes
// to the zero value rather than failing: readers treat corruption as
// "no data" and re-converge on the next notification.
func (s Snapshot) Decode(out any) bool {
	if len(s.Value) == 0 {
		return false
	}
	if err := json.Unmarshal(s.Value, out); err != nil {
		return false
	}
	return true
}

// UnsubscribeFunc stops a subscription. Safe to call more than once.
type UnsubscribeFunc func()

// Callback receives snapshots. Callbacks must not block; writes issued
// from within a callback are fire-and-forget.
type Callback func(Snapshot)

// Store is the replicated KV contract. Writes with a nil value delete
// the path. Subscribe accepts either an exact path or a prefix pattern
// ending in "*" and delivers every subsequent write under it.
type Store interface {
	Write(ctx context.Context, path string, value any) error
	Subscribe(ctx context.Context, pattern string, cb Callback) (UnsubscribeFunc, error)
	ReadOnce(ctx context.Context, path string, out any) (bool, error)

	// ReadPrefix returns every live path under the prefix. Aggregation
	// (leaderboards, answer coverage) enumerates collections this way.
	ReadPrefix(ctx context.Context, prefix string) (map[string]json.RawMessage, error)

	// DeletePrefix removes every path under the prefix and notifies
	// subscribers of each deletion. The only caller is clearScreen.
	DeletePrefix(ctx context.Context, prefix string) error
}
