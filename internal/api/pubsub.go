package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/persimon-pro/maybeu-live/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	LeaderboardPayload struct {
		Code    string             `json:"code"`
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Name  string `json:"name"`
		Score int64  `json:"score"`
	}
)

// PublishLeaderboardUpdated fans the refreshed standings out on the
// event channel plus one channel per ranked guest, so a guest client
// only has to subscribe to its own name to hear about podium changes.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard

	data := LeaderboardPayload{
		Code:    l.Code,
		Entries: make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for _, entry := range l.Entries {
		data.Entries = append(data.Entries, LeaderboardEntry{
			Name:  entry.Name,
			Score: entry.Score,
		})
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	eg.Go(func() error {
		return a.publishNotification(ctx, fmt.Sprintf("%s:event:%s", a.prefix, l.Code), e.Name(), data)
	})
	for _, entry := range data.Entries {
		entry := entry
		eg.Go(func() error {
			channel := fmt.Sprintf("%s:guest:%s:%s", a.prefix, l.Code, entry.Name)
			return a.publishNotification(ctx, channel, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}
