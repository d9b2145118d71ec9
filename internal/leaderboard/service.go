// Package leaderboard recomputes standings from the replicated answer
// and progress records, mirrors running totals into a Redis sorted set
// for the host's scores panel, and publishes throttled
// leaderboard.updated events.
package leaderboard

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/persimon-pro/maybeu-live/internal/domain"
	"github.com/persimon-pro/maybeu-live/internal/errors"
	"github.com/persimon-pro/maybeu-live/internal/event"
	"github.com/persimon-pro/maybeu-live/internal/score"
	"github.com/persimon-pro/maybeu-live/internal/session"
	"github.com/persimon-pro/maybeu-live/internal/store"
)

// publishInterval throttles leaderboard.updated: a burst of answers in a
// short window produces a single published event.
const publishInterval = 200 * time.Millisecond

type Config struct {
	EventBus *event.Bus
	Store    store.Store
	Sessions *session.Manager
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb       *event.Bus
	st       store.Store
	sessions *session.Manager
	redis    redis.UniversalClient
	prefix   string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:       c.EventBus,
		st:       c.Store,
		sessions: c.Sessions,
		redis:    c.Redis,
		prefix:   c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameAnswerRecorded, func(ctx context.Context, e event.Event) error {
		return s.onRecord(ctx, e.(domain.EventAnswerRecorded).Code)
	})
	s.eb.Subscribe(domain.EventNameProgressUpdated, func(ctx context.Context, e event.Event) error {
		return s.onRecord(ctx, e.(domain.EventProgressUpdated).Code)
	})

	return s
}

type GetLeaderboardRequest struct {
	Code string
}

// GetLeaderboard recomputes the top-5 standings for the session's
// current mode. Pure aggregation over the store, so it is always
// consistent with the records even if the mirror lags.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	entries, err := s.compute(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("leaderboard not found: code=%s", req.Code))
	}

	return &domain.Leaderboard{Code: req.Code, Entries: entries}, nil
}

func (s *Service) compute(ctx context.Context, code string) ([]domain.LeaderboardEntry, error) {
	state := s.sessions.Engine(code).Snapshot()

	switch {
	case state.GameType.IsQuizLike():
		subs, err := s.readSubmissions(ctx, code)
		if err != nil {
			return nil, err
		}
		return score.QuizLeaderboard(state.Questions, subs), nil

	case state.GameType == domain.GameTypeQuest:
		subs, err := s.readQuestSubmissions(ctx, code)
		if err != nil {
			return nil, err
		}
		return score.QuestLeaderboard(score.DefaultQuestTargets(time.Now()), subs), nil

	case state.GameType.IsRace():
		counters, err := s.readCounters(ctx, code, state.GameType)
		if err != nil {
			return nil, err
		}
		return score.RaceLeaderboard(counters), nil

	default:
		// IMAGE_GEN is not scored.
		return nil, nil
	}
}

// readSubmissions parses session_data/{code}/quiz_answers/{guest}/{index}.
func (s *Service) readSubmissions(ctx context.Context, code string) ([]score.Submission, error) {
	records, err := s.st.ReadPrefix(ctx, store.AnswersPrefix(code))
	if err != nil {
		return nil, err
	}

	subs := make([]score.Submission, 0, len(records))
	for path, raw := range records {
		rest := strings.TrimPrefix(path, store.AnswersPrefix(code))
		guest, idxStr, ok := strings.Cut(rest, "/")
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			continue
		}

		var rec domain.AnswerRecord
		if !(store.Snapshot{Path: path, Value: raw}).Decode(&rec) {
			continue
		}
		subs = append(subs, score.Submission{Name: guest, QuestionIndex: idx, Answer: rec})
	}

	return subs, nil
}

// readQuestSubmissions parses session_data/{code}/quest_responses/{stage}/{guest}.
func (s *Service) readQuestSubmissions(ctx context.Context, code string) ([]score.QuestSubmission, error) {
	records, err := s.st.ReadPrefix(ctx, store.QuestResponsesPrefix(code))
	if err != nil {
		return nil, err
	}

	subs := make([]score.QuestSubmission, 0, len(records))
	for path, raw := range records {
		rest := strings.TrimPrefix(path, store.QuestResponsesPrefix(code))
		stageStr, guest, ok := strings.Cut(rest, "/")
		if !ok {
			continue
		}
		stage, err := strconv.Atoi(stageStr)
		if err != nil {
			continue
		}

		var resp domain.QuestResponse
		if !(store.Snapshot{Path: path, Value: raw}).Decode(&resp) {
			continue
		}
		subs = append(subs, score.QuestSubmission{Stage: stage, Name: guest, Response: resp})
	}

	return subs, nil
}

func (s *Service) readCounters(ctx context.Context, code string, t domain.GameType) (map[string]domain.ProgressCounter, error) {
	prefix := store.RacePrefix(code)
	if t == domain.GameTypeShakeIt {
		prefix = store.ShakePrefix(code)
	}

	records, err := s.st.ReadPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	counters := make(map[string]domain.ProgressCounter, len(records))
	for path, raw := range records {
		var c domain.ProgressCounter
		if !(store.Snapshot{Path: path, Value: raw}).Decode(&c) {
			continue
		}
		counters[strings.TrimPrefix(path, prefix)] = c
	}

	return counters, nil
}

// onRecord recomputes, mirrors the totals and maybe publishes.
func (s *Service) onRecord(ctx context.Context, code string) error {
	entries, err := s.compute(ctx, code)
	if err != nil {
		return fmt.Errorf("leaderboard: compute: code=%s: %w", code, err)
	}
	if len(entries) == 0 {
		return nil
	}

	zs := make([]redis.Z, 0, len(entries))
	for _, e := range entries {
		zs = append(zs, redis.Z{Score: float64(e.Score), Member: e.Name})
	}
	if err := s.redis.ZAdd(ctx, s.totalsKey(code), zs...).Err(); err != nil {
		return fmt.Errorf("leaderboard: mirror totals: %w", err)
	}

	return s.schedulePublish(ctx, code, entries)
}

// Totals returns every mirrored running total, score descending. The
// host's scores panel shows all guests, not just the podium.
func (s *Service) Totals(ctx context.Context, code string) ([]domain.LeaderboardEntry, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.totalsKey(code), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard: read totals: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			Name:  z.Member.(string),
			Score: int64(z.Score),
		})
	}

	return entries, nil
}

// Reset drops the mirrored totals for an event; called on clearScreen.
func (s *Service) Reset(ctx context.Context, code string) error {
	return s.redis.Del(ctx, s.totalsKey(code), s.publishGateKey(code)).Err()
}

// schedulePublish publishes at most once per interval per event. The
// SetNX gate keeps a burst of simultaneous answers from fanning out a
// storm of identical leaderboards; it also keeps multiple instances
// from double-publishing.
func (s *Service) schedulePublish(ctx context.Context, code string, entries []domain.LeaderboardEntry) error {
	ok, err := s.redis.SetNX(ctx, s.publishGateKey(code), time.Now().UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("leaderboard: setnx: %w", err)
	}
	if !ok {
		return nil
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: domain.Leaderboard{Code: code, Entries: entries},
	})

	return nil
}

func (s *Service) totalsKey(code string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, code)
}

func (s *Service) publishGateKey(code string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, code)
}
