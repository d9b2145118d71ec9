package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/persimon-pro/maybeu-live/internal/aggregator"
	"github.com/persimon-pro/maybeu-live/internal/api"
	"github.com/persimon-pro/maybeu-live/internal/event"
	"github.com/persimon-pro/maybeu-live/internal/generator"
	"github.com/persimon-pro/maybeu-live/internal/leaderboard"
	"github.com/persimon-pro/maybeu-live/internal/race"
	"github.com/persimon-pro/maybeu-live/internal/session"
	"github.com/persimon-pro/maybeu-live/internal/store"
	"github.com/persimon-pro/maybeu-live/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Store struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Generator struct {
		BaseURL    string
		APIKey     string
		Model      string
		ImageModel string
	}
}

type Server struct {
	c Config

	eb    *event.Bus
	clock clockwork.Clock

	infra struct {
		redis struct {
			store       redis.UniversalClient
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		store store.Store
	}

	service struct {
		sessions    *session.Manager
		aggregator  *aggregator.Service
		race        *race.Service
		leaderboard *leaderboard.Service
		generator   generator.Generator
	}

	api  *api.API
	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()
	s.clock = clockwork.NewRealClock()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	s.infra.store = store.NewRedis(store.RedisConfig{
		Client: s.infra.redis.store,
		Prefix: s.c.Redis.Store.Prefix,
	})

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.store, err = connect(s.c.Redis.Store.Addrs, s.c.Redis.Store.Pass)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initService() {
	s.service.sessions = session.NewManager(session.Config{
		Store:    s.infra.store,
		EventBus: s.eb,
		Clock:    s.clock,
	})

	s.service.aggregator = aggregator.NewService(aggregator.Config{
		Store:    s.infra.store,
		EventBus: s.eb,
		Sessions: s.service.sessions,
		Clock:    s.clock,
	})

	s.service.race = race.NewService(race.Config{
		Store:    s.infra.store,
		Sessions: s.service.sessions,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Store:    s.infra.store,
		Sessions: s.service.sessions,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})

	s.service.generator = generator.New(generator.Config{
		BaseURL:    s.c.Generator.BaseURL,
		APIKey:     s.c.Generator.APIKey,
		Model:      s.c.Generator.Model,
		ImageModel: s.c.Generator.ImageModel,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.HTTPLogger())

	s.api = api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Store:        s.infra.store,
		Sessions:     s.service.sessions,
		Aggregator:   s.service.aggregator,
		Race:         s.service.race,
		Leaderboard:  s.service.leaderboard,
		Generator:    s.service.generator,
		Clock:        s.clock,
		Metrics:      telemetry.NewMetrics(),
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.api.Close()
	s.service.aggregator.Close()
	s.service.race.Close()
	s.service.sessions.Close()
	s.eb.Stop()

	slog.InfoContext(ctx, "server: shutdown completed")
}
