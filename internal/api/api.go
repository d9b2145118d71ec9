// Package api is the HTTP surface the host controller, guest clients
// and screen renderers call. It stays thin: every game rule lives in
// the engine and the watchers; handlers translate requests, enforce
// ownership of keys (guests only write records keyed by their own
// name) and map errors to HTTP statuses.
package api

import (
	"context"
	"crypto/rand"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/persimon-pro/maybeu-live/internal/aggregator"
	"github.com/persimon-pro/maybeu-live/internal/domain"
	"github.com/persimon-pro/maybeu-live/internal/errors"
	"github.com/persimon-pro/maybeu-live/internal/event"
	"github.com/persimon-pro/maybeu-live/internal/generator"
	"github.com/persimon-pro/maybeu-live/internal/leaderboard"
	"github.com/persimon-pro/maybeu-live/internal/presence"
	"github.com/persimon-pro/maybeu-live/internal/race"
	"github.com/persimon-pro/maybeu-live/internal/session"
	"github.com/persimon-pro/maybeu-live/internal/store"
	"github.com/persimon-pro/maybeu-live/internal/telemetry"
)

type Config struct {
	Router       *gin.Engine
	EventBus     *event.Bus
	Store        store.Store
	Sessions     *session.Manager
	Aggregator   *aggregator.Service
	Race         *race.Service
	Leaderboard  *leaderboard.Service
	Generator    generator.Generator
	Clock        clockwork.Clock
	Metrics      *telemetry.Metrics
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	st       store.Store
	sessions *session.Manager
	agg      *aggregator.Service
	race     *race.Service
	ls       *leaderboard.Service
	gen      generator.Generator
	eb       *event.Bus
	clock    clockwork.Clock
	metrics  *telemetry.Metrics

	redis  Redis
	prefix string

	mu       sync.Mutex
	monitors map[string]*presence.Monitor
}

func New(c Config) *API {
	a := &API{
		st:       c.Store,
		sessions: c.Sessions,
		agg:      c.Aggregator,
		race:     c.Race,
		ls:       c.Leaderboard,
		gen:      c.Generator,
		eb:       c.EventBus,
		clock:    c.Clock,
		metrics:  c.Metrics,
		redis:    c.Redis,
		prefix:   c.PubsubPrefix,
		monitors: make(map[string]*presence.Monitor),
	}

	a.routes(c.Router)

	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})
	c.EventBus.Subscribe(domain.EventNameStateChanged, func(context.Context, event.Event) error {
		a.metrics.StateTransitions.Inc()
		return nil
	})

	return a
}

func (a *API) routes(r *gin.Engine) {
	v1 := r.Group("/api")

	// Host: event lifecycle.
	v1.POST("/events", a.createEvent)
	v1.POST("/events/:id/status", a.setEventStatus)

	// Host: session control.
	g := v1.Group("/games/:code")
	g.POST("/mode", a.selectMode)
	g.POST("/theme", a.setArtTheme)
	g.POST("/questions", a.addQuestion)
	g.DELETE("/questions/:index", a.removeQuestion)
	g.POST("/generate", a.generateQuestions)
	g.POST("/start", a.hostOp((*session.Engine).StartGame))
	g.POST("/reveal", a.hostOp((*session.Engine).Reveal))
	g.POST("/advance", a.hostOp((*session.Engine).Advance))
	g.POST("/finish", a.hostOp((*session.Engine).FinishGame))
	g.POST("/clear", a.clearScreen)
	g.GET("/state", a.getState)
	g.GET("/images", a.getImages)
	g.GET("/presence", a.getPresence)
	g.GET("/leaderboard", a.getLeaderboard)
	g.GET("/scores", a.getScores)

	// Guests and screens.
	v1.POST("/join", a.join)
	g.POST("/answers", a.submitAnswer)
	g.POST("/progress", a.submitProgress)
	g.POST("/quest/:stage", a.submitQuestResponse)
	g.POST("/images", a.submitImage)
	g.POST("/heartbeat", a.heartbeat)

	r.GET("/ws/:code", a.streamState)
}

type CreateEventRequest struct {
	Name string `json:"name" binding:"required"`
	Date string `json:"date"`
	Code string `json:"code"`
}

func (a *API) createEvent(c *gin.Context) {
	var req CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	code := req.Code
	if code == "" {
		code = newEventCode()
	}

	ev := domain.Event{
		ID:     uuid.NewString(),
		Name:   req.Name,
		Date:   req.Date,
		Code:   code,
		Status: domain.EventStatusUpcoming,
	}

	if err := a.st.Write(c.Request.Context(), store.EventPath(ev.ID), ev); err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, ev)
}

type SetEventStatusRequest struct {
	Status domain.EventStatus `json:"status" binding:"required"`
}

var statusRank = map[domain.EventStatus]int{
	domain.EventStatusUpcoming:  0,
	domain.EventStatusLive:      1,
	domain.EventStatusCompleted: 2,
}

// setEventStatus moves the event forward; status never goes backward.
// Going LIVE publishes the event record under its code so guests can
// resolve it at join time.
func (a *API) setEventStatus(c *gin.Context) {
	var req SetEventStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	rank, ok := statusRank[req.Status]
	if !ok {
		abortError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown status %q", req.Status)))
		return
	}

	ctx := c.Request.Context()

	var ev domain.Event
	found, err := a.st.ReadOnce(ctx, store.EventPath(c.Param("id")), &ev)
	if err != nil {
		abortError(c, err)
		return
	}
	if !found {
		abortError(c, errors.New(errors.CodeNotFound,
			errors.WithMessagef("event not found: id=%s", c.Param("id"))))
		return
	}

	if rank < statusRank[ev.Status] {
		abortError(c, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("status cannot go back: %s -> %s", ev.Status, req.Status)))
		return
	}

	ev.Status = req.Status
	if err := a.st.Write(ctx, store.EventPath(ev.ID), ev); err != nil {
		abortError(c, err)
		return
	}
	if err := a.st.Write(ctx, store.CurrentEventPath(ev.Code), ev); err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, ev)
}

type SelectModeRequest struct {
	GameType domain.GameType `json:"gameType" binding:"required"`
}

func (a *API) selectMode(c *gin.Context) {
	var req SelectModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	e := a.sessions.Engine(c.Param("code"))
	e.SelectMode(c.Request.Context(), req.GameType)
	c.JSON(http.StatusOK, e.Snapshot())
}

type SetArtThemeRequest struct {
	ArtTheme string `json:"artTheme" binding:"required"`
}

func (a *API) setArtTheme(c *gin.Context) {
	var req SetArtThemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	e := a.sessions.Engine(c.Param("code"))
	e.SetArtTheme(c.Request.Context(), req.ArtTheme)
	c.JSON(http.StatusOK, e.Snapshot())
}

type AddQuestionRequest struct {
	Text               string   `json:"text" binding:"required"`
	Options            []string `json:"options"`
	CorrectAnswerIndex int      `json:"correctAnswerIndex"`
}

func (a *API) addQuestion(c *gin.Context) {
	var req AddQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	e := a.sessions.Engine(c.Param("code"))

	q := domain.Question{
		ID:                 uuid.NewString(),
		Text:               req.Text,
		Options:            req.Options,
		CorrectAnswerIndex: req.CorrectAnswerIndex,
	}
	// True/False rounds always get the fixed two options.
	if e.Snapshot().GameType == domain.GameTypeBelieveNot {
		q.Options = []string{"True", "False"}
	}

	e.AddQuestion(c.Request.Context(), q)
	c.JSON(http.StatusOK, e.Snapshot())
}

func (a *API) removeQuestion(c *gin.Context) {
	idx, ok := intParam(c, "index")
	if !ok {
		return
	}

	e := a.sessions.Engine(c.Param("code"))
	e.RemoveQuestion(c.Request.Context(), idx)
	c.JSON(http.StatusOK, e.Snapshot())
}

type GenerateRequest struct {
	Topic     string `json:"topic"`
	Language  string `json:"language"`
	Count     int    `json:"count"`
	Mood      string `json:"mood"`
	FactCheck bool   `json:"factCheck"`
}

// generateQuestions kicks off generation and returns immediately; the
// batch is appended to the question list when the provider responds, so
// manual edits made meanwhile are never clobbered. Failures degrade to
// an empty batch.
func (a *API) generateQuestions(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}
	if req.Count <= 0 {
		req.Count = 5
	}
	if req.Language == "" {
		req.Language = "en"
	}

	code := c.Param("code")
	e := a.sessions.Engine(code)

	go func() {
		ctx := context.Background()

		var (
			batch []domain.Question
			err   error
		)
		if req.FactCheck {
			batch, err = a.gen.GenerateFactChecks(ctx, req.Topic, req.Language, req.Count)
		} else {
			batch, err = a.gen.GenerateQuestions(ctx, req.Topic, req.Language, req.Count, req.Mood)
		}
		if err != nil {
			slog.ErrorContext(ctx, "api: question generation failed", "code", code, "error", err)
			return
		}

		e.AppendQuestions(ctx, batch)
	}()

	c.Status(http.StatusAccepted)
}

// hostOp adapts a no-argument engine operation into a handler.
func (a *API) hostOp(op func(*session.Engine, context.Context)) gin.HandlerFunc {
	return func(c *gin.Context) {
		e := a.sessions.Engine(c.Param("code"))
		op(e, c.Request.Context())
		c.JSON(http.StatusOK, e.Snapshot())
	}
}

func (a *API) clearScreen(c *gin.Context) {
	ctx := c.Request.Context()
	code := c.Param("code")

	e := a.sessions.Engine(code)
	e.ClearScreen(ctx)

	if err := a.ls.Reset(ctx, code); err != nil {
		slog.ErrorContext(ctx, "api: reset leaderboard failed", "code", code, "error", err)
	}

	c.JSON(http.StatusOK, e.Snapshot())
}

func (a *API) getState(c *gin.Context) {
	c.JSON(http.StatusOK, a.sessions.Engine(c.Param("code")).Snapshot())
}

// getImages returns the art contest gallery, oldest first, the order
// the screen appends them in.
func (a *API) getImages(c *gin.Context) {
	records, err := a.st.ReadPrefix(c.Request.Context(), store.ImagesPrefix(c.Param("code")))
	if err != nil {
		abortError(c, err)
		return
	}

	subs := make([]domain.ImageSubmission, 0, len(records))
	for path, raw := range records {
		var sub domain.ImageSubmission
		if !(store.Snapshot{Path: path, Value: raw}).Decode(&sub) {
			continue
		}
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Timestamp.Before(subs[j].Timestamp) })

	c.JSON(http.StatusOK, subs)
}

type PresenceResponse struct {
	ScreenConnected bool `json:"screenConnected"`
	GuestCount      int  `json:"guestCount"`
}

func (a *API) getPresence(c *gin.Context) {
	m, err := a.monitor(c.Request.Context(), c.Param("code"))
	if err != nil {
		abortError(c, err)
		return
	}

	count, err := m.GuestCount(c.Request.Context())
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, PresenceResponse{
		ScreenConnected: m.ScreenConnected(),
		GuestCount:      count,
	})
}

type LeaderboardResponse struct {
	Code    string                    `json:"code"`
	Entries []domain.LeaderboardEntry `json:"entries"`
}

func (a *API) getLeaderboard(c *gin.Context) {
	l, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		Code: c.Param("code"),
	})
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, LeaderboardResponse{Code: l.Code, Entries: l.Entries})
}

func (a *API) getScores(c *gin.Context) {
	entries, err := a.ls.Totals(c.Request.Context(), c.Param("code"))
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, LeaderboardResponse{Code: c.Param("code"), Entries: entries})
}

// monitor lazily starts a presence monitor per event code. Monitors
// outlive the request that first asked for them.
func (a *API) monitor(ctx context.Context, code string) (*presence.Monitor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if m, ok := a.monitors[code]; ok {
		return m, nil
	}

	m, err := presence.NewMonitor(context.WithoutCancel(ctx), code, presence.Config{Store: a.st, Clock: a.clock})
	if err != nil {
		return nil, err
	}
	a.monitors[code] = m
	return m, nil
}

// Close stops the presence monitors.
func (a *API) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for code, m := range a.monitors {
		m.Stop()
		delete(a.monitors, code)
	}
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newEventCode returns a 6-char uppercase code guests can type from a
// phone. The alphabet drops easily-confused characters.
func newEventCode() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// Fall back on a UUID-derived code; rand failing is effectively fatal anyway.
		return uuid.NewString()[:6]
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}

func abortError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid %s: %q", name, c.Param(name))))
		return 0, false
	}
	return v, true
}
