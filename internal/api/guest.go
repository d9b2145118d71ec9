package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/persimon-pro/maybeu-live/internal/domain"
	"github.com/persimon-pro/maybeu-live/internal/errors"
	"github.com/persimon-pro/maybeu-live/internal/presence"
	"github.com/persimon-pro/maybeu-live/internal/store"
)

type JoinRequest struct {
	Code string `json:"code" binding:"required"`
	Name string `json:"name" binding:"required"`
}

type JoinResponse struct {
	Event domain.Event        `json:"event"`
	State domain.SessionState `json:"state"`
}

// join resolves the event code and registers the guest. Joining an
// event that never went live is rejected; a COMPLETED event still
// accepts joins so late arrivals can see the final standings.
func (a *API) join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ctx := c.Request.Context()

	var ev domain.Event
	found, err := a.st.ReadOnce(ctx, store.CurrentEventPath(req.Code), &ev)
	if err != nil {
		abortError(c, err)
		return
	}
	if !found {
		abortError(c, errors.New(errors.CodeNotFound,
			errors.WithMessagef("event not found: code=%s", req.Code)))
		return
	}
	if ev.Status == domain.EventStatusUpcoming {
		abortError(c, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("event is not live yet: code=%s", req.Code)))
		return
	}

	reg := domain.GuestRegistration{Name: req.Name, JoinedAt: a.clock.Now()}
	if err := a.st.Write(ctx, store.RegistryPath(req.Code, req.Name), reg); err != nil {
		abortError(c, err)
		return
	}

	a.ensureWatchers(c, req.Code)
	a.metrics.GuestsJoined.Inc()

	c.JSON(http.StatusOK, JoinResponse{
		Event: ev,
		State: a.sessions.Engine(req.Code).Snapshot(),
	})
}

// ensureWatchers lazily starts the per-event background watchers; the
// first guest activity after a restart brings them back. The watchers
// outlive the request, so its cancellation must not tear them down.
func (a *API) ensureWatchers(c *gin.Context, code string) {
	ctx := context.WithoutCancel(c.Request.Context())
	if err := a.agg.Ensure(ctx, code); err != nil {
		slog.ErrorContext(ctx, "api: start answer watcher failed", "code", code, "error", err)
	}
	if err := a.race.Ensure(ctx, code); err != nil {
		slog.ErrorContext(ctx, "api: start race watcher failed", "code", code, "error", err)
	}
}

type SubmitAnswerRequest struct {
	Name           string `json:"name" binding:"required"`
	QuestionIndex  int    `json:"questionIndex"`
	ChosenIndex    int    `json:"chosenIndex"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
}

// submitAnswer records a quiz answer keyed by (guest, index). A
// resubmission for the same index overwrites the prior record; the
// scorer only ever sees the last one.
func (a *API) submitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}
	if req.QuestionIndex < 0 || req.ChosenIndex < 0 {
		abortError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("negative index")))
		return
	}

	ctx := c.Request.Context()
	code := c.Param("code")

	if ok := a.registered(c, code, req.Name); !ok {
		return
	}

	rec := domain.AnswerRecord{
		ChosenIndex:    req.ChosenIndex,
		ResponseTimeMs: req.ResponseTimeMs,
		SubmittedAt:    a.clock.Now(),
	}
	if err := a.st.Write(ctx, store.AnswerPath(code, req.Name, req.QuestionIndex), rec); err != nil {
		abortError(c, err)
		return
	}

	a.eb.Publish(ctx, domain.EventAnswerRecorded{
		Code:          code,
		GuestName:     req.Name,
		QuestionIndex: req.QuestionIndex,
		Answer:        rec,
	})
	a.metrics.AnswersRecorded.Inc()

	c.Status(http.StatusOK)
}

type SubmitProgressRequest struct {
	Name  string `json:"name" binding:"required"`
	Count int    `json:"count" binding:"required"`
}

// submitProgress moves a guest's race counter forward. Counters are
// monotonic: an update at or below the stored count is acknowledged and
// dropped, so duplicated or reordered deliveries cannot move a guest
// backwards. Updates outside an open race window are dropped the same
// way.
func (a *API) submitProgress(c *gin.Context) {
	var req SubmitProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ctx := c.Request.Context()
	code := c.Param("code")

	if ok := a.registered(c, code, req.Name); !ok {
		return
	}

	state := a.sessions.Engine(code).Snapshot()
	if !state.GameType.IsRace() || !state.IsActive || state.IsCountdown || state.Finished() {
		c.Status(http.StatusOK)
		return
	}

	path := store.RacePath(code, req.Name)
	if state.GameType == domain.GameTypeShakeIt {
		path = store.ShakePath(code, req.Name)
	}

	var prev domain.ProgressCounter
	if _, err := a.st.ReadOnce(ctx, path, &prev); err != nil {
		abortError(c, err)
		return
	}
	if req.Count <= prev.Count {
		c.Status(http.StatusOK)
		return
	}

	counter := domain.ProgressCounter{Count: req.Count, UpdatedAt: a.clock.Now()}
	if err := a.st.Write(ctx, path, counter); err != nil {
		abortError(c, err)
		return
	}

	a.eb.Publish(ctx, domain.EventProgressUpdated{
		Code:      code,
		GameType:  state.GameType,
		GuestName: req.Name,
		Progress:  counter,
	})
	a.metrics.ProgressUpdates.Inc()

	c.Status(http.StatusOK)
}

type SubmitQuestResponseRequest struct {
	Name      string `json:"name" binding:"required"`
	Value     string `json:"value" binding:"required"`
	TimeTaken int64  `json:"timeTaken"`
	IsImage   bool   `json:"isImage"`
}

func (a *API) submitQuestResponse(c *gin.Context) {
	stage, ok := intParam(c, "stage")
	if !ok {
		return
	}
	if stage < 1 || stage > domain.QuestStageCount {
		abortError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("stage out of range: %d", stage)))
		return
	}

	var req SubmitQuestResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ctx := c.Request.Context()
	code := c.Param("code")

	if ok := a.registered(c, code, req.Name); !ok {
		return
	}

	resp := domain.QuestResponse{
		Value:       req.Value,
		TimeTakenMs: req.TimeTaken,
		IsImage:     req.IsImage,
		SubmittedAt: a.clock.Now(),
	}
	if err := a.st.Write(ctx, store.QuestResponsePath(code, stage, req.Name), resp); err != nil {
		abortError(c, err)
		return
	}

	c.Status(http.StatusOK)
}

type SubmitImageRequest struct {
	Name   string `json:"name" binding:"required"`
	Prompt string `json:"prompt" binding:"required"`
}

// submitImage generates an image for the guest's prompt and publishes
// the submission to the gallery. Synchronous: the guest waits for their
// own picture.
func (a *API) submitImage(c *gin.Context) {
	var req SubmitImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ctx := c.Request.Context()
	code := c.Param("code")

	if ok := a.registered(c, code, req.Name); !ok {
		return
	}

	url, err := a.gen.GenerateImage(ctx, req.Prompt)
	if err != nil {
		abortError(c, errors.Internal(err))
		return
	}
	if url == "" {
		abortError(c, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("image generation is not configured")))
		return
	}

	sub := domain.ImageSubmission{
		GuestName: req.Name,
		URL:       url,
		Timestamp: a.clock.Now(),
	}
	if err := a.st.Write(ctx, store.ImagePath(code, uuid.NewString()), sub); err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

// heartbeat is the screen liveness beat for screens polling over plain
// HTTP instead of holding the websocket open.
func (a *API) heartbeat(c *gin.Context) {
	hb := presence.Heartbeat{LastSeen: a.clock.Now()}
	if err := a.st.Write(c.Request.Context(), store.ScreenSeenPath(c.Param("code")), hb); err != nil {
		abortError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// registered rejects writes from names that never joined. Guests own
// the records keyed by their name; join is the only way to claim one.
func (a *API) registered(c *gin.Context, code, name string) bool {
	var reg domain.GuestRegistration
	found, err := a.st.ReadOnce(c.Request.Context(), store.RegistryPath(code, name), &reg)
	if err != nil {
		abortError(c, err)
		return false
	}
	if !found {
		abortError(c, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("guest not registered: code=%s name=%s", code, name)))
		return false
	}
	return true
}
