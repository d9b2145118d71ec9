package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/persimon-pro/maybeu-live/internal/presence"
	"github.com/persimon-pro/maybeu-live/internal/store"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second

	// wsSendBuffer absorbs commit bursts; only the freshest snapshot
	// matters, so a full buffer drops the oldest frame.
	wsSendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Hosts, guests and screens connect from venue wifi with arbitrary
	// origins; the game has no credentials to protect.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamState pushes every session state commit to the client over a
// websocket. The first frame is always the current snapshot, so a
// reconnecting client converges immediately without waiting for the
// next host action.
//
// A ?role=screen connection additionally beats the screen heartbeat for
// as long as it stays open: closing the tab stops the beat and the host
// sees the screen go stale within the threshold.
func (a *API) streamState(c *gin.Context) {
	code := c.Param("code")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "ws: upgrade failed", "code", code, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	a.ensureWatchers(c, code)

	if c.Query("role") == "screen" {
		stop := presence.Pulse(ctx, code, presence.Config{Store: a.st, Clock: a.clock})
		defer stop()
	}

	frames := make(chan json.RawMessage, wsSendBuffer)

	initial, err := json.Marshal(a.sessions.Engine(code).Snapshot())
	if err != nil {
		slog.ErrorContext(ctx, "ws: marshal snapshot failed", "code", code, "error", err)
		return
	}
	frames <- initial

	unsub, err := a.st.Subscribe(ctx, store.GameStatePath(code), func(snap store.Snapshot) {
		if len(snap.Value) == 0 {
			return
		}
		for {
			select {
			case frames <- snap.Value:
				return
			default:
				// Buffer full: drop the stalest frame and retry.
				select {
				case <-frames:
				default:
				}
			}
		}
	})
	if err != nil {
		slog.ErrorContext(ctx, "ws: subscribe failed", "code", code, "error", err)
		return
	}
	defer unsub()

	go a.readUntilClosed(cancel, conn)
	a.writeFrames(ctx, conn, frames)
}

// readUntilClosed drains client frames so close and pong control
// messages are processed. Clients never send data frames.
func (a *API) readUntilClosed(cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (a *API) writeFrames(ctx context.Context, conn *websocket.Conn, frames <-chan json.RawMessage) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case frame := <-frames:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
