// Package stream delivers a playback session's dispatch channels to remote
// consumers over Server-Sent Events and WebSocket.
//
// SSE serves one channel per connection:
//
//	GET /api/v1/sessions/{id}/stream/visual
//	GET /api/v1/sessions/{id}/stream/ui
//
// Each message is one dispatch envelope:
//
//	data: {"type":"visual-update","data":{"stage":1,"altitude":0.008,...}}\n\n
//
// The first message on every connection describes the session:
//
//	data: {"type":"session","data":{"id":"...","channels":["ui"],"running":true,...}}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval of silence.
// When the session is reset the stream follows it onto the new channels; when
// the session is deleted the stream ends.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/star/liftoff/internal/dispatch"
	"github.com/star/liftoff/internal/httputil"
	"github.com/star/liftoff/internal/launch"
	"github.com/star/liftoff/internal/metrics"
	"github.com/star/liftoff/internal/playback"
	"github.com/star/liftoff/internal/session"
)

const (
	transportSSE       = "sse"
	transportWebSocket = "websocket"

	writeWait = 30 * time.Second
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxTotal           int           // Max concurrent streams overall (default: 1000).
	KeepaliveInterval  time.Duration // Keep-alive interval (default: 30s).
	Buffer             int           // Per-connection message queue (default: 256).
	TrustProxy         bool          // Read client IP from X-Forwarded-For.
	DefaultRate        float64       // Rate for a WebSocket init without one (default: 10).
}

// Sessions looks up playback sessions by ID.
type Sessions interface {
	Get(id string) (*session.Session, error)
}

// Launches looks up launch definitions by name.
type Launches interface {
	Get(name string) (*launch.Definition, error)
}

// Handler serves the SSE and WebSocket endpoints.
type Handler struct {
	sessions Sessions
	launches Launches
	config   Config
	limiter  *streamLimiter
	logger   *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(sessions Sessions, launches Launches, config Config, logger *slog.Logger) *Handler {
	if config.MaxConcurrentPerIP <= 0 {
		config.MaxConcurrentPerIP = 10
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	if config.Buffer <= 0 {
		config.Buffer = 256
	}
	if config.DefaultRate <= 0 {
		config.DefaultRate = playback.DefaultRate
	}
	return &Handler{
		sessions: sessions,
		launches: launches,
		config:   config,
		limiter:  newStreamLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		logger:   logger,
	}
}

// HandleSSE serves one dispatch channel of a session as an event stream.
// GET /api/v1/sessions/{id}/stream/{channel}
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	channel := r.PathValue("channel")
	if channel != dispatch.ChannelVisual && channel != dispatch.ChannelUI {
		writeError(w, http.StatusBadRequest, "unknown channel, must be visual or ui")
		return
	}

	// Rate limiting: enforce concurrent stream limit per IP.
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		h.rejectLimited(w, transportSSE, ip)
		return
	}

	logger := h.logger.With("session_id", sess.ID, "channel", channel, "remote_ip", ip)
	startTime := time.Now()
	metrics.IncStreamConnections(transportSSE, "connect")
	metrics.IncStreamsActive(transportSSE)
	logger.Info("stream connected", "user_agent", r.Header.Get("User-Agent"))

	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections(transportSSE, "disconnect")
		metrics.DecStreamsActive(transportSSE)
		logger.Info("stream disconnected", "duration_seconds", int(time.Since(startTime).Seconds()))
	}()

	// Verify flusher support (required for SSE).
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's default WriteTimeout for this connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{w: w, flusher: flusher, rc: rc, logger: logger}

	// Jittered retry interval (3-7s) avoids reconnection storms on restart.
	fmt.Fprintf(w, "retry: %d\n\n", 3000+rand.Intn(4000))
	flusher.Flush()

	// Attach before the session message so nothing emitted after it is missed.
	sub := subscribe(sess.Controller, transportSSE, h.config.Buffer, channel)
	defer sub.close()

	ctx := r.Context()
	hello, err := h.sessionMessage(ctx, sess, channel)
	if err != nil {
		metrics.IncStreamErrors(transportSSE, "state_error")
		logger.Warn("stream session state error", "error", err)
		return
	}
	if err := c.send(hello); err != nil {
		metrics.IncStreamErrors(transportSSE, "send_error")
		logger.Warn("stream send error (session)", "error", err)
		return
	}

	keepalive := time.NewTicker(h.config.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-sub.retired():
			if !sub.reattach() {
				logger.Info("stream closed by session shutdown")
				return
			}
			logger.Debug("stream reattached after reset")

		case data := <-sub.out:
			if err := c.send(data); err != nil {
				metrics.IncStreamErrors(transportSSE, "send_error")
				logger.Warn("stream send error", "error", err)
				return
			}
			keepalive.Reset(h.config.KeepaliveInterval)

		case <-keepalive.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors(transportSSE, "send_error")
				logger.Warn("stream keepalive error", "error", err)
				return
			}
		}
	}
}

func (h *Handler) rejectLimited(w http.ResponseWriter, transport, ip string) {
	metrics.IncStreamErrors(transport, "rate_limit")
	h.logger.Warn("stream rate limit exceeded",
		"transport", transport,
		"remote_ip", ip,
		"current_count", h.limiter.count(ip),
	)
	w.Header().Set("Retry-After", "30")
	writeError(w, http.StatusTooManyRequests, "too many concurrent streams")
}

// sessionInfo is the payload of the first message on every connection.
type sessionInfo struct {
	ID       string   `json:"id"`
	Channels []string `json:"channels"`
	playback.State
}

func (h *Handler) sessionMessage(ctx context.Context, sess *session.Session, channels ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := sess.Controller.State(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Type: "session",
		Data: sessionInfo{ID: sess.ID, Channels: channels, State: st},
	})
}

// envelope is the {"type","data"} wire form for transport-level messages.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
