package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/star/liftoff/internal/dispatch"
	"github.com/star/liftoff/internal/httputil"
	"github.com/star/liftoff/internal/metrics"
	"github.com/star/liftoff/internal/session"
)

const maxControlMessageSize = 4096

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWebSocket serves both dispatch channels of a session on one
// WebSocket and accepts control messages on it.
// GET /api/v1/sessions/{id}/ws
//
// Outbound frames are dispatch envelopes, preceded by a "session" message.
// Inbound frames are {"type": <control>, "data": {...}}; each is answered
// with {"type":"control-ack"} or {"type":"control-error"}.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		h.rejectLimited(w, transportWebSocket, ip)
		return
	}
	defer h.limiter.release(ip)

	logger := h.logger.With("session_id", sess.ID, "remote_ip", ip)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.IncStreamErrors(transportWebSocket, "upgrade_error")
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	startTime := time.Now()
	metrics.IncStreamConnections(transportWebSocket, "connect")
	metrics.IncStreamsActive(transportWebSocket)
	logger.Info("websocket connected", "user_agent", r.Header.Get("User-Agent"))
	defer func() {
		metrics.IncStreamConnections(transportWebSocket, "disconnect")
		metrics.DecStreamsActive(transportWebSocket)
		logger.Info("websocket disconnected", "duration_seconds", int(time.Since(startTime).Seconds()))
	}()

	sub := subscribe(sess.Controller, transportWebSocket, h.config.Buffer, dispatch.ChannelVisual, dispatch.ChannelUI)
	defer sub.close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	hello, err := h.sessionMessage(ctx, sess, dispatch.ChannelVisual, dispatch.ChannelUI)
	if err != nil {
		logger.Warn("websocket session state error", "error", err)
		return
	}
	if err := h.writeFrame(conn, hello); err != nil {
		logger.Warn("websocket send error (session)", "error", err)
		return
	}

	replies := make(chan []byte, 16)
	go h.readControl(ctx, cancel, conn, sess, replies, logger)

	ping := time.NewTicker(h.config.KeepaliveInterval)
	defer ping.Stop()

	for {
		var data []byte
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return

		case <-sub.retired():
			if !sub.reattach() {
				logger.Info("websocket closed by session shutdown")
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(time.Second))
				return
			}
			logger.Debug("websocket reattached after reset")
			continue

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				metrics.IncStreamErrors(transportWebSocket, "send_error")
				logger.Debug("websocket ping failed", "error", err)
				return
			}
			continue

		case data = <-sub.out:
		case data = <-replies:
		}

		if err := h.writeFrame(conn, data); err != nil {
			metrics.IncStreamErrors(transportWebSocket, "send_error")
			logger.Warn("websocket send error", "error", err)
			return
		}
	}
}

func (h *Handler) writeFrame(conn *websocket.Conn, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	metrics.IncStreamMessages(transportWebSocket)
	metrics.AddStreamBytes(transportWebSocket, int64(len(data)))
	return nil
}

// readControl reads control messages until the connection fails, then
// cancels ctx. Replies are handed to the writer; the connection has a single
// writer goroutine.
func (h *Handler) readControl(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sess *session.Session, replies chan<- []byte, logger *slog.Logger) {
	defer cancel()

	readWait := 2 * h.config.KeepaliveInterval
	conn.SetReadLimit(maxControlMessageSize)
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		var msg controlMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			logger.Warn("discarding malformed control message", "error", err)
			h.reply(ctx, replies, "control-error", controlResult{Error: "malformed message"})
			continue
		}

		res, err := h.apply(ctx, sess, msg)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Warn("control message rejected", "command", msg.Type, "error", err)
			res.Error = err.Error()
			h.reply(ctx, replies, "control-error", res)
			continue
		}
		logger.Debug("control message applied", "command", msg.Type)
		h.reply(ctx, replies, "control-ack", res)
	}
}

func (h *Handler) reply(ctx context.Context, replies chan<- []byte, typ string, res controlResult) {
	data, err := json.Marshal(envelope{Type: typ, Data: res})
	if err != nil {
		return
	}
	select {
	case replies <- data:
	case <-ctx.Done():
	}
}
