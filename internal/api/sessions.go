package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/star/liftoff/internal/dispatch"
	"github.com/star/liftoff/internal/launch"
	"github.com/star/liftoff/internal/playback"
	"github.com/star/liftoff/internal/session"
)

const (
	maxBodyBytes   = 64 << 10
	controlTimeout = 5 * time.Second
)

type createSessionRequest struct {
	Launch string   `json:"launch"`
	Rate   *float64 `json:"rate,omitempty"`
}

type rateRequest struct {
	Rate *float64 `json:"rate"`
}

// sessionView is a session plus its playback state.
type sessionView struct {
	*session.Session
	playback.State
}

// listSessionsHandler lists live sessions, oldest first.
// GET /api/v1/sessions
func listSessionsHandler(registry *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"sessions": registry.List(),
		})
	}
}

// createSessionHandler initializes a new playback session, stopped at liftoff.
// POST /api/v1/sessions {"launch": "...", "rate": 10}
func createSessionHandler(logger *slog.Logger, catalog *launch.Catalog, registry *session.Registry, defaultRate float64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Launch == "" {
			writeError(w, http.StatusBadRequest, "launch is required")
			return
		}

		def, err := catalog.Get(req.Launch)
		if err != nil {
			writeControlError(w, err)
			return
		}

		rate := defaultRate
		if req.Rate != nil {
			rate = *req.Rate
		}

		ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
		defer cancel()

		s, err := registry.Create(ctx, def, rate)
		if err != nil {
			logger.Warn("session create failed", "launch", req.Launch, "error", err)
			writeControlError(w, err)
			return
		}
		writeSession(ctx, w, http.StatusCreated, s)
	}
}

// getSessionHandler serves a session's playback state.
// GET /api/v1/sessions/{id}
func getSessionHandler(registry *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := registry.Get(r.PathValue("id"))
		if err != nil {
			writeControlError(w, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
		defer cancel()
		writeSession(ctx, w, http.StatusOK, s)
	}
}

// deleteSessionHandler stops a session and closes its channels.
// DELETE /api/v1/sessions/{id}
func deleteSessionHandler(registry *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := registry.Delete(r.PathValue("id")); err != nil {
			writeControlError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// sessionAction applies one control operation to a controller.
type sessionAction func(ctx context.Context, w http.ResponseWriter, r *http.Request, c *playback.Controller) error

func startAction(ctx context.Context, _ http.ResponseWriter, _ *http.Request, c *playback.Controller) error {
	return c.Start(ctx)
}

func stopAction(ctx context.Context, _ http.ResponseWriter, _ *http.Request, c *playback.Controller) error {
	return c.Stop(ctx)
}

func resetAction(ctx context.Context, _ http.ResponseWriter, _ *http.Request, c *playback.Controller) error {
	return c.Reset(ctx)
}

func cycleRateAction(ctx context.Context, _ http.ResponseWriter, _ *http.Request, c *playback.Controller) error {
	_, err := c.CyclePlaybackRate(ctx)
	return err
}

func setRateAction(ctx context.Context, w http.ResponseWriter, r *http.Request, c *playback.Controller) error {
	var req rateRequest
	if err := decodeBody(w, r, &req); err != nil {
		return badRequest(err)
	}
	if req.Rate == nil {
		return badRequest(errors.New("rate is required"))
	}
	return c.SetPlaybackRate(ctx, *req.Rate)
}

// sessionActionHandler runs action and answers with the resulting state.
// POST /api/v1/sessions/{id}/{action}
func sessionActionHandler(logger *slog.Logger, registry *session.Registry, action sessionAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := registry.Get(r.PathValue("id"))
		if err != nil {
			writeControlError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
		defer cancel()

		if err := action(ctx, w, r, s.Controller); err != nil {
			logger.Debug("session action rejected", "session_id", s.ID, "path", r.URL.Path, "error", err)
			writeControlError(w, err)
			return
		}
		writeSession(ctx, w, http.StatusOK, s)
	}
}

// resizeHandler forwards a viewport change to both consumers.
// POST /api/v1/sessions/{id}/resize {"viewportWidth":..,"viewportHeight":..,"pixelDensity":..}
func resizeHandler(registry *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := registry.Get(r.PathValue("id"))
		if err != nil {
			writeControlError(w, err)
			return
		}
		var v dispatch.Viewport
		if err := decodeBody(w, r, &v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if v.Width <= 0 || v.Height <= 0 {
			writeError(w, http.StatusBadRequest, "viewportWidth and viewportHeight must be positive")
			return
		}
		s.Controller.Resize(v)
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeSession(ctx context.Context, w http.ResponseWriter, status int, s *session.Session) {
	st, err := s.Controller.State(ctx)
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, status, sessionView{Session: s, State: st})
}

type badRequestError struct{ err error }

func (e badRequestError) Error() string { return e.err.Error() }
func (e badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error { return badRequestError{err: err} }

// writeControlError maps domain errors to HTTP statuses.
func writeControlError(w http.ResponseWriter, err error) {
	var br badRequestError
	switch {
	case errors.As(err, &br):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, launch.ErrNotFound):
		writeError(w, http.StatusNotFound, "launch not found")
	case errors.Is(err, playback.ErrInvalidRate):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, playback.ErrNotInitialized):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrLimitReached):
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, playback.ErrClosed):
		writeError(w, http.StatusGone, "session closed")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "session busy")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
