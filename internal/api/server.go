package api

import (
	"bufio"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/star/liftoff/internal/auth"
	"github.com/star/liftoff/internal/health"
	"github.com/star/liftoff/internal/launch"
	"github.com/star/liftoff/internal/metrics"
	"github.com/star/liftoff/internal/playback"
	"github.com/star/liftoff/internal/session"
	"github.com/star/liftoff/internal/stream"
)

// Deps are the components the HTTP API serves.
type Deps struct {
	Auth        auth.Config
	Catalog     *launch.Catalog
	Registry    *session.Registry
	Stream      *stream.Handler
	DefaultRate float64
	Console     fs.FS // served at / when set
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(logger, deps),
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed handler with its middleware chain.
func NewHandler(logger *slog.Logger, deps Deps) http.Handler {
	if deps.DefaultRate <= 0 {
		deps.DefaultRate = playback.DefaultRate
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(func() error {
		if deps.Catalog.Len() == 0 {
			return errors.New("no launches loaded")
		}
		return nil
	}))
	mux.Handle("GET /metrics", metrics.Handler())
	if deps.Console != nil {
		mux.Handle("GET /{$}", http.FileServerFS(deps.Console))
	}

	mux.HandleFunc("GET /api/v1/launches", listLaunchesHandler(deps.Catalog))
	mux.HandleFunc("GET /api/v1/launches/{name}", getLaunchHandler(deps.Catalog))
	mux.HandleFunc("PUT /api/v1/launches/{name}", putLaunchHandler(logger, deps.Catalog))

	mux.HandleFunc("GET /api/v1/sessions", listSessionsHandler(deps.Registry))
	mux.HandleFunc("POST /api/v1/sessions", createSessionHandler(logger, deps.Catalog, deps.Registry, deps.DefaultRate))
	mux.HandleFunc("GET /api/v1/sessions/{id}", getSessionHandler(deps.Registry))
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", deleteSessionHandler(deps.Registry))

	mux.HandleFunc("POST /api/v1/sessions/{id}/start", sessionActionHandler(logger, deps.Registry, startAction))
	mux.HandleFunc("POST /api/v1/sessions/{id}/stop", sessionActionHandler(logger, deps.Registry, stopAction))
	mux.HandleFunc("POST /api/v1/sessions/{id}/reset", sessionActionHandler(logger, deps.Registry, resetAction))
	mux.HandleFunc("POST /api/v1/sessions/{id}/cycle-rate", sessionActionHandler(logger, deps.Registry, cycleRateAction))
	mux.HandleFunc("POST /api/v1/sessions/{id}/rate", sessionActionHandler(logger, deps.Registry, setRateAction))
	mux.HandleFunc("POST /api/v1/sessions/{id}/resize", resizeHandler(deps.Registry))

	mux.HandleFunc("GET /api/v1/sessions/{id}/stream/{channel}", deps.Stream.HandleSSE)
	mux.HandleFunc("GET /api/v1/sessions/{id}/ws", deps.Stream.HandleWebSocket)

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(deps.Auth)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)
	return handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working behind the logging middleware.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the WebSocket upgrade take over the connection.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	sr.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
