package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftoff_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liftoff_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "liftoff_simulation_ticks_total",
		Help: "Total number of simulation ticks executed.",
	})

	tickDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "liftoff_simulation_tick_duration_seconds",
		Help:    "Wall-clock time spent inside a single tick.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.025},
	})

	stagesCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftoff_stages_completed_total",
			Help: "Stages that passed their final waypoint.",
		},
		[]string{"stage"},
	)

	notificationsShownTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "liftoff_notifications_shown_total",
		Help: "Notifications scheduled for display.",
	})

	dispatchMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftoff_dispatch_messages_total",
			Help: "Messages queued for delivery on a dispatch channel.",
		},
		[]string{"channel", "type"},
	)

	dispatchDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftoff_dispatch_dropped_total",
			Help: "Messages dropped by a dispatch channel.",
		},
		[]string{"channel", "reason"},
	)

	sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "liftoff_sessions_active",
		Help: "Playback sessions currently registered.",
	})

	sessionsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "liftoff_sessions_running",
		Help: "Playback sessions currently ticking.",
	})

	launchCatalogCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "liftoff_launch_catalog_count",
		Help: "Launch definitions loaded in the catalog.",
	})

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftoff_stream_connections_total",
			Help: "Stream connect and disconnect events.",
		},
		[]string{"transport", "event"},
	)

	streamsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "liftoff_streams_active",
			Help: "Consumer streams currently attached.",
		},
		[]string{"transport"},
	)

	streamMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftoff_stream_messages_total",
			Help: "Messages written to consumer streams.",
		},
		[]string{"transport"},
	)

	streamBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftoff_stream_bytes_total",
			Help: "Bytes written to consumer streams.",
		},
		[]string{"transport"},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftoff_stream_errors_total",
			Help: "Consumer stream errors by reason.",
		},
		[]string{"transport", "reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		ticksTotal,
		tickDurationSeconds,
		stagesCompletedTotal,
		notificationsShownTotal,
		dispatchMessagesTotal,
		dispatchDroppedTotal,
		sessionsActive,
		sessionsRunning,
		launchCatalogCount,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTick records one executed tick and its duration.
func ObserveTick(d time.Duration) {
	ticksTotal.Inc()
	tickDurationSeconds.Observe(d.Seconds())
}

// IncStageCompleted counts a stage reaching its final waypoint.
func IncStageCompleted(stage int) {
	stagesCompletedTotal.WithLabelValues(strconv.Itoa(stage)).Inc()
}

// IncNotificationsShown counts a scheduled notification.
func IncNotificationsShown() { notificationsShownTotal.Inc() }

// IncDispatchMessages counts a message queued on a channel.
func IncDispatchMessages(channel, msgType string) {
	dispatchMessagesTotal.WithLabelValues(channel, msgType).Inc()
}

// IncDispatchDropped counts a dropped message.
func IncDispatchDropped(channel, reason string) {
	dispatchDroppedTotal.WithLabelValues(channel, reason).Inc()
}

// SetSessionsActive sets the registered session gauge.
func SetSessionsActive(n int) { sessionsActive.Set(float64(n)) }

// IncSessionsRunning and DecSessionsRunning track ticking sessions.
func IncSessionsRunning() { sessionsRunning.Inc() }
func DecSessionsRunning() { sessionsRunning.Dec() }

// SetLaunchCatalogCount sets the number of loaded launches.
func SetLaunchCatalogCount(n int) { launchCatalogCount.Set(float64(n)) }

// IncStreamConnections counts a connect or disconnect event.
func IncStreamConnections(transport, event string) {
	streamConnectionsTotal.WithLabelValues(transport, event).Inc()
}

// IncStreamsActive and DecStreamsActive track attached streams.
func IncStreamsActive(transport string) { streamsActive.WithLabelValues(transport).Inc() }
func DecStreamsActive(transport string) { streamsActive.WithLabelValues(transport).Dec() }

// IncStreamMessages counts one message written to a consumer.
func IncStreamMessages(transport string) { streamMessagesTotal.WithLabelValues(transport).Inc() }

// AddStreamBytes adds n written bytes.
func AddStreamBytes(transport string, n int64) {
	streamBytesTotal.WithLabelValues(transport).Add(float64(n))
}

// IncStreamErrors counts a stream error by reason.
func IncStreamErrors(transport, reason string) {
	streamErrorsTotal.WithLabelValues(transport, reason).Inc()
}

// exactRoutes are paths reported verbatim.
var exactRoutes = map[string]bool{
	"/":                true,
	"/healthz":         true,
	"/readyz":          true,
	"/metrics":         true,
	"/api/v1/launches": true,
	"/api/v1/sessions": true,
}

// sessionActions are the fixed suffixes under /api/v1/sessions/{id}/.
var sessionActions = map[string]bool{
	"start":      true,
	"stop":       true,
	"reset":      true,
	"rate":       true,
	"cycle-rate": true,
	"resize":     true,
	"ws":         true,
}

// normalizeRoute collapses parameterized paths to a fixed label set so that
// session IDs and launch names do not explode label cardinality.
func normalizeRoute(path string) string {
	if exactRoutes[path] {
		return path
	}

	if name, ok := strings.CutPrefix(path, "/api/v1/launches/"); ok && name != "" && !strings.Contains(name, "/") {
		return "/api/v1/launches/{name}"
	}

	rest, ok := strings.CutPrefix(path, "/api/v1/sessions/")
	if !ok || rest == "" {
		return "other"
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1:
		return "/api/v1/sessions/{id}"
	case len(parts) == 2 && sessionActions[parts[1]]:
		return "/api/v1/sessions/{id}/" + parts[1]
	case len(parts) == 3 && parts[1] == "stream" && (parts[2] == "visual" || parts[2] == "ui"):
		return "/api/v1/sessions/{id}/stream/" + parts[2]
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so SSE works through the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets websocket upgrades pass through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
