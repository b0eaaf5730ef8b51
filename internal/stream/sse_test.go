package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/star/liftoff/internal/launch"
	"github.com/star/liftoff/internal/playback"
	"github.com/star/liftoff/internal/session"
	"github.com/star/liftoff/internal/simulation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func testDefinition() *launch.Definition {
	t0 := time.Date(2022, 1, 6, 9, 49, 0, 0, time.UTC)
	at := func(d time.Duration) time.Time { return t0.Add(d) }
	return &launch.Definition{
		Name:        "Stream Test",
		LiftoffTime: t0,
		Telemetry: [2][]launch.Waypoint{
			{
				{Time: at(0), Position: launch.Position{28.6, -80.6}},
				{Time: at(time.Hour), Altitude: 200, Speed: 27000, Position: launch.Position{40, -60}},
			},
			{
				{Time: at(0), Position: launch.Position{28.6, -80.6}},
				{Time: at(time.Hour), Altitude: 200, Speed: 27000, Position: launch.Position{40, -60}},
			},
		},
	}
}

type fixture struct {
	registry *session.Registry
	catalog  *launch.Catalog
	handler  *Handler
	server   *httptest.Server
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	catalog := launch.NewCatalog(testLogger())
	catalog.Add(testDefinition())

	registry := session.NewRegistry(session.Config{
		Playback: playback.Config{
			Simulation: simulation.Config{Period: 5 * time.Millisecond},
		},
	}, testLogger())

	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = 30 * time.Second
	}
	h := NewHandler(registry, catalog, cfg, testLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/sessions/{id}/stream/{channel}", h.HandleSSE)
	mux.HandleFunc("GET /api/v1/sessions/{id}/ws", h.HandleWebSocket)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.CloseClientConnections()
		registry.Close()
		srv.Close()
	})
	return &fixture{registry: registry, catalog: catalog, handler: h, server: srv}
}

func (f *fixture) newSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := f.registry.Create(context.Background(), testDefinition(), 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

// sseEvent is one decoded "data:" line.
type sseEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// openSSE connects and returns a channel of decoded events. The channel is
// closed when the stream ends.
func openSSE(t *testing.T, ctx context.Context, url string) (<-chan sseEvent, *http.Response) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	events := make(chan sseEvent, 1024)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev sseEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}
			events <- ev
		}
	}()
	return events, resp
}

// waitFor reads events until one of type typ arrives.
func waitFor(t *testing.T, events <-chan sseEvent, typ string) sseEvent {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("stream ended before %q", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", typ)
		}
	}
}

func TestSSE_StreamsUIChannel(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.newSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, resp := openSSE(t, ctx, f.server.URL+"/api/v1/sessions/"+s.ID+"/stream/ui")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}

	hello := waitFor(t, events, "session")
	var info struct {
		ID          string   `json:"id"`
		Channels    []string `json:"channels"`
		Initialized bool     `json:"initialized"`
		Launch      string   `json:"launch"`
	}
	if err := json.Unmarshal(hello.Data, &info); err != nil {
		t.Fatal(err)
	}
	if info.ID != s.ID || len(info.Channels) != 1 || info.Channels[0] != "ui" {
		t.Errorf("session message = %+v", info)
	}
	if !info.Initialized || info.Launch != "Stream Test" {
		t.Errorf("session state = %+v", info)
	}

	if err := s.Controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ev := waitFor(t, events, "ui-update")
	var upd struct {
		Stage    int    `json:"stage"`
		Altitude string `json:"altitude"`
	}
	if err := json.Unmarshal(ev.Data, &upd); err != nil {
		t.Fatalf("ui-update payload: %v", err)
	}
	if upd.Stage != 1 && upd.Stage != 2 {
		t.Errorf("stage = %d", upd.Stage)
	}
}

func TestSSE_VisualChannelOnlyCarriesVisual(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.newSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _ := openSSE(t, ctx, f.server.URL+"/api/v1/sessions/"+s.ID+"/stream/visual")
	waitFor(t, events, "session")

	if err := s.Controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		ev := waitFor(t, events, "visual-update")
		if ev.Type != "visual-update" {
			t.Fatalf("unexpected %q on visual stream", ev.Type)
		}
	}
}

func TestSSE_FollowsReset(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.newSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _ := openSSE(t, ctx, f.server.URL+"/api/v1/sessions/"+s.ID+"/stream/ui")
	waitFor(t, events, "session")

	// The session is stopped; updates only flow once Reset starts it on
	// fresh channels.
	if err := s.Controller.Reset(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, events, "ui-update")
}

func TestSSE_EndsOnSessionDelete(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.newSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _ := openSSE(t, ctx, f.server.URL+"/api/v1/sessions/"+s.ID+"/stream/ui")
	waitFor(t, events, "session")

	if err := f.registry.Delete(s.ID); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("stream still open after session delete")
		}
	}
}

func TestSSE_BadRequests(t *testing.T) {
	f := newFixture(t, Config{})
	s := f.newSession(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown session", "/api/v1/sessions/nope/stream/ui", http.StatusNotFound},
		{"unknown channel", "/api/v1/sessions/" + s.ID + "/stream/audio", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(f.server.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
		})
	}
}

// TestRateLimitHTTPResponse verifies 429 response when limit exceeded.
func TestRateLimitHTTPResponse(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrentPerIP: 1})
	s := f.newSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _ := openSSE(t, ctx, f.server.URL+"/api/v1/sessions/"+s.ID+"/stream/ui")
	waitFor(t, events, "session")

	resp, err := http.Get(f.server.URL + "/api/v1/sessions/" + s.ID + "/stream/visual")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

// TestRateLimiting verifies per-IP concurrent stream limits.
func TestRateLimiting(t *testing.T) {
	limiter := newStreamLimiter(3, 0)

	for i := 0; i < 3; i++ {
		if !limiter.acquire("10.0.0.1") {
			t.Fatalf("acquire %d should succeed", i+1)
		}
	}
	if limiter.acquire("10.0.0.1") {
		t.Error("acquire beyond limit should fail")
	}
	if !limiter.acquire("10.0.0.2") {
		t.Error("different IP should not be rate limited")
	}

	limiter.release("10.0.0.1")
	if !limiter.acquire("10.0.0.1") {
		t.Error("acquire after release should succeed")
	}
	if c := limiter.count("10.0.0.1"); c != 3 {
		t.Errorf("count = %d, want 3", c)
	}
	if c := limiter.count("10.0.0.2"); c != 1 {
		t.Errorf("count = %d, want 1", c)
	}
}

func TestRateLimitingGlobalCap(t *testing.T) {
	limiter := newStreamLimiter(10, 2)
	if !limiter.acquire("a") || !limiter.acquire("b") {
		t.Fatal("first two acquires should succeed")
	}
	if limiter.acquire("c") {
		t.Error("acquire beyond global cap should fail")
	}
}

// TestRateLimitingConcurrent verifies rate limiter thread safety.
func TestRateLimitingConcurrent(t *testing.T) {
	limiter := newStreamLimiter(100, 0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.acquire("10.0.0.1") {
				defer limiter.release("10.0.0.1")
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
}
