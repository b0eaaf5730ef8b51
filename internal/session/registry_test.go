package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/star/liftoff/internal/dispatch"
	"github.com/star/liftoff/internal/launch"
	"github.com/star/liftoff/internal/playback"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testDefinition() *launch.Definition {
	t0 := time.Date(2022, 1, 6, 9, 49, 0, 0, time.UTC)
	wps := []launch.Waypoint{
		{Time: t0, Position: launch.Position{28.6, -80.6}},
		{Time: t0.Add(15 * time.Second), Altitude: 0.2, Speed: 164, Position: launch.Position{28.58, -80.59}},
	}
	return &launch.Definition{Name: "registry test", LiftoffTime: t0, Telemetry: [2][]launch.Waypoint{wps, wps}}
}

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	r := NewRegistry(cfg, testLogger())
	t.Cleanup(r.Close)
	return r
}

func TestRegistry_CreateGetDelete(t *testing.T) {
	r := newTestRegistry(t, Config{})
	ctx := context.Background()

	s, err := r.Create(ctx, testDefinition(), 10)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID == "" || s.Launch != "registry test" {
		t.Errorf("session = %+v", s)
	}

	got, err := r.Get(s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != s {
		t.Error("Get returned a different session")
	}

	st, err := got.Controller.State(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Initialized || st.Running || st.Rate != 10 {
		t.Errorf("new session state = %+v, want initialized, stopped, rate 10", st)
	}

	if err := r.Delete(s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete err = %v, want ErrNotFound", err)
	}
	if err := r.Delete(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
	select {
	case <-s.Controller.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("controller still running after Delete")
	}
}

func TestRegistry_InvalidRate(t *testing.T) {
	r := newTestRegistry(t, Config{})
	_, err := r.Create(context.Background(), testDefinition(), -1)
	if !errors.Is(err, playback.ErrInvalidRate) {
		t.Errorf("err = %v, want ErrInvalidRate", err)
	}
	if r.Len() != 0 {
		t.Errorf("failed Create left %d sessions", r.Len())
	}
}

func TestRegistry_MaxSessions(t *testing.T) {
	r := newTestRegistry(t, Config{MaxSessions: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := r.Create(ctx, testDefinition(), 1); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := r.Create(ctx, testDefinition(), 1); !errors.Is(err, ErrLimitReached) {
		t.Errorf("third Create err = %v, want ErrLimitReached", err)
	}
	if got := len(r.List()); got != 2 {
		t.Errorf("List = %d sessions, want 2", got)
	}
}

func TestRegistry_ReapIdle(t *testing.T) {
	r := newTestRegistry(t, Config{IdleTimeout: time.Minute})
	ctx := context.Background()

	idle, err := r.Create(ctx, testDefinition(), 1)
	if err != nil {
		t.Fatal(err)
	}
	watched, err := r.Create(ctx, testDefinition(), 1)
	if err != nil {
		t.Fatal(err)
	}
	detach := watched.Controller.Channels().UI.Attach(func(dispatch.Message) {})
	defer detach()

	if n := r.reap(time.Now()); n != 0 {
		t.Fatalf("reaped %d fresh sessions", n)
	}

	if n := r.reap(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("reaped %d sessions, want 1", n)
	}
	if _, err := r.Get(idle.ID); !errors.Is(err, ErrNotFound) {
		t.Error("idle session survived reaping")
	}
	if _, err := r.Get(watched.ID); err != nil {
		t.Error("session with an attached consumer was reaped")
	}
}

func TestRegistry_Close(t *testing.T) {
	r := NewRegistry(Config{}, testLogger())
	s, err := r.Create(context.Background(), testDefinition(), 1)
	if err != nil {
		t.Fatal(err)
	}
	r.Close()

	if r.Len() != 0 {
		t.Errorf("Len after Close = %d", r.Len())
	}
	select {
	case <-s.Controller.Done():
	default:
		t.Error("controller still running after Close")
	}
}
