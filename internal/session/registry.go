// Package session keeps the playback controllers served by this process,
// keyed by a random session ID.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/star/liftoff/internal/launch"
	"github.com/star/liftoff/internal/metrics"
	"github.com/star/liftoff/internal/playback"
)

var (
	// ErrNotFound is returned for an unknown session ID.
	ErrNotFound = errors.New("session not found")
	// ErrLimitReached is returned when MaxSessions sessions already exist.
	ErrLimitReached = errors.New("session limit reached")
)

// Config holds registry parameters.
type Config struct {
	MaxSessions  int           // concurrent sessions (default: 100)
	IdleTimeout  time.Duration // reap sessions idle this long (default: 10m)
	ReapInterval time.Duration // how often to look for idle sessions (default: 30s)
	Playback     playback.Config
}

// Session is one registered playback.
type Session struct {
	ID         string               `json:"id"`
	Launch     string               `json:"launch"`
	CreatedAt  time.Time            `json:"createdAt"`
	Controller *playback.Controller `json:"-"`
}

// Registry owns every live session. Safe for concurrent use.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context // parent of every controller's Run
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 100
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Create starts a controller, initializes it with def at rate and registers
// it under a new ID. The session is left stopped.
func (r *Registry) Create(ctx context.Context, def *launch.Definition, rate float64) (*Session, error) {
	id := uuid.NewString()
	logger := r.logger.With("session_id", id)
	s := &Session{
		ID:         id,
		Launch:     def.Name,
		CreatedAt:  time.Now(),
		Controller: playback.New(r.cfg.Playback, logger),
	}

	r.mu.Lock()
	if len(r.sessions) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		s.Controller.Channels().Close()
		return nil, fmt.Errorf("%w (%d)", ErrLimitReached, r.cfg.MaxSessions)
	}
	r.sessions[id] = s
	r.mu.Unlock()

	go s.Controller.Run(r.ctx)

	if err := s.Controller.Init(ctx, def, rate); err != nil {
		r.remove(id)
		s.Controller.Close()
		return nil, fmt.Errorf("initializing session: %w", err)
	}

	metrics.SetSessionsActive(r.Len())
	logger.Info("session created", "launch", def.Name, "playback_rate", rate)
	return s, nil
}

// Get returns the session registered under id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Delete closes and removes the session.
func (r *Registry) Delete(id string) error {
	s := r.remove(id)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.Controller.Close()
	metrics.SetSessionsActive(r.Len())
	r.logger.Info("session deleted", "session_id", id)
	return nil
}

func (r *Registry) remove(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	return s
}

// List returns the registered sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Start runs the idle reaper until ctx is cancelled.
func (r *Registry) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("session reaper stopped")
			return
		case now := <-ticker.C:
			if n := r.reap(now); n > 0 {
				r.logger.Info("idle sessions reaped", "count", n, "remaining", r.Len())
			}
		}
	}
}

// reap deletes sessions with no consumer attached and no control request
// within the idle timeout.
func (r *Registry) reap(now time.Time) int {
	var idle []string
	for _, s := range r.List() {
		pair := s.Controller.Channels()
		if pair.Visual.Attached() || pair.UI.Attached() {
			continue
		}
		if now.Sub(s.Controller.LastActivity()) >= r.cfg.IdleTimeout {
			idle = append(idle, s.ID)
		}
	}
	n := 0
	for _, id := range idle {
		if r.Delete(id) == nil {
			n++
		}
	}
	return n
}

// Close shuts down every session.
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.Controller.Close()
	}
	r.cancel()
	metrics.SetSessionsActive(0)
	r.logger.Info("sessions closed", "count", len(all))
}
