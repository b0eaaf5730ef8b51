// Package playback drives a simulation session through its lifecycle:
// Stopped → Running → Stopped, plus replay.
//
// A Controller is an actor. Run owns the session, the ticker and the running
// flag; every control operation is a request served by the same select that
// receives ticks, so a tick never overlaps another tick or a control change.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/liftoff/internal/dispatch"
	"github.com/star/liftoff/internal/launch"
	"github.com/star/liftoff/internal/metrics"
	"github.com/star/liftoff/internal/simulation"
)

var (
	// ErrNotInitialized is returned by operations that need a loaded launch.
	ErrNotInitialized = errors.New("playback not initialized")
	// ErrInvalidRate is returned for negative, NaN, infinite or rates above MaxRate.
	ErrInvalidRate = errors.New("invalid playback rate")
	// ErrClosed is returned once the controller has shut down.
	ErrClosed = errors.New("playback controller closed")
)

// RatePresets are the playback rates offered to the viewer, in cycling order.
var RatePresets = []float64{1, 2, 3, 5, 10, 50, 100}

// DefaultRate is the playback rate used when none is requested.
const DefaultRate = 10

// MaxRate is the highest accepted playback rate, ten times the fastest preset.
const MaxRate = 1000

// TickerFunc starts a periodic tick source and returns its channel and a
// function that stops it.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Config holds controller parameters.
type Config struct {
	Simulation    simulation.Config
	ChannelBuffer int // per-channel dispatch queue (default: 256)

	// Ticker defaults to time.NewTicker.
	Ticker TickerFunc
}

// Controller owns one playback session and its dispatch channels.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	requests  chan request
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	pair         atomic.Pointer[dispatch.Pair]
	lastActivity atomic.Int64 // unix nanos

	// Owned by Run.
	session *simulation.Session
	running bool
	tickC   <-chan time.Time
	stopTk  func()
	reached bool // finish already logged for this session
}

type request struct {
	op    func() error
	reply chan error
}

// New creates a controller. Call Run to start it.
func New(cfg Config, logger *slog.Logger) *Controller {
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 256
	}
	if cfg.Ticker == nil {
		cfg.Ticker = realTicker
	}
	cfg.Simulation = simulationDefaults(cfg.Simulation)

	c := &Controller{
		cfg:      cfg,
		logger:   logger,
		requests: make(chan request),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.pair.Store(dispatch.NewPair(cfg.ChannelBuffer, logger))
	c.touch()
	return c
}

func simulationDefaults(s simulation.Config) simulation.Config {
	d := simulation.DefaultConfig()
	if s.Period <= 0 {
		s.Period = d.Period
	}
	return s
}

// Run serves control requests and ticks until ctx is cancelled or Close is
// called.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.quit:
			return
		case req := <-c.requests:
			req.reply <- req.op()
		case <-c.tickC:
			c.tick()
		}
	}
}

func (c *Controller) tick() {
	c.session.Tick()
	if !c.reached && c.session.Finished() {
		c.reached = true
		c.logger.Info("launch replay reached final waypoints",
			"launch", c.session.Definition().Name,
			"simulated_time", c.session.SimulatedTime(),
		)
	}
}

func (c *Controller) shutdown() {
	c.stopTicking()
	if c.session != nil {
		c.session.Discard()
	}
	c.pair.Load().Close()
}

// do runs op on the actor goroutine and waits for its result.
func (c *Controller) do(ctx context.Context, op func() error) error {
	c.touch()
	req := request{op: op, reply: make(chan error, 1)}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// Init loads def and builds fresh simulation state at liftoff. The running
// state is left as it is.
func (c *Controller) Init(ctx context.Context, def *launch.Definition, rate float64) error {
	if err := validateRate(rate); err != nil {
		return err
	}
	return c.do(ctx, func() error {
		if c.session != nil {
			c.session.Discard()
		}
		c.newSession(def, rate)
		c.logger.Info("playback initialized",
			"launch", def.Name,
			"playback_rate", rate,
			"liftoff_time", def.LiftoffTime,
		)
		return nil
	})
}

func (c *Controller) newSession(def *launch.Definition, rate float64) {
	pair := c.pair.Load()
	c.session = simulation.NewSession(def, rate, c.cfg.Simulation, pair.Visual, pair.UI)
	c.reached = false
}

// Start begins periodic ticking. Starting a running controller is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.session == nil {
			return ErrNotInitialized
		}
		if c.running {
			return nil
		}
		c.startTicking()
		c.logger.Info("playback started",
			"launch", c.session.Definition().Name,
			"simulated_time", c.session.SimulatedTime(),
		)
		return nil
	})
}

// Stop cancels ticking. Simulated time stays where it is. Idempotent.
func (c *Controller) Stop(ctx context.Context) error {
	return c.do(ctx, func() error {
		if !c.running {
			return nil
		}
		c.stopTicking()
		c.logger.Info("playback stopped", "simulated_time", c.session.SimulatedTime())
		return nil
	})
}

func (c *Controller) startTicking() {
	c.tickC, c.stopTk = c.cfg.Ticker(c.cfg.Simulation.Period)
	c.running = true
	metrics.IncSessionsRunning()
}

func (c *Controller) stopTicking() {
	if !c.running {
		return
	}
	c.stopTk()
	c.tickC, c.stopTk = nil, nil
	c.running = false
	metrics.DecSessionsRunning()
}

// SetPlaybackRate changes the rate from the next tick on without resetting
// simulated time.
func (c *Controller) SetPlaybackRate(ctx context.Context, rate float64) error {
	if err := validateRate(rate); err != nil {
		return err
	}
	return c.do(ctx, func() error {
		if c.session == nil {
			return ErrNotInitialized
		}
		c.session.SetRate(rate)
		c.logger.Debug("playback rate changed", "playback_rate", rate)
		return nil
	})
}

// CyclePlaybackRate moves to the next preset above the current rate,
// wrapping to the first, and returns the new rate.
func (c *Controller) CyclePlaybackRate(ctx context.Context) (float64, error) {
	var next float64
	err := c.do(ctx, func() error {
		if c.session == nil {
			return ErrNotInitialized
		}
		next = NextPreset(c.session.Rate())
		c.session.SetRate(next)
		c.logger.Debug("playback rate changed", "playback_rate", next)
		return nil
	})
	return next, err
}

// NextPreset returns the first preset greater than rate, or the first preset
// when rate is at or beyond the last.
func NextPreset(rate float64) float64 {
	for _, p := range RatePresets {
		if p > rate {
			return p
		}
	}
	return RatePresets[0]
}

// Reset discards the session, rebuilds it from the same launch at the
// current rate, replaces both dispatch channels and starts ticking.
// Consumers of the old channels see them retired and must reattach.
func (c *Controller) Reset(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.session == nil {
			return ErrNotInitialized
		}
		def, rate := c.session.Definition(), c.session.Rate()
		c.session.Discard()

		old := c.pair.Swap(dispatch.NewPair(c.cfg.ChannelBuffer, c.logger))
		old.Close()

		c.newSession(def, rate)
		if !c.running {
			c.startTicking()
		}
		c.logger.Info("playback reset", "launch", def.Name, "playback_rate", rate)
		return nil
	})
}

// Resize forwards a viewport change to both consumers immediately, outside
// the tick cycle.
func (c *Controller) Resize(v dispatch.Viewport) {
	c.touch()
	c.pair.Load().Resize(v)
}

// Channels returns the current dispatch channels. The pair is replaced on
// Reset; its Retired channel closes when that happens.
func (c *Controller) Channels() *dispatch.Pair {
	return c.pair.Load()
}

// State is a point-in-time view of the controller.
type State struct {
	Initialized bool `json:"initialized"`
	Running     bool `json:"running"`
	simulation.Snapshot
}

// State returns the current playback state.
func (c *Controller) State(ctx context.Context) (State, error) {
	var st State
	err := c.do(ctx, func() error {
		st.Running = c.running
		if c.session != nil {
			st.Initialized = true
			st.Snapshot = c.session.Snapshot()
		}
		return nil
	})
	return st, err
}

// LastActivity returns when the controller last received a request.
func (c *Controller) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Controller) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// Close stops the actor and closes the dispatch channels. It blocks until Run
// has returned.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.quit) })
	<-c.done
}

// Done is closed when Run has returned.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func validateRate(rate float64) error {
	if rate < 0 || rate > MaxRate || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}
	return nil
}
