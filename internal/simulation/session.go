// Package simulation owns simulated mission time for one playback session.
//
// A Session advances a mission clock in fixed nominal steps, interpolates
// both stages' telemetry between recorded waypoints, schedules narrative
// notifications and publishes the derived values on two emitters:
//
//	visual: visual-update {stage, altitude, position, ecef}
//	ui:     ui-update {stage, date, tPlus, speed, altitude}
//	        notification-show {title, description} / notification-hide
//
// Time advances by Period × rate per Tick regardless of how late the tick
// fires, so a replay is deterministic for a given rate schedule.
//
// A Session is not safe for concurrent use; the playback controller calls it
// from a single goroutine.
package simulation

import (
	"math"
	"time"

	"github.com/star/liftoff/internal/dispatch"
	"github.com/star/liftoff/internal/launch"
	"github.com/star/liftoff/internal/metrics"
)

// Config holds simulation timing parameters.
type Config struct {
	Period                time.Duration // nominal tick period (default: 25ms)
	NotificationDuration  time.Duration // display window per notification (default: 5s)
	NotificationShowDelay time.Duration // real-time show delay at rate 1 (default: 200ms)

	// AfterFunc schedules delayed notification shows. Defaults to time.AfterFunc.
	AfterFunc AfterFunc
}

// DefaultConfig returns the standard timing parameters.
func DefaultConfig() Config {
	return Config{
		Period:                25 * time.Millisecond,
		NotificationDuration:  5 * time.Second,
		NotificationShowDelay: 200 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Period <= 0 {
		c.Period = d.Period
	}
	if c.NotificationDuration <= 0 {
		c.NotificationDuration = d.NotificationDuration
	}
	if c.NotificationShowDelay < 0 {
		c.NotificationShowDelay = d.NotificationShowDelay
	}
	return c
}

// Session is the mutable simulation state of one playback.
type Session struct {
	def    *launch.Definition
	config Config

	simulatedTime time.Time
	rate          float64

	stages   [2]*StageSimulator
	notifier *NotificationScheduler

	visual dispatch.Emitter
	ui     dispatch.Emitter
}

// NewSession builds fresh simulation state from def. Simulated time starts
// at liftoff, each stage at its first segment, the notification cursor at the
// first notification.
func NewSession(def *launch.Definition, rate float64, cfg Config, visual, ui dispatch.Emitter) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		def:           def,
		config:        cfg,
		simulatedTime: def.LiftoffTime,
		rate:          rate,
		visual:        visual,
		ui:            ui,
	}
	for _, stage := range launch.Stages {
		s.stages[stage-1] = newStageSimulator(stage, def.Waypoints(stage))
	}
	s.notifier = newNotificationScheduler(def.Notifications, cfg, ui)
	return s
}

// Tick advances simulated time by one nominal period and publishes the
// resulting updates.
func (s *Session) Tick() {
	start := time.Now()

	s.simulatedTime = s.simulatedTime.Add(s.step())
	now := s.simulatedTime

	s.notifier.Step(now, s.rate)

	for _, st := range s.stages {
		sample, ok := st.advance(now)
		if !ok {
			continue
		}
		s.visual.Emit(sample.visualUpdate())
		s.ui.Emit(sample.uiUpdate(now, s.def.LiftoffTime))
		if sample.Terminal {
			metrics.IncStageCompleted(int(sample.Stage))
		}
	}

	metrics.ObserveTick(time.Since(start))
}

// step is the simulated time covered by one tick, saturating at the largest
// Duration so an extreme rate can never wrap time backwards.
func (s *Session) step() time.Duration {
	d := float64(s.config.Period) * s.rate
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// SimulatedTime returns the current point on the mission timeline.
func (s *Session) SimulatedTime() time.Time { return s.simulatedTime }

// Elapsed returns simulated time since liftoff.
func (s *Session) Elapsed() time.Duration { return s.simulatedTime.Sub(s.def.LiftoffTime) }

// Rate returns the playback rate.
func (s *Session) Rate() float64 { return s.rate }

// SetRate changes the playback rate from the next tick on.
func (s *Session) SetRate(rate float64) { s.rate = rate }

// Stage returns the simulator for stage st.
func (s *Session) Stage(st launch.Stage) *StageSimulator { return s.stages[st-1] }

// Notifications returns the notification scheduler.
func (s *Session) Notifications() *NotificationScheduler { return s.notifier }

// Definition returns the launch being replayed.
func (s *Session) Definition() *launch.Definition { return s.def }

// Finished reports whether both stages have passed their final waypoint.
func (s *Session) Finished() bool {
	for _, st := range s.stages {
		if !st.done {
			return false
		}
	}
	return true
}

// Discard cancels any delayed notification show still pending.
func (s *Session) Discard() {
	s.notifier.Cancel()
}

// Snapshot is a read-only view of the session for status reporting.
type Snapshot struct {
	Launch             string        `json:"launch"`
	SimulatedTime      time.Time     `json:"simulatedTime"`
	Elapsed            time.Duration `json:"-"`
	ElapsedSeconds     float64       `json:"elapsedSeconds"`
	Rate               float64       `json:"playbackRate"`
	Stages             [2]StageState `json:"stages"`
	NotificationIndex  int           `json:"notificationIndex"`
	NotificationActive bool          `json:"notificationActive"`
	Finished           bool          `json:"finished"`
}

// StageState is the per-stage part of a Snapshot.
type StageState struct {
	Stage         launch.Stage `json:"stage"`
	WaypointIndex int          `json:"waypointIndex"`
	Done          bool         `json:"done"`
}

// Snapshot captures the current state.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Launch:             s.def.Name,
		SimulatedTime:      s.simulatedTime,
		Elapsed:            s.Elapsed(),
		ElapsedSeconds:     s.Elapsed().Seconds(),
		Rate:               s.rate,
		NotificationIndex:  s.notifier.Index(),
		NotificationActive: s.notifier.Visible(),
		Finished:           s.Finished(),
	}
	for i, st := range s.stages {
		snap.Stages[i] = StageState{Stage: st.stage, WaypointIndex: st.WaypointIndex(), Done: st.Done()}
	}
	return snap
}
