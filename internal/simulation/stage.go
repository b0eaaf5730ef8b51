package simulation

import (
	"math"
	"time"

	"github.com/star/liftoff/internal/dispatch"
	"github.com/star/liftoff/internal/geo"
	"github.com/star/liftoff/internal/launch"
)

// StageSimulator holds the interpolation state for one stage's waypoints.
// It is owned by a Session and only mutated during Tick.
type StageSimulator struct {
	stage     launch.Stage
	waypoints []launch.Waypoint

	done            bool
	waypointIndex   int
	segmentEnd      time.Time
	segmentDuration time.Duration

	speed    func(float64) float64
	altitude func(float64) float64
	position func(float64) geo.Point
}

// Sample is the interpolated state of a stage at one instant.
type Sample struct {
	Stage    launch.Stage
	Ratio    float64
	Altitude float64
	Speed    float64
	Position launch.Position
	Terminal bool
}

func newStageSimulator(stage launch.Stage, waypoints []launch.Waypoint) *StageSimulator {
	s := &StageSimulator{stage: stage, waypoints: waypoints}
	s.enterSegment(0)
	return s
}

// enterSegment bounds interpolation by waypoints[i] and waypoints[i+1].
func (s *StageSimulator) enterSegment(i int) {
	from, to := s.waypoints[i], s.waypoints[i+1]
	s.waypointIndex = i
	s.segmentEnd = to.Time
	s.segmentDuration = to.Time.Sub(from.Time)
	s.speed = geo.InterpolateNumber(from.Speed, to.Speed)
	s.altitude = geo.InterpolateNumber(from.Altitude, to.Altitude)
	// Interpolation works in (lon, lat); storage order is (lat, lon).
	s.position = geo.Interpolate(toPoint(from.Position), toPoint(to.Position))
}

// Done reports whether the stage has passed its final waypoint.
func (s *StageSimulator) Done() bool { return s.done }

// WaypointIndex returns the index of the segment's starting waypoint.
func (s *StageSimulator) WaypointIndex() int { return s.waypointIndex }

// advance moves the stage to now. It returns false when the stage produces
// no sample this tick (already done, or not yet started).
func (s *StageSimulator) advance(now time.Time) (Sample, bool) {
	if s.done {
		return Sample{}, false
	}
	if now.Before(s.waypoints[s.waypointIndex].Time) {
		return Sample{}, false
	}

	for !now.Before(s.segmentEnd) {
		next := s.waypointIndex + 1
		if next+1 >= len(s.waypoints) {
			checkpoint := s.waypoints[next]
			s.done = true
			s.waypointIndex = next
			return Sample{
				Stage:    s.stage,
				Ratio:    1,
				Altitude: checkpoint.Altitude,
				Speed:    checkpoint.Speed,
				Position: checkpoint.Position,
				Terminal: true,
			}, true
		}
		s.enterSegment(next)
	}

	ratio := float64(now.Sub(s.segmentEnd)+s.segmentDuration) / float64(s.segmentDuration)
	return Sample{
		Stage:    s.stage,
		Ratio:    ratio,
		Altitude: s.altitude(ratio),
		Speed:    s.speed(ratio),
		Position: fromPoint(s.position(ratio)),
	}, true
}

func toPoint(p launch.Position) geo.Point {
	return geo.Point{Lon: p.Lon(), Lat: p.Lat()}
}

func fromPoint(p geo.Point) launch.Position {
	return launch.Position{p.Lat, p.Lon}
}

// visualUpdate builds the 3D-consumer message for a sample.
func (sm Sample) visualUpdate() dispatch.VisualUpdate {
	return dispatch.VisualUpdate{
		Stage:    sm.Stage,
		Altitude: sm.Altitude,
		Position: sm.Position,
		ECEF:     geo.GeodeticToECEF(sm.Position.Lat(), sm.Position.Lon(), sm.Altitude*1000).Array(),
	}
}

// uiUpdate builds the overlay message for a sample. Interpolated speed is
// rounded for display; the terminal sample carries the checkpoint's recorded
// speed as is. Altitude is formatted in both cases.
func (sm Sample) uiUpdate(now, liftoff time.Time) dispatch.UIUpdate {
	speed := sm.Speed
	if !sm.Terminal {
		speed = math.Round(speed)
	}
	return dispatch.UIUpdate{
		Stage:    sm.Stage,
		Date:     now,
		TPlus:    int64(now.Sub(liftoff) / time.Second),
		Speed:    speed,
		Altitude: dispatch.FormatAltitude(sm.Altitude),
	}
}
