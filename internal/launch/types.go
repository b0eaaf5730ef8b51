package launch

import (
	"time"

	"github.com/star/liftoff/internal/geo"
)

// Stage identifies one of the two tracked rocket stages.
type Stage int

const (
	Stage1 Stage = 1
	Stage2 Stage = 2
)

// Stages lists the stages in tick order.
var Stages = [...]Stage{Stage1, Stage2}

// Position is a geographic coordinate in storage order: [lat, lon] in degrees.
type Position [2]float64

// Lat returns the latitude in degrees.
func (p Position) Lat() float64 { return p[0] }

// Lon returns the longitude in degrees.
func (p Position) Lon() float64 { return p[1] }

// Waypoint is one recorded telemetry sample for a stage.
type Waypoint struct {
	Time     time.Time
	Altitude float64  // km
	Speed    float64  // km/h
	Position Position // [lat, lon]
}

// Event is a named moment on the mission timeline.
type Event struct {
	Time  time.Time `json:"time"`
	Title string    `json:"title"`
}

// Notification is a narrative message shown during playback.
type Notification struct {
	Time        time.Time `json:"time"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
}

// Definition is the immutable data for a single launch.
// Waypoint sequences must be sorted by time and hold at least two entries.
type Definition struct {
	Name          string
	Site          string
	TimeZone      string
	LiftoffTime   time.Time
	Events        []Event
	Notifications []Notification
	Telemetry     [2][]Waypoint // indexed by Stage-1
}

// Waypoints returns the waypoint sequence for stage s.
func (d *Definition) Waypoints(s Stage) []Waypoint {
	return d.Telemetry[s-1]
}

// Summary describes a launch for catalog listings.
type Summary struct {
	Name     string    `json:"name"`
	Site     string    `json:"site,omitempty"`
	TimeZone string    `json:"timeZone,omitempty"`
	Liftoff  time.Time `json:"liftoff"`
	Speed    float64   `json:"speed"`    // peak km/h across both stages
	Altitude float64   `json:"altitude"` // peak km across both stages
	Duration float64   `json:"durationSeconds"`
	// Downrange is the great-circle distance in km from the first stage 1
	// waypoint to the last stage 2 waypoint.
	Downrange float64 `json:"downrange"`
}

// Summarize computes the catalog summary for d.
func (d *Definition) Summarize() Summary {
	s := Summary{
		Name:     d.Name,
		Site:     d.Site,
		TimeZone: d.TimeZone,
		Liftoff:  d.LiftoffTime,
	}

	var end time.Time
	for _, wps := range d.Telemetry {
		for _, wp := range wps {
			if wp.Speed > s.Speed {
				s.Speed = wp.Speed
			}
			if wp.Altitude > s.Altitude {
				s.Altitude = wp.Altitude
			}
			if wp.Time.After(end) {
				end = wp.Time
			}
		}
	}
	if !end.IsZero() {
		s.Duration = end.Sub(d.LiftoffTime).Seconds()
	}
	first, last := d.Telemetry[0], d.Telemetry[1]
	if len(first) > 0 && len(last) > 0 {
		from, to := first[0].Position, last[len(last)-1].Position
		s.Downrange = geo.Distance(
			geo.Point{Lon: from.Lon(), Lat: from.Lat()},
			geo.Point{Lon: to.Lon(), Lat: to.Lat()},
		) * geo.EarthRadiusKm
	}
	return s
}
