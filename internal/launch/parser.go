package launch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Format selects the encoding of a launch file.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// ErrInvalidDefinition is returned when a launch file cannot be used for playback.
var ErrInvalidDefinition = errors.New("invalid launch definition")

// File-level representation. Times stay strings so JSON and YAML go through
// the same RFC 3339 parsing.
type fileDefinition struct {
	Name          string             `json:"name" yaml:"name"`
	Site          string             `json:"site" yaml:"site"`
	TimeZone      string             `json:"timeZone" yaml:"timeZone"`
	LiftoffTime   string             `json:"liftoffTime" yaml:"liftoffTime"`
	Events        []fileEvent        `json:"events" yaml:"events"`
	Notifications []fileNotification `json:"notifications" yaml:"notifications"`
	Telemetry     struct {
		Stage map[string][]fileWaypoint `json:"stage" yaml:"stage"`
	} `json:"telemetry" yaml:"telemetry"`
}

type fileEvent struct {
	Time  string `json:"time" yaml:"time"`
	Title string `json:"title" yaml:"title"`
}

type fileNotification struct {
	Time        string `json:"time" yaml:"time"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
}

type fileWaypoint struct {
	Time     string     `json:"time" yaml:"time"`
	Altitude float64    `json:"altitude" yaml:"altitude"`
	Speed    float64    `json:"speed" yaml:"speed"`
	Position [2]float64 `json:"position" yaml:"position"`
}

// Parse decodes a launch definition from r.
// Ordering of events, notifications and waypoints is taken as given.
func Parse(r io.Reader, format Format) (*Definition, error) {
	var raw fileDefinition
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
			return nil, fmt.Errorf("decoding yaml: %w", err)
		}
	default:
		if err := json.NewDecoder(r).Decode(&raw); err != nil {
			return nil, fmt.Errorf("decoding json: %w", err)
		}
	}
	return raw.toDefinition()
}

func (f *fileDefinition) toDefinition() (*Definition, error) {
	liftoff, err := parseTime(f.LiftoffTime)
	if err != nil {
		return nil, fmt.Errorf("%w: liftoffTime: %v", ErrInvalidDefinition, err)
	}

	def := &Definition{
		Name:        f.Name,
		Site:        f.Site,
		TimeZone:    f.TimeZone,
		LiftoffTime: liftoff,
	}

	def.Events = make([]Event, 0, len(f.Events))
	for i, e := range f.Events {
		t, err := parseTime(e.Time)
		if err != nil {
			return nil, fmt.Errorf("%w: events[%d]: %v", ErrInvalidDefinition, i, err)
		}
		def.Events = append(def.Events, Event{Time: t, Title: e.Title})
	}

	def.Notifications = make([]Notification, 0, len(f.Notifications))
	for i, n := range f.Notifications {
		t, err := parseTime(n.Time)
		if err != nil {
			return nil, fmt.Errorf("%w: notifications[%d]: %v", ErrInvalidDefinition, i, err)
		}
		def.Notifications = append(def.Notifications, Notification{
			Time:        t,
			Title:       n.Title,
			Description: n.Description,
		})
	}

	for _, stage := range Stages {
		key := fmt.Sprint(int(stage))
		raw := f.Telemetry.Stage[key]
		// Playback indexes the first two waypoints unconditionally.
		if len(raw) < 2 {
			return nil, fmt.Errorf("%w: telemetry.stage[%s] has %d waypoints, need at least 2",
				ErrInvalidDefinition, key, len(raw))
		}
		wps := make([]Waypoint, 0, len(raw))
		for i, w := range raw {
			t, err := parseTime(w.Time)
			if err != nil {
				return nil, fmt.Errorf("%w: telemetry.stage[%s][%d]: %v", ErrInvalidDefinition, key, i, err)
			}
			wps = append(wps, Waypoint{
				Time:     t,
				Altitude: w.Altitude,
				Speed:    w.Speed,
				Position: Position(w.Position),
			})
		}
		def.Telemetry[stage-1] = wps
	}

	return def, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing time")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
