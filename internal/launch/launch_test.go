package launch

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/star/liftoff/launches"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const jsonLaunch = `{
  "name": "Test Flight",
  "site": "SLC-40",
  "timeZone": "America/New_York",
  "liftoffTime": "2022-01-06T09:49:00Z",
  "events": [{"time": "2022-01-06T09:50:12Z", "title": "Max-Q"}],
  "notifications": [
    {"time": "2022-01-06T09:49:00Z", "title": "LIFTOFF", "description": "We have liftoff."}
  ],
  "telemetry": {
    "stage": {
      "1": [
        {"time": "2022-01-06T09:49:00Z", "altitude": 0, "speed": 0, "position": [28.6, -80.6]},
        {"time": "2022-01-06T09:49:15Z", "altitude": 0.2, "speed": 164, "position": [28.58, -80.59]}
      ],
      "2": [
        {"time": "2022-01-06T09:51:52Z", "altitude": 70, "speed": 7000, "position": [29.0, -80.0]},
        {"time": "2022-01-06T09:58:00Z", "altitude": 210, "speed": 27000, "position": [31.0, -77.0]}
      ]
    }
  }
}`

const yamlLaunch = `
name: YAML Flight
liftoffTime: 2022-01-06T09:49:00.500Z
notifications:
  - time: 2022-01-06T09:49:00.500Z
    title: LIFTOFF
    description: We have liftoff.
telemetry:
  stage:
    "1":
      - {time: 2022-01-06T09:49:00.500Z, altitude: 0, speed: 0, position: [28.6, -80.6]}
      - {time: 2022-01-06T09:49:15.500Z, altitude: 0.2, speed: 164, position: [28.58, -80.59]}
    "2":
      - {time: 2022-01-06T09:51:52Z, altitude: 70, speed: 7000, position: [29.0, -80.0]}
      - {time: 2022-01-06T09:52:00Z, altitude: 80, speed: 7200, position: [29.1, -79.9]}
`

func TestParseJSON(t *testing.T) {
	def, err := Parse(strings.NewReader(jsonLaunch), FormatJSON)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if def.Name != "Test Flight" || def.Site != "SLC-40" {
		t.Errorf("metadata = %q %q", def.Name, def.Site)
	}
	want := time.Date(2022, 1, 6, 9, 49, 0, 0, time.UTC)
	if !def.LiftoffTime.Equal(want) {
		t.Errorf("liftoff = %v, want %v", def.LiftoffTime, want)
	}
	if len(def.Events) != 1 || def.Events[0].Title != "Max-Q" {
		t.Errorf("events = %+v", def.Events)
	}
	if len(def.Notifications) != 1 || def.Notifications[0].Description != "We have liftoff." {
		t.Errorf("notifications = %+v", def.Notifications)
	}
	wp := def.Waypoints(Stage1)[1]
	if wp.Altitude != 0.2 || wp.Speed != 164 || wp.Position.Lat() != 28.58 || wp.Position.Lon() != -80.59 {
		t.Errorf("stage 1 waypoint 1 = %+v", wp)
	}
	if n := len(def.Waypoints(Stage2)); n != 2 {
		t.Errorf("stage 2 waypoints = %d, want 2", n)
	}
}

func TestParseYAML(t *testing.T) {
	def, err := Parse(strings.NewReader(yamlLaunch), FormatYAML)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if def.Name != "YAML Flight" {
		t.Errorf("name = %q", def.Name)
	}
	if got := def.LiftoffTime.Nanosecond(); got != 500_000_000 {
		t.Errorf("liftoff fraction = %dns, want 500ms", got)
	}
	if def.Waypoints(Stage2)[1].Speed != 7200 {
		t.Errorf("stage 2 final speed = %v", def.Waypoints(Stage2)[1].Speed)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing liftoff", `{"telemetry":{"stage":{}}}`},
		{"bad time", `{"liftoffTime":"yesterday"}`},
		{"short stage", `{"liftoffTime":"2022-01-06T09:49:00Z","telemetry":{"stage":{
			"1":[{"time":"2022-01-06T09:49:00Z"}],
			"2":[{"time":"2022-01-06T09:49:00Z"},{"time":"2022-01-06T09:49:01Z"}]}}}`},
		{"missing stage 2", `{"liftoffTime":"2022-01-06T09:49:00Z","telemetry":{"stage":{
			"1":[{"time":"2022-01-06T09:49:00Z"},{"time":"2022-01-06T09:49:01Z"}]}}}`},
		{"bad waypoint time", `{"liftoffTime":"2022-01-06T09:49:00Z","telemetry":{"stage":{
			"1":[{"time":"2022-01-06T09:49:00Z"},{"time":"soon"}],
			"2":[{"time":"2022-01-06T09:49:00Z"},{"time":"2022-01-06T09:49:01Z"}]}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input), FormatJSON)
			if !errors.Is(err, ErrInvalidDefinition) {
				t.Errorf("err = %v, want ErrInvalidDefinition", err)
			}
		})
	}

	if _, err := Parse(strings.NewReader("{not json"), FormatJSON); err == nil {
		t.Error("malformed JSON parsed without error")
	}
}

func TestCatalogLoad(t *testing.T) {
	fsys := fstest.MapFS{
		"flight.json":   {Data: []byte(jsonLaunch)},
		"yaml.yml":      {Data: []byte(yamlLaunch)},
		"broken.json":   {Data: []byte("{")},
		"README.md":     {Data: []byte("# launches")},
		"dup.yaml":      {Data: []byte(strings.Replace(yamlLaunch, "YAML Flight", "Test Flight", 1))},
		"nested/x.json": {Data: []byte(jsonLaunch)},
	}

	c := NewCatalog(testLogger())
	n, err := c.Load(fsys)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 2 || c.Len() != 2 {
		t.Fatalf("loaded %d (Len %d), want 2", n, c.Len())
	}

	def, err := c.Get("YAML Flight")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if def.Name != "YAML Flight" {
		t.Errorf("got %q", def.Name)
	}

	if _, err := c.Get("Apollo 11"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing launch err = %v, want ErrNotFound", err)
	}
}

func TestCatalogNameFromFile(t *testing.T) {
	unnamed := strings.Replace(jsonLaunch, `"name": "Test Flight",`, "", 1)
	c := NewCatalog(testLogger())
	if _, err := c.Load(fstest.MapFS{"crs-24.json": {Data: []byte(unnamed)}}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get("crs-24"); err != nil {
		t.Errorf("expected launch named after its file: %v", err)
	}
}

func TestCatalogLayers(t *testing.T) {
	override := strings.Replace(jsonLaunch, `"site": "SLC-40"`, `"site": "LC-39A"`, 1)
	c := NewCatalog(testLogger())
	n, err := c.Load(
		fstest.MapFS{"a.json": {Data: []byte(jsonLaunch)}, "b.yaml": {Data: []byte(yamlLaunch)}},
		fstest.MapFS{"test-flight.json": {Data: []byte(override)}},
	)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
	def, err := c.Get("Test Flight")
	if err != nil {
		t.Fatal(err)
	}
	if def.Site != "LC-39A" {
		t.Errorf("site = %q, later layer should win", def.Site)
	}

	if _, err := c.Load(fstest.MapFS{}, brokenFS{}); err == nil {
		t.Error("expected error for unreadable layer")
	}
}

type brokenFS struct{}

func (brokenFS) Open(string) (fs.File, error) { return nil, fs.ErrPermission }

func TestCatalogListOrderAndAdd(t *testing.T) {
	c := NewCatalog(testLogger())
	if !c.UpdatedAt().IsZero() {
		t.Error("empty catalog has an update time")
	}
	if _, err := c.Load(fstest.MapFS{
		"a.json": {Data: []byte(jsonLaunch)},
		"b.yaml": {Data: []byte(yamlLaunch)},
	}); err != nil {
		t.Fatal(err)
	}
	loaded := c.UpdatedAt()
	if loaded.IsZero() {
		t.Error("Load did not set the update time")
	}
	c.Add(&Definition{Name: "Early", LiftoffTime: time.Date(2020, 5, 30, 19, 22, 0, 0, time.UTC)})
	if c.UpdatedAt().Before(loaded) {
		t.Error("Add moved the update time backwards")
	}

	list := c.List()
	var names []string
	for _, s := range list {
		names = append(names, s.Name)
	}
	want := []string{"Early", "Test Flight", "YAML Flight"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("List order = %v, want %v", names, want)
	}
}

func TestSummarize(t *testing.T) {
	def, err := Parse(strings.NewReader(jsonLaunch), FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	s := def.Summarize()
	if s.Speed != 27000 || s.Altitude != 210 {
		t.Errorf("peaks = %v km/h %v km", s.Speed, s.Altitude)
	}
	if s.Duration != 540 {
		t.Errorf("duration = %vs, want 540", s.Duration)
	}
	// (28.6, -80.6) to (31.0, -77.0) is roughly 430 km.
	if s.Downrange < 400 || s.Downrange > 470 {
		t.Errorf("downrange = %.1f km", s.Downrange)
	}
}

func TestBundledLaunches(t *testing.T) {
	c := NewCatalog(testLogger())
	n, err := c.Load(launches.Bundled)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n == 0 {
		t.Fatal("no bundled launches")
	}
	def, err := c.Get("Starlink 4-5")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for _, st := range Stages {
		wps := def.Waypoints(st)
		for i := 1; i < len(wps); i++ {
			if !wps[i].Time.After(wps[i-1].Time) {
				t.Errorf("stage %d waypoint %d not after its predecessor", st, i)
			}
		}
	}
	if len(def.Notifications) == 0 || def.Notifications[0].Title != "LIFTOFF" {
		t.Errorf("first notification = %+v", def.Notifications)
	}
}
