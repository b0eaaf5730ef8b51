// Command replay plays a launch back offline and prints every dispatched
// message as a JSON line. Ticks run back to back unless -realtime is set.
//
//	replay -launch "Starlink 4-5" -rate 100
//	replay -file ./crs-24.yaml -channel ui -ticks 400
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/star/liftoff/internal/dispatch"
	"github.com/star/liftoff/internal/launch"
	"github.com/star/liftoff/internal/playback"
	"github.com/star/liftoff/internal/simulation"
	"github.com/star/liftoff/launches"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	launch   string
	file     string
	rate     float64
	period   time.Duration
	ticks    int
	channel  string
	realtime bool
	list     bool
}

// line is one output record.
type line struct {
	Tick    int             `json:"tick"`
	TPlus   float64         `json:"tPlus"`
	Channel string          `json:"channel"`
	Message json.RawMessage `json:"message"`
}

// printer encodes messages for one channel as they are emitted.
type printer struct {
	channel string
	out     *json.Encoder
	session *simulation.Session
	tick    *int
	err     error
}

func (p *printer) Emit(m dispatch.Message) {
	if p.err != nil {
		return
	}
	data, err := dispatch.Encode(m)
	if err != nil {
		p.err = err
		return
	}
	p.err = p.out.Encode(line{
		Tick:    *p.tick,
		TPlus:   p.session.Elapsed().Seconds(),
		Channel: p.channel,
		Message: data,
	})
}

type discard struct{}

func (discard) Emit(dispatch.Message) {}

// syncAfter runs delayed work immediately so output does not depend on the
// wall clock.
func syncAfter(_ time.Duration, f func()) simulation.Canceler {
	f()
	return stopped{}
}

type stopped struct{}

func (stopped) Stop() bool { return false }

func run(args []string, stdout, stderr io.Writer) error {
	var opts options
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.launch, "launch", "Starlink 4-5", "bundled launch to replay")
	fs.StringVar(&opts.file, "file", "", "launch file (.json, .yaml) to replay instead of a bundled one")
	fs.Float64Var(&opts.rate, "rate", 10, "playback rate")
	fs.DurationVar(&opts.period, "period", 25*time.Millisecond, "nominal tick period")
	fs.IntVar(&opts.ticks, "ticks", 0, "stop after this many ticks (0 = until both stages finish)")
	fs.StringVar(&opts.channel, "channel", "both", "channel to print (visual, ui, both)")
	fs.BoolVar(&opts.realtime, "realtime", false, "sleep one period between ticks")
	fs.BoolVar(&opts.list, "list", false, "list bundled launches")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if opts.list {
		catalog := launch.NewCatalog(logger)
		if _, err := catalog.Load(launches.Bundled); err != nil {
			return err
		}
		for _, s := range catalog.List() {
			fmt.Fprintf(stdout, "%s\t%s\t%.0fs\n", s.Name, s.Liftoff.Format(time.RFC3339), s.Duration)
		}
		return nil
	}

	if opts.rate <= 0 {
		return fmt.Errorf("rate must be positive, got %v", opts.rate)
	}
	if opts.rate > playback.MaxRate {
		return fmt.Errorf("rate must not exceed %v, got %v", playback.MaxRate, opts.rate)
	}
	if opts.period <= 0 {
		return fmt.Errorf("period must be positive, got %v", opts.period)
	}
	if opts.ticks == 0 && opts.realtime && opts.rate < 1 {
		return errors.New("refusing an unbounded realtime replay below rate 1; set -ticks")
	}

	def, err := loadDefinition(opts, logger)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	tick := 0
	visual := &printer{channel: dispatch.ChannelVisual, out: enc, tick: &tick}
	ui := &printer{channel: dispatch.ChannelUI, out: enc, tick: &tick}
	var visualOut, uiOut dispatch.Emitter = visual, ui
	switch opts.channel {
	case "both":
	case dispatch.ChannelVisual:
		uiOut = discard{}
	case dispatch.ChannelUI:
		visualOut = discard{}
	default:
		return fmt.Errorf("unknown channel %q", opts.channel)
	}

	sess := simulation.NewSession(def, opts.rate, simulation.Config{
		Period:    opts.period,
		AfterFunc: syncAfter,
	}, visualOut, uiOut)
	visual.session, ui.session = sess, sess
	defer sess.Discard()

	for !sess.Finished() && (opts.ticks == 0 || tick < opts.ticks) {
		tick++
		sess.Tick()
		if err := errors.Join(visual.err, ui.err); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		if opts.realtime {
			time.Sleep(opts.period)
		}
	}

	logger.Info("replay finished", "launch", def.Name, "ticks", tick, "elapsed", sess.Elapsed())
	return nil
}

func loadDefinition(opts options, logger *slog.Logger) (*launch.Definition, error) {
	if opts.file != "" {
		return launch.ParseFile(os.DirFS(filepath.Dir(opts.file)), filepath.Base(opts.file))
	}
	catalog := launch.NewCatalog(logger)
	if _, err := catalog.Load(launches.Bundled); err != nil {
		return nil, err
	}
	return catalog.Get(opts.launch)
}
