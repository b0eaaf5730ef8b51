package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/star/liftoff/internal/dispatch"
	"github.com/star/liftoff/internal/session"
)

// Inbound control message types.
const (
	ControlInit              = "init"
	ControlStart             = "start"
	ControlStop              = "stop"
	ControlSetPlaybackRate   = "set-playback-rate"
	ControlCyclePlaybackRate = "cycle-playback-rate"
	ControlReset             = "reset"
	ControlResize            = "resize"
)

const controlTimeout = 5 * time.Second

var errUnknownControl = errors.New("unknown control message")

// controlMessage is an inbound {"type","data"} envelope.
type controlMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type initData struct {
	Launch string   `json:"launch"`
	Rate   *float64 `json:"rate,omitempty"`
}

type rateData struct {
	Rate float64 `json:"rate"`
}

// controlResult acknowledges a control message.
type controlResult struct {
	Command      string  `json:"command"`
	PlaybackRate float64 `json:"playbackRate,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// apply executes one control message against sess.
func (h *Handler) apply(ctx context.Context, sess *session.Session, msg controlMessage) (controlResult, error) {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	ctrl := sess.Controller
	res := controlResult{Command: msg.Type}

	switch msg.Type {
	case ControlInit:
		var d initData
		if len(msg.Data) > 0 {
			if err := decodeData(msg.Data, &d); err != nil {
				return res, err
			}
		}
		name := d.Launch
		if name == "" {
			name = sess.Launch
		}
		def, err := h.launches.Get(name)
		if err != nil {
			return res, err
		}
		rate := h.config.DefaultRate
		if d.Rate != nil {
			rate = *d.Rate
		}
		res.PlaybackRate = rate
		return res, ctrl.Init(ctx, def, rate)

	case ControlStart:
		return res, ctrl.Start(ctx)

	case ControlStop:
		return res, ctrl.Stop(ctx)

	case ControlSetPlaybackRate:
		var d rateData
		if err := decodeData(msg.Data, &d); err != nil {
			return res, err
		}
		res.PlaybackRate = d.Rate
		return res, ctrl.SetPlaybackRate(ctx, d.Rate)

	case ControlCyclePlaybackRate:
		rate, err := ctrl.CyclePlaybackRate(ctx)
		res.PlaybackRate = rate
		return res, err

	case ControlReset:
		return res, ctrl.Reset(ctx)

	case ControlResize:
		var v dispatch.Viewport
		if err := decodeData(msg.Data, &v); err != nil {
			return res, err
		}
		ctrl.Resize(v)
		return res, nil
	}

	return res, fmt.Errorf("%w: %q", errUnknownControl, msg.Type)
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("missing data")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding data: %w", err)
	}
	return nil
}
