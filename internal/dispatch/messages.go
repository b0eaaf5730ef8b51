package dispatch

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/star/liftoff/internal/launch"
)

// Message types carried on the outbound channels.
const (
	TypeVisualUpdate     = "visual-update"
	TypeVisualResize     = "visual-resize"
	TypeUIUpdate         = "ui-update"
	TypeUIResize         = "ui-resize"
	TypeNotificationShow = "notification-show"
	TypeNotificationHide = "notification-hide"
)

// Message is a value published on a Channel. Messages are immutable once
// emitted; consumers receive copies, never engine state.
type Message interface {
	Type() string
}

// VisualUpdate positions one stage in the 3D scene.
type VisualUpdate struct {
	Stage    launch.Stage    `json:"stage"`
	Altitude float64         `json:"altitude"` // km, unformatted
	Position launch.Position `json:"position"` // [lat, lon]
	ECEF     [3]float64      `json:"ecef"`     // meters
}

func (VisualUpdate) Type() string { return TypeVisualUpdate }

// UIUpdate feeds the instrument overlay for one stage.
type UIUpdate struct {
	Stage    launch.Stage      `json:"stage"`
	Date     time.Time         `json:"date"`
	TPlus    int64             `json:"tPlus"` // whole seconds since liftoff
	Speed    float64           `json:"speed"` // km/h, rounded
	Altitude FormattedAltitude `json:"altitude"`
}

func (UIUpdate) Type() string { return TypeUIUpdate }

// Viewport describes the consumer's drawing surface.
type Viewport struct {
	Width        float64 `json:"viewportWidth"`
	Height       float64 `json:"viewportHeight"`
	PixelDensity float64 `json:"pixelDensity"`
}

// VisualResize forwards a viewport change to the visual consumer.
type VisualResize struct{ Viewport }

func (VisualResize) Type() string { return TypeVisualResize }

// UIResize forwards a viewport change to the UI consumer.
type UIResize struct{ Viewport }

func (UIResize) Type() string { return TypeUIResize }

// NotificationShow displays a narrative notification.
type NotificationShow struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (NotificationShow) Type() string { return TypeNotificationShow }

// NotificationHide clears any visible notification. Its payload is null.
type NotificationHide struct{}

func (NotificationHide) Type() string { return TypeNotificationHide }

func (NotificationHide) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// FormattedAltitude is the display form of an altitude in km: one decimal
// place as a string below 100, a rounded number from 100 up.
type FormattedAltitude struct {
	km float64
}

// FormatAltitude wraps km for display.
func FormatAltitude(km float64) FormattedAltitude {
	return FormattedAltitude{km: km}
}

// Raw returns the unformatted altitude.
func (a FormattedAltitude) Raw() float64 { return a.km }

// String renders the display form.
func (a FormattedAltitude) String() string {
	if a.km < 100 {
		return strconv.FormatFloat(a.km, 'f', 1, 64)
	}
	return strconv.FormatFloat(math.Round(a.km), 'f', 0, 64)
}

// MarshalJSON emits a string below 100 km and a number otherwise.
func (a FormattedAltitude) MarshalJSON() ([]byte, error) {
	if a.km < 100 {
		return json.Marshal(a.String())
	}
	return json.Marshal(math.Round(a.km))
}

// envelope is the wire form shared by every transport.
type envelope struct {
	Type string  `json:"type"`
	Data Message `json:"data"`
}

// Encode marshals m as {"type": ..., "data": ...}.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(envelope{Type: m.Type(), Data: m})
}
