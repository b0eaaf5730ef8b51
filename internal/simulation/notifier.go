package simulation

import (
	"sync"
	"time"

	"github.com/star/liftoff/internal/dispatch"
	"github.com/star/liftoff/internal/launch"
	"github.com/star/liftoff/internal/metrics"
)

// AfterFunc schedules f to run after d and returns a handle that can cancel it.
type AfterFunc func(d time.Duration, f func()) Canceler

// Canceler stops a scheduled function if it has not started yet.
type Canceler interface {
	Stop() bool
}

func realAfterFunc(d time.Duration, f func()) Canceler {
	return time.AfterFunc(d, f)
}

// NotificationScheduler keeps at most one narrative notification visible,
// each for a fixed display window of simulated time.
type NotificationScheduler struct {
	notifications []launch.Notification
	duration      time.Duration
	showDelay     time.Duration
	after         AfterFunc
	ui            dispatch.Emitter

	index    int
	startsAt time.Time
	pending  bool // a notification at index is still to be shown
	endsAt   time.Time
	visible  bool

	// mu orders delayed shows against hides emitted by Step. generation
	// increments on every hide so a show scheduled before it is discarded.
	mu         sync.Mutex
	generation uint64
	timer      Canceler
}

func newNotificationScheduler(ns []launch.Notification, cfg Config, ui dispatch.Emitter) *NotificationScheduler {
	n := &NotificationScheduler{
		notifications: ns,
		duration:      cfg.NotificationDuration,
		showDelay:     cfg.NotificationShowDelay,
		after:         cfg.AfterFunc,
		ui:            ui,
	}
	if n.after == nil {
		n.after = realAfterFunc
	}
	if len(ns) > 0 {
		n.pending = true
		n.startsAt = ns[0].Time
		n.endsAt = ns[0].Time.Add(n.duration)
	}
	return n
}

// Index returns the cursor into the notification list.
func (n *NotificationScheduler) Index() int { return n.index }

// Visible reports whether a notification's display window is open.
func (n *NotificationScheduler) Visible() bool { return n.visible }

// Step updates notification visibility for simulated time now.
// rate scales the real-time show delay so it stays proportional to playback.
func (n *NotificationScheduler) Step(now time.Time, rate float64) {
	if n.visible && !now.Before(n.endsAt) {
		n.hide()
		n.visible = false
	}

	if !n.pending || now.Before(n.startsAt) {
		return
	}

	// Clear whatever is on screen before the next one appears.
	n.hide()

	shown := n.notifications[n.index]
	n.index++
	n.endsAt = shown.Time.Add(n.duration)
	n.visible = true
	if n.index < len(n.notifications) {
		n.startsAt = n.notifications[n.index].Time
	} else {
		n.pending = false
	}

	n.scheduleShow(shown, n.delay(rate))
	metrics.IncNotificationsShown()
}

func (n *NotificationScheduler) delay(rate float64) time.Duration {
	if rate <= 0 {
		return n.showDelay
	}
	return time.Duration(float64(n.showDelay) / rate)
}

func (n *NotificationScheduler) hide() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.generation++
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.ui.Emit(dispatch.NotificationHide{})
}

func (n *NotificationScheduler) scheduleShow(shown launch.Notification, d time.Duration) {
	msg := dispatch.NotificationShow{Title: shown.Title, Description: shown.Description}

	n.mu.Lock()
	gen := n.generation
	n.mu.Unlock()

	t := n.after(d, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		// A hide issued after scheduling supersedes this show.
		if n.generation != gen {
			return
		}
		n.timer = nil
		n.ui.Emit(msg)
	})

	n.mu.Lock()
	if n.generation == gen {
		n.timer = t
	}
	n.mu.Unlock()
}

// Cancel drops a pending delayed show, if any.
func (n *NotificationScheduler) Cancel() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.generation++
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}
