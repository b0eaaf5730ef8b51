// Package dispatch implements the one-way message channels that carry
// playback state from the simulation to its consumers.
//
// A Channel is asynchronous and fire-and-forget:
//   - Emit never blocks the caller.
//   - Messages are delivered in emission order (FIFO) by a single
//     delivery goroutine.
//   - A message emitted while no consumer is attached is dropped, not
//     buffered; the next tick supersedes it.
//   - A message emitted while the queue is full is dropped and counted.
//
// Consumers register handlers with Attach. Handlers run on the delivery
// goroutine and must not block; transports copy the message into their own
// buffered queue.
package dispatch

import (
	"log/slog"
	"sync"

	"github.com/star/liftoff/internal/metrics"
)

// Handler consumes messages delivered on a Channel.
type Handler func(Message)

// Emitter is the publishing side of a Channel.
type Emitter interface {
	Emit(Message)
}

// Channel is a one-way message channel with drop-on-unattached semantics.
// Safe for concurrent use.
type Channel struct {
	name   string
	logger *slog.Logger

	queue chan Message
	done  chan struct{}

	mu       sync.RWMutex
	handlers map[uint64]Handler
	nextID   uint64
	closed   bool
}

// NewChannel creates a channel and starts its delivery goroutine.
// buffer bounds how many undelivered messages may be queued.
func NewChannel(name string, buffer int, logger *slog.Logger) *Channel {
	if buffer < 1 {
		buffer = 1
	}
	c := &Channel{
		name:     name,
		logger:   logger,
		queue:    make(chan Message, buffer),
		done:     make(chan struct{}),
		handlers: make(map[uint64]Handler),
	}
	go c.deliver()
	return c
}

// Name returns the channel name ("visual" or "ui").
func (c *Channel) Name() string { return c.name }

// Attach registers h and returns a function that detaches it.
// Attaching to a closed channel is a no-op.
func (c *Channel) Attach(h Handler) (detach func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return func() {}
	}

	id := c.nextID
	c.nextID++
	c.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers, id)
			c.mu.Unlock()
		})
	}
}

// Attached reports whether at least one handler is registered.
func (c *Channel) Attached() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handlers) > 0
}

// Emit queues m for delivery. It never blocks.
func (c *Channel) Emit(m Message) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.closed:
		metrics.IncDispatchDropped(c.name, "closed")
		return
	case len(c.handlers) == 0:
		metrics.IncDispatchDropped(c.name, "unattached")
		return
	}

	select {
	case c.queue <- m:
		metrics.IncDispatchMessages(c.name, m.Type())
	default:
		metrics.IncDispatchDropped(c.name, "queue_full")
		c.logger.Debug("dispatch queue full, message dropped",
			"channel", c.name,
			"type", m.Type(),
		)
	}
}

// Close stops delivery. Queued messages are still delivered to handlers
// attached at the time of delivery; later emissions are dropped.
// Close is idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()
}

// Done is closed once the delivery goroutine has drained the queue after Close.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) deliver() {
	defer close(c.done)

	var hs []Handler
	for m := range c.queue {
		c.mu.RLock()
		hs = hs[:0]
		for _, h := range c.handlers {
			hs = append(hs, h)
		}
		c.mu.RUnlock()

		if len(hs) == 0 {
			metrics.IncDispatchDropped(c.name, "unattached")
			continue
		}
		for _, h := range hs {
			h(m)
		}
	}
}
