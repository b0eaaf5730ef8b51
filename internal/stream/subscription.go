package stream

import (
	"github.com/star/liftoff/internal/dispatch"
	"github.com/star/liftoff/internal/metrics"
)

// channelSource yields the current dispatch channels of a playback session.
type channelSource interface {
	Channels() *dispatch.Pair
}

// subscription copies messages from one or more dispatch channels into a
// per-connection queue of encoded envelopes. When the session's channels
// are replaced on reset the subscription moves to the new pair.
type subscription struct {
	src       channelSource
	names     []string
	transport string

	out    chan []byte
	pair   *dispatch.Pair
	detach []func()
}

func subscribe(src channelSource, transport string, buffer int, names ...string) *subscription {
	if buffer < 1 {
		buffer = 1
	}
	s := &subscription{
		src:       src,
		names:     names,
		transport: transport,
		out:       make(chan []byte, buffer),
	}
	s.attach(src.Channels())
	return s
}

func (s *subscription) attach(pair *dispatch.Pair) {
	s.pair = pair
	for _, name := range s.names {
		s.detach = append(s.detach, pair.Channel(name).Attach(s.enqueue))
	}
}

// enqueue runs on the channel's delivery goroutine and must not block.
func (s *subscription) enqueue(m dispatch.Message) {
	data, err := dispatch.Encode(m)
	if err != nil {
		metrics.IncStreamErrors(s.transport, "marshal_error")
		return
	}
	select {
	case s.out <- data:
	default:
		metrics.IncStreamErrors(s.transport, "slow_consumer")
	}
}

// retired is closed when the attached pair is replaced or shut down.
func (s *subscription) retired() <-chan struct{} {
	return s.pair.Retired()
}

// reattach moves to the session's current pair. It returns false when there
// is none to move to, meaning the session has shut down.
func (s *subscription) reattach() bool {
	s.detachAll()
	next := s.src.Channels()
	if next == s.pair {
		return false
	}
	s.attach(next)
	return true
}

func (s *subscription) close() {
	s.detachAll()
}

func (s *subscription) detachAll() {
	for _, d := range s.detach {
		d()
	}
	s.detach = s.detach[:0]
}
