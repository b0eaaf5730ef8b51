package dispatch

import (
	"log/slog"
	"sync"
)

// Channel names.
const (
	ChannelVisual = "visual"
	ChannelUI     = "ui"
)

// Pair is the set of outbound channels for one playback session boundary.
// A replay retires the pair and builds a new one; consumers watch Retired to
// reattach.
type Pair struct {
	Visual *Channel
	UI     *Channel

	retired   chan struct{}
	closeOnce sync.Once
}

// NewPair builds a visual and a UI channel.
func NewPair(buffer int, logger *slog.Logger) *Pair {
	return &Pair{
		Visual:  NewChannel(ChannelVisual, buffer, logger),
		UI:      NewChannel(ChannelUI, buffer, logger),
		retired: make(chan struct{}),
	}
}

// Channel returns the channel with the given name, or nil.
func (p *Pair) Channel(name string) *Channel {
	switch name {
	case ChannelVisual:
		return p.Visual
	case ChannelUI:
		return p.UI
	}
	return nil
}

// Resize forwards a viewport change to both consumers.
func (p *Pair) Resize(v Viewport) {
	p.Visual.Emit(VisualResize{Viewport: v})
	p.UI.Emit(UIResize{Viewport: v})
}

// Close closes both channels and signals Retired.
func (p *Pair) Close() {
	p.closeOnce.Do(func() {
		p.Visual.Close()
		p.UI.Close()
		close(p.retired)
	})
}

// Retired is closed when the pair has been replaced or shut down.
func (p *Pair) Retired() <-chan struct{} {
	return p.retired
}
