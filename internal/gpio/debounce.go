// Package gpio turns pin-change interrupts into debounced edge events.
package gpio

import (
	"sync"
	"time"
)

// DefaultDebounce is the minimum spacing between accepted edges.
const DefaultDebounce = 10 * time.Millisecond

// EdgeEvent is an accepted level change. Timestamp is the kernel's
// monotonic event time in microseconds.
type EdgeEvent struct {
	Level     bool  `json:"level"`
	Timestamp int64 `json:"timestamp_us"`
}

// Debouncer drops events that follow the last accepted one too closely.
type Debouncer struct {
	window int64 // microseconds

	mu       sync.Mutex
	last     int64
	accepted bool
}

func NewDebouncer(window time.Duration) *Debouncer {
	if window < 0 {
		window = 0
	}
	return &Debouncer{window: window.Microseconds()}
}

// Accept reports whether ev is at least one window after the last accepted
// event. The first event is always accepted. Only accepted events move the
// reference point.
func (d *Debouncer) Accept(ev EdgeEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.accepted && ev.Timestamp-d.last < d.window {
		return false
	}
	d.last = ev.Timestamp
	d.accepted = true
	return true
}
