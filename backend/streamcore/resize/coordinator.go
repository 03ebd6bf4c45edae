// Package resize translates rapid container size changes into a minimal,
// debounced stream of terminal resize intents.
package resize

import (
	"sync"
	"time"

	"github.com/luxury-yacht/console/backend/internal/config"
)

// FitFunc computes the terminal grid that fits the current container size.
// ok is false when the container is not currently measurable.
type FitFunc func() (cols, rows int, ok bool)

// EmitFunc receives a settled, deduplicated resize intent.
type EmitFunc func(cols, rows int)

// Coordinator debounces container resize bursts on the trailing edge and
// suppresses intents that match the last emitted dimensions. Redundant remote
// pty resizes can cause visible flicker or scrollback corruption on some
// shells.
type Coordinator struct {
	window time.Duration
	fit    FitFunc
	emit   EmitFunc

	mu       sync.Mutex
	timer    *time.Timer
	lastCols int
	lastRows int
	hasLast  bool
	closed   bool
}

// NewCoordinator constructs a coordinator with the given settle window; a
// non-positive window falls back to the default.
func NewCoordinator(window time.Duration, fit FitFunc, emit EmitFunc) *Coordinator {
	if window <= 0 {
		window = config.ResizeDebounceWindow
	}
	return &Coordinator{window: window, fit: fit, emit: emit}
}

// OnContainerResize schedules a fit computation after the settle window,
// cancelling any pending one. Always acts on the last size within the
// window, never the first.
func (c *Coordinator) OnContainerResize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.window, c.settle)
}

func (c *Coordinator) settle() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	if c.fit == nil {
		return
	}
	cols, rows, ok := c.fit()
	if !ok || cols <= 0 || rows <= 0 {
		return
	}

	// Emit under the lock so Close cannot return while an intent is in
	// flight.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || (c.hasLast && cols == c.lastCols && rows == c.lastRows) {
		return
	}
	c.lastCols = cols
	c.lastRows = rows
	c.hasLast = true
	if c.emit != nil {
		c.emit(cols, rows)
	}
}

// Close cancels any pending fit computation. No intent is emitted after
// Close returns.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
