package audio

import (
	"sync"
	"time"
)

// FileClock plays back a decoded file against wall-clock time. It reports
// the position the soundtrack would be at and stops at the end of the file.
type FileClock struct {
	mu         sync.Mutex
	durationMs float64
	now        func() time.Time

	running   bool
	offsetMs  float64
	startedAt time.Time
}

// NewFileClock returns a paused clock for a file of the given length.
func NewFileClock(durationMs int64, now func() time.Time) *FileClock {
	if now == nil {
		now = time.Now
	}
	return &FileClock{durationMs: float64(durationMs), now: now}
}

// Available reports that a soundtrack is attached.
func (c *FileClock) Available() bool { return true }

// Running reports whether the soundtrack is playing and has not ended.
func (c *FileClock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running && c.positionLocked() < c.durationMs
}

// PositionMs is the current soundtrack position.
func (c *FileClock) PositionMs() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

// Seek moves to ms, clamped to the file.
func (c *FileClock) Seek(ms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offsetMs = min(max(ms, 0), c.durationMs)
	c.startedAt = c.now()
}

// Play starts the soundtrack from the current position.
func (c *FileClock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.startedAt = c.now()
}

// Pause freezes the current position.
func (c *FileClock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.offsetMs = c.positionLocked()
	c.running = false
}

func (c *FileClock) positionLocked() float64 {
	if !c.running {
		return c.offsetMs
	}
	elapsed := float64(c.now().Sub(c.startedAt)) / float64(time.Millisecond)
	return min(c.offsetMs+elapsed, c.durationMs)
}
