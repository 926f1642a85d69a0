// Package playback advances the timeline's current time, reconciling an
// optional audio clock with an internal delta-time clock.
package playback

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/OCAP2/choreograph/internal/timeline"
)

// resyncThreshold is how far audio may drift from the playhead (ms) before
// Play seeks it back into place.
const resyncThreshold = 100

// State is the play/pause state of the controller.
type State int

const (
	Paused State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "paused"
}

// TickResult reports what a single tick did.
type TickResult struct {
	Time       float64
	Source     ClockSource
	Advanced   bool
	ReachedEnd bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithAudio attaches an audio clock at construction.
func WithAudio(a AudioClock) Option {
	return func(c *Controller) { c.audio = a }
}

// WithNow replaces the wall clock used for delta ticks.
func WithNow(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller drives an Engine's clock state.
type Controller struct {
	mu        sync.Mutex
	engine    *timeline.Engine
	audio     AudioClock
	now       func() time.Time
	last      time.Time
	capturing bool
	source    ClockSource

	onEnd  []func()
	onTick []func(TickResult)
	logger *slog.Logger
}

// New creates a paused controller for engine.
func New(engine *timeline.Engine, opts ...Option) *Controller {
	c := &Controller{
		engine: engine,
		audio:  NoAudio{},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetAudio swaps the audio clock. Nil detaches audio.
func (c *Controller) SetAudio(a AudioClock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio.Pause()
	if a == nil {
		a = NoAudio{}
	}
	c.audio = a
}

// OnEnd registers fn to run when playback reaches the end of the timeline.
func (c *Controller) OnEnd(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEnd = append(c.onEnd, fn)
}

// OnTick registers fn to run after every tick that advanced time.
func (c *Controller) OnTick(fn func(TickResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTick = append(c.onTick, fn)
}

// State reports whether the timeline is playing.
func (c *Controller) State() State {
	if c.engine.Snapshot().Playing() {
		return Playing
	}
	return Paused
}

// Capturing reports whether capture mode is on.
func (c *Controller) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

// SetCapturing forces the delta clock while on. Audio is paused when
// capture starts.
func (c *Controller) SetCapturing(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capturing = on
	if on {
		c.audio.Pause()
	}
}

// Play starts playback. It does nothing at the end of the timeline.
func (c *Controller) Play() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.engine.Snapshot()
	if s.Playing() {
		return true
	}
	if s.CurrentTime() >= float64(s.Duration()) {
		return false
	}
	c.last = time.Time{}
	c.engine.SetPlaying(true)
	if c.audio.Available() && !c.capturing {
		if math.Abs(c.audio.PositionMs()-s.CurrentTime()) > resyncThreshold {
			c.audio.Seek(s.CurrentTime())
		}
		c.audio.Play()
	}
	c.logger.Debug("playback started", "time", s.CurrentTime())
	return true
}

// Pause stops playback and the audio output.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauseLocked()
}

func (c *Controller) pauseLocked() {
	c.engine.SetPlaying(false)
	c.audio.Pause()
	c.last = time.Time{}
}

// Toggle flips between playing and paused.
func (c *Controller) Toggle() State {
	if c.State() == Playing {
		c.Pause()
		return Paused
	}
	if c.Play() {
		return Playing
	}
	return Paused
}

// Seek pauses playback, moves the playhead and forwards the position to
// audio. It returns the clamped time.
func (c *Controller) Seek(ms float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.engine.Snapshot().Playing() {
		c.pauseLocked()
	}
	t := c.engine.SetCurrentTime(ms)
	if c.audio.Available() {
		c.audio.Seek(t)
	}
	return t
}

// SeekStart seeks to 0.
func (c *Controller) SeekStart() float64 { return c.Seek(0) }

// JumpNext seeks to the next keyframe beyond the tolerance band, or to 0
// when there is none.
func (c *Controller) JumpNext() float64 {
	s := c.engine.Snapshot()
	return c.Seek(float64(s.NextKeyframeTime(s.CurrentTime())))
}

// JumpPrev seeks to the previous keyframe beyond the tolerance band, or to 0.
func (c *Controller) JumpPrev() float64 {
	s := c.engine.Snapshot()
	return c.Seek(float64(s.PrevKeyframeTime(s.CurrentTime())))
}

// Tick advances time once. It is meant to be called on every display
// refresh; exactly one clock source is consulted per call. The first tick
// after Play only records the delta baseline.
func (c *Controller) Tick() TickResult {
	c.mu.Lock()
	s := c.engine.Snapshot()
	if !s.Playing() {
		c.mu.Unlock()
		return TickResult{Time: s.CurrentTime()}
	}

	now := c.now()
	source := SelectSource(c.audio.Available(), c.audio.Running(), c.capturing)
	if source != c.source {
		c.logger.Debug("clock source changed", "from", c.source, "to", source)
		c.source = source
	}

	var t float64
	switch source {
	case SourceAudio:
		t = c.audio.PositionMs()
	default:
		if c.last.IsZero() {
			c.last = now
			c.mu.Unlock()
			return TickResult{Time: s.CurrentTime(), Source: source}
		}
		t = s.CurrentTime() + float64(now.Sub(c.last))/float64(time.Millisecond)
	}
	c.last = now

	res, end, ticks := c.advanceLocked(t, source)
	c.mu.Unlock()
	c.notify(res, end, ticks)
	return res
}

// Advance moves a playing timeline forward by a fixed step. Capture uses it
// so frame n lands at exactly n*deltaMs.
func (c *Controller) Advance(deltaMs float64) TickResult {
	c.mu.Lock()
	s := c.engine.Snapshot()
	if !s.Playing() {
		c.mu.Unlock()
		return TickResult{Time: s.CurrentTime()}
	}
	res, end, ticks := c.advanceLocked(s.CurrentTime()+deltaMs, SourceDelta)
	c.mu.Unlock()
	c.notify(res, end, ticks)
	return res
}

func (c *Controller) advanceLocked(t float64, source ClockSource) (TickResult, []func(), []func(TickResult)) {
	d := float64(c.engine.Snapshot().Duration())
	res := TickResult{Source: source, Advanced: true}
	var end []func()
	if t >= d {
		c.engine.SetCurrentTime(d)
		c.pauseLocked()
		res.Time, res.ReachedEnd = d, true
		end = append(end, c.onEnd...)
		c.logger.Debug("playback reached end", "duration", d)
	} else {
		res.Time = c.engine.SetCurrentTime(t)
	}
	return res, end, append([]func(TickResult){}, c.onTick...)
}

func (c *Controller) notify(res TickResult, end []func(), ticks []func(TickResult)) {
	for _, fn := range ticks {
		fn(res)
	}
	for _, fn := range end {
		fn()
	}
}

// Run ticks every interval until playback stops, the end is reached or ctx
// is cancelled. It returns ctx.Err() only on cancellation.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Pause()
			return ctx.Err()
		case <-ticker.C:
			if c.State() != Playing {
				return nil
			}
			if res := c.Tick(); res.ReachedEnd {
				return nil
			}
		}
	}
}
