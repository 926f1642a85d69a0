// Package timeline owns the keyframe set, the cast and the clock state of a
// choreography, and derives interpolated positions from them.
//
// Writers are serialized on one mutex. Every write publishes a fresh
// immutable Snapshot through an atomic pointer, so the read path used by
// rendering and playback never waits on a writer.
package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/choreograph/pkg/core"
)

// Option configures an Engine.
type Option func(*Engine)

// WithKeyframeIDs overrides how new keyframe ids are generated.
func WithKeyframeIDs(gen func() core.KeyframeID) Option {
	return func(e *Engine) { e.newKeyframeID = gen }
}

// WithPerformerIDs overrides how new performer ids are generated.
// The engine retries until the id is unused.
func WithPerformerIDs(gen func() core.PerformerID) Option {
	return func(e *Engine) { e.newPerformerID = gen }
}

// WithColors overrides the random color source for added performers.
func WithColors(gen func() string) Option {
	return func(e *Engine) { e.randomColor = gen }
}

// WithLogger sets the logger used for rejected edits.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMeter sets the meter edit counters are created from.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) { e.meter = m }
}

// Engine is the single owner of timeline state.
type Engine struct {
	mu          sync.Mutex
	performers  []core.Performer
	keyframes   []core.Keyframe // kept sorted
	currentTime float64
	duration    int64
	playing     bool
	version     uint64

	snap atomic.Pointer[Snapshot]

	newKeyframeID  func() core.KeyframeID
	newPerformerID func() core.PerformerID
	randomColor    func() string
	logger         *slog.Logger
	meter          metric.Meter

	edits    metric.Int64Counter
	rejected metric.Int64Counter
}

// New creates an engine holding the default project.
func New(opts ...Option) (*Engine, error) {
	return FromProject(core.NewProject(""), opts...)
}

// FromProject creates an engine from a project that has already been
// validated by the project codec.
func FromProject(p *core.Project, opts ...Option) (*Engine, error) {
	e := &Engine{
		newKeyframeID:  func() core.KeyframeID { return core.KeyframeID(uuid.NewString()) },
		newPerformerID: defaultPerformerID,
		randomColor:    defaultColor,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.meter == nil {
		e.meter = meter()
	}

	var err error
	e.edits, err = e.meter.Int64Counter(
		"timeline.edits",
		metric.WithDescription("Edits applied to the keyframe set"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating edits counter: %w", err)
	}
	e.rejected, err = e.meter.Int64Counter(
		"timeline.edits.rejected",
		metric.WithDescription("Edits rejected to protect timeline invariants"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}

	if err := e.Replace(p); err != nil {
		return nil, err
	}
	return e, nil
}

// Snapshot returns the latest published state. It never blocks.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

// Replace swaps the whole state for p. It fails without changing anything
// if p has no single origin keyframe.
func (e *Engine) Replace(p *core.Project) error {
	origins := 0
	for _, k := range p.Keyframes {
		if k.IsOrigin() {
			origins++
		}
	}
	if origins != 1 {
		return fmt.Errorf("project must have exactly one keyframe at 0ms, found %d", origins)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.performers = append([]core.Performer(nil), p.Dancers...)
	e.keyframes = SortKeyframes(p.Keyframes)
	for i := range e.keyframes {
		e.keyframes[i] = e.keyframes[i].Clone()
	}
	e.duration = max(p.Duration, core.MinDuration)
	e.currentTime = 0
	e.playing = false
	e.publish()
	return nil
}

// ToProject exports the persisted form of the current state.
func (e *Engine) ToProject(name string, audioFileName *string) *core.Project {
	s := e.Snapshot()
	p := &core.Project{
		Version:     core.ProjectVersion,
		ProjectName: name,
		Dancers:     s.Performers(),
		Keyframes:   s.Keyframes(),
		Duration:    s.Duration(),
	}
	if audioFileName != nil {
		n := *audioFileName
		p.AudioFileName = &n
	}
	return p
}

// SetCurrentTime moves the playhead, clamped to [0, duration], and returns
// the value actually set.
func (e *Engine) SetCurrentTime(t float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentTime = e.clampTime(t)
	e.publish()
	return e.currentTime
}

// SetPlaying sets the play/pause flag.
func (e *Engine) SetPlaying(playing bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playing == playing {
		return
	}
	e.playing = playing
	e.publish()
}

// SetDuration changes the timeline length (at least MinDuration) and
// re-clamps the playhead.
func (e *Engine) SetDuration(ms int64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.duration = max(ms, core.MinDuration)
	e.currentTime = e.clampTime(e.currentTime)
	e.count(context.Background(), "set_duration")
	e.publish()
	return e.duration
}

func (e *Engine) clampTime(t float64) float64 {
	if t < 0 || math.IsNaN(t) {
		return 0
	}
	if d := float64(e.duration); t > d {
		return d
	}
	return t
}

// publish builds a new snapshot from the current state. Callers hold e.mu.
func (e *Engine) publish() {
	e.version++
	s := &Snapshot{
		version:     e.version,
		performers:  append([]core.Performer(nil), e.performers...),
		keyframes:   make([]core.Keyframe, len(e.keyframes)),
		currentTime: e.currentTime,
		duration:    e.duration,
		playing:     e.playing,
	}
	for i, k := range e.keyframes {
		s.keyframes[i] = k.Clone()
	}
	e.snap.Store(s)
}

func (e *Engine) count(ctx context.Context, op string) {
	e.edits.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (e *Engine) reject(ctx context.Context, op string, args ...any) {
	e.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	e.logger.Debug("edit rejected", append([]any{"op", op}, args...)...)
}

func defaultPerformerID() core.PerformerID {
	return core.PerformerID("d" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func defaultColor() string {
	return fmt.Sprintf("#%06x", rand.IntN(0x1000000))
}
