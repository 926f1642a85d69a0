package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OCAP2/choreograph/internal/playback"
	"github.com/OCAP2/choreograph/internal/render"
	"github.com/OCAP2/choreograph/internal/timeline"
)

// frameBacklog bounds how far rendering may run ahead of the encoder.
const frameBacklog = 4

// Options configures a capture.
type Options struct {
	OutputDir string
	FPS       int
	Width     int
	Height    int
	Grid      float64
	AudioPath string
	Container Container
}

// Result describes a finished export.
type Result struct {
	Path      string
	Frames    int
	Bytes     int
	Duration  time.Duration // timeline time covered
	Elapsed   time.Duration // wall time spent
	Container Container
}

type aborter interface {
	Abort()
}

// Session records one pass over the timeline.
type Session struct {
	engine   *timeline.Engine
	ctrl     *playback.Controller
	enc      Encoder
	opts     Options
	renderer *render.Renderer
	logger   *slog.Logger
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewSession prepares a capture of engine driven by ctrl.
func NewSession(engine *timeline.Engine, ctrl *playback.Controller, enc Encoder, opts Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		engine:   engine,
		ctrl:     ctrl,
		enc:      enc,
		opts:     opts,
		renderer: render.NewRenderer(opts.Width, opts.Height, opts.Grid),
		logger:   logger,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Stop ends the capture early. The frames recorded so far are kept.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Session) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Run captures from time zero until the end of the timeline, Stop, or ctx
// cancellation. Cancellation discards the output and returns ctx.Err().
func (s *Session) Run(ctx context.Context) (*Result, error) {
	spec := Spec{
		Width:     s.opts.Width,
		Height:    s.opts.Height,
		FPS:       s.opts.FPS,
		AudioPath: s.opts.AudioPath,
		Container: s.opts.Container,
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if s.opts.OutputDir == "" {
		return nil, errors.New("no output directory")
	}

	started := s.now()
	s.ctrl.Pause()
	s.ctrl.Seek(0)
	s.ctrl.SetCapturing(true)
	defer s.ctrl.SetCapturing(false)

	if err := s.enc.Start(ctx, spec); err != nil {
		return nil, fmt.Errorf("starting encoder: %w", err)
	}
	if !s.ctrl.Play() {
		s.abort()
		return nil, errors.New("timeline cannot play from the start")
	}
	s.logger.Info("export started", "container", spec.Container.Ext, "codec", spec.Container.VideoCodec, "fps", spec.FPS)

	frames := make(chan *image.RGBA, frameBacklog)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(frames)
		return s.produce(gctx, spec.FrameInterval(), frames)
	})
	count := 0
	g.Go(func() error {
		for img := range frames {
			if err := s.enc.WriteFrame(img); err != nil {
				return err
			}
			count++
		}
		return nil
	})

	err := g.Wait()
	s.ctrl.Pause()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.abort()
		s.logger.Warn("export aborted", "error", err, "frames", count)
		return nil, err
	}

	data, err := s.enc.Finish()
	if err != nil {
		return nil, fmt.Errorf("finishing encoder: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyOutput
	}

	path := filepath.Join(s.opts.OutputDir, fmt.Sprintf("choreography-%d.%s", s.now().UnixMilli(), spec.Container.Ext))
	if err := writeAtomic(path, data); err != nil {
		return nil, err
	}

	res := &Result{
		Path:      path,
		Frames:    count,
		Bytes:     len(data),
		Duration:  time.Duration(s.engine.Snapshot().CurrentTime()) * time.Millisecond,
		Elapsed:   s.now().Sub(started),
		Container: spec.Container,
	}
	s.logger.Info("export finished", "path", path, "frames", res.Frames, "bytes", res.Bytes)
	return res, nil
}

// produce renders the current positions, then steps the clock, until the
// end is reached or playback is stopped.
func (s *Session) produce(ctx context.Context, step float64, out chan<- *image.RGBA) error {
	for {
		snap := s.engine.Snapshot()
		img := s.renderer.Frame(snap.Performers(), snap.Positions())
		select {
		case out <- img:
		case <-ctx.Done():
			return ctx.Err()
		}
		if s.stopped() {
			return nil
		}
		res := s.ctrl.Advance(step)
		if !res.Advanced {
			// paused from outside
			return nil
		}
		if res.ReachedEnd {
			snap = s.engine.Snapshot()
			select {
			case out <- s.renderer.Frame(snap.Performers(), snap.Positions()):
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}
	}
}

func (s *Session) abort() {
	if a, ok := s.enc.(aborter); ok {
		a.Abort()
	}
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close export: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move export into place: %w", err)
	}
	return nil
}
