package export

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/choreograph/internal/playback"
	"github.com/OCAP2/choreograph/internal/timeline"
)

type fakeEncoder struct {
	mu       sync.Mutex
	spec     Spec
	frames   int
	output   []byte
	writeErr error
	aborted  bool
	finished bool
}

func (f *fakeEncoder) Start(_ context.Context, spec Spec) error {
	f.spec = spec
	return nil
}

func (f *fakeEncoder) WriteFrame(img *image.RGBA) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.frames++
	return nil
}

func (f *fakeEncoder) Finish() ([]byte, error) {
	f.finished = true
	return f.output, nil
}

func (f *fakeEncoder) Abort() { f.aborted = true }

func newCapture(t *testing.T, enc Encoder) (*Session, *timeline.Engine, *playback.Controller, string) {
	t.Helper()
	engine, err := timeline.New()
	require.NoError(t, err)
	engine.SetDuration(1000)
	engine.SetCurrentTime(500)

	ctrl := playback.New(engine)
	dir := t.TempDir()
	s := NewSession(engine, ctrl, enc, Options{
		OutputDir: dir,
		FPS:       25,
		Width:     80,
		Height:    60,
		Container: Preferred[1],
	}, nil)
	return s, engine, ctrl, dir
}

func TestSession_RecordsWholeTimeline(t *testing.T) {
	enc := &fakeEncoder{output: []byte("webm-bytes")}
	s, engine, ctrl, dir := newCapture(t, enc)

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	// frames at 0, 40, ..., 960 plus the final frame at 1000
	assert.Equal(t, 26, res.Frames)
	assert.Equal(t, 26, enc.frames)
	assert.Equal(t, len("webm-bytes"), res.Bytes)
	assert.Equal(t, int64(1000), res.Duration.Milliseconds())
	assert.Equal(t, 80, enc.spec.Width)
	assert.Equal(t, 25, enc.spec.FPS)

	assert.Equal(t, dir, filepath.Dir(res.Path))
	assert.True(t, strings.HasPrefix(filepath.Base(res.Path), "choreography-"))
	assert.Equal(t, ".webm", filepath.Ext(res.Path))
	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "webm-bytes", string(data))

	assert.False(t, ctrl.Capturing())
	assert.Equal(t, playback.Paused, ctrl.State())
	assert.Equal(t, 1000.0, engine.Snapshot().CurrentTime())
}

func TestSession_StopKeepsPartialRecording(t *testing.T) {
	enc := &fakeEncoder{output: []byte("partial")}
	s, _, ctrl, _ := newCapture(t, enc)
	ctrl.OnTick(func(r playback.TickResult) {
		if r.Time >= 200 {
			s.Stop()
		}
	})

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, res.Frames)
	assert.True(t, enc.finished)
	assert.FileExists(t, res.Path)
}

func TestSession_CancelDiscardsOutput(t *testing.T) {
	enc := &fakeEncoder{output: []byte("never")}
	s, _, ctrl, dir := newCapture(t, enc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl.OnTick(func(r playback.TickResult) {
		if r.Time >= 200 {
			cancel()
		}
	})

	_, err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, enc.aborted)
	assert.False(t, enc.finished)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSession_EmptyOutput(t *testing.T) {
	enc := &fakeEncoder{}
	s, _, _, dir := newCapture(t, enc)

	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrEmptyOutput)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSession_WriteError(t *testing.T) {
	boom := errors.New("pipe closed")
	enc := &fakeEncoder{writeErr: boom}
	s, _, ctrl, _ := newCapture(t, enc)

	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, enc.aborted)
	assert.Equal(t, playback.Paused, ctrl.State())
}

func TestSession_InvalidOptions(t *testing.T) {
	engine, err := timeline.New()
	require.NoError(t, err)
	s := NewSession(engine, playback.New(engine), &fakeEncoder{}, Options{FPS: 0, Width: 80, Height: 60, OutputDir: t.TempDir(), Container: Preferred[0]}, nil)
	_, err = s.Run(context.Background())
	assert.Error(t, err)
}

func TestSession_WithFFmpeg(t *testing.T) {
	enc := NewFFmpegEncoder("ffmpeg", nil)
	enc.command = helperCommand(false)
	s, _, _, _ := newCapture(t, enc)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	// 26 frames of 80x60 RGBA
	assert.Equal(t, "video:499200", string(data))
}
