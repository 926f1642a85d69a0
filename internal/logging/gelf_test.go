package logging

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGelf struct {
	messages []*gelf.Message
	err      error
}

func (f *fakeGelf) WriteMessage(m *gelf.Message) error {
	f.messages = append(f.messages, m)
	return f.err
}

func TestGelfHandler_Handle(t *testing.T) {
	w := &fakeGelf{}
	logger := slog.New(NewGelfHandler(w, slog.LevelInfo))

	logger.Warn("keyframe rejected", "op", "retime_keyframe", "ts", int64(1200), "ok", false)

	require.Len(t, w.messages, 1)
	m := w.messages[0]
	assert.Equal(t, "keyframe rejected", m.Short)
	assert.Equal(t, int32(4), m.Level)
	assert.Equal(t, InstrumentationName, m.Facility)
	assert.Equal(t, "retime_keyframe", m.Extra["_op"])
	assert.Equal(t, int64(1200), m.Extra["_ts"])
	assert.Equal(t, false, m.Extra["_ok"])
	assert.NotZero(t, m.TimeUnix)
}

func TestGelfHandler_FiltersLevel(t *testing.T) {
	w := &fakeGelf{}
	logger := slog.New(NewGelfHandler(w, slog.LevelWarn))

	logger.Info("dropped")
	logger.Error("kept")

	require.Len(t, w.messages, 1)
	assert.Equal(t, "kept", w.messages[0].Short)
	assert.Equal(t, int32(3), w.messages[0].Level)
}

func TestGelfHandler_AttrsAndGroups(t *testing.T) {
	w := &fakeGelf{}
	logger := slog.New(NewGelfHandler(w, slog.LevelDebug)).
		With("component", "export").
		WithGroup("frame")

	logger.Debug("encoded", "index", 3, slog.Group("size", "w", 800))

	require.Len(t, w.messages, 1)
	extra := w.messages[0].Extra
	assert.Equal(t, "export", extra["_component"])
	assert.Equal(t, int64(3), extra["_frame.index"])
	assert.Equal(t, int64(800), extra["_frame.size.w"])
	assert.Equal(t, int32(7), w.messages[0].Level)
}

func TestGelfHandler_WriteError(t *testing.T) {
	w := &fakeGelf{err: errors.New("network down")}
	h := NewGelfHandler(w, slog.LevelInfo)

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "x", 0)
	assert.Error(t, h.Handle(context.Background(), r))
}

func TestSyslogLevel(t *testing.T) {
	assert.Equal(t, int32(7), syslogLevel(slog.LevelDebug))
	assert.Equal(t, int32(6), syslogLevel(slog.LevelInfo))
	assert.Equal(t, int32(4), syslogLevel(slog.LevelWarn))
	assert.Equal(t, int32(3), syslogLevel(slog.LevelError))
}

func TestGelfHandler_OverUDP(t *testing.T) {
	r, err := gelf.NewReader("127.0.0.1:0")
	require.NoError(t, err)

	w, err := DialGelf(r.Addr())
	require.NoError(t, err)
	defer w.Close()

	logger := slog.New(NewGelfHandler(w, slog.LevelInfo))
	logger.Info("hello graylog", "project", "Opening")

	m, err := r.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello graylog", m.Short)
	assert.Equal(t, "Opening", m.Extra["_project"])
}

func TestSetup_ExtraHandler(t *testing.T) {
	w := &fakeGelf{}
	m := NewSlogManager()
	m.Setup(&discard{}, "info", nil, NewGelfHandler(w, slog.LevelInfo))
	m.Logger().Info("to graylog")

	// "Logging initialized" plus the test message
	require.Len(t, w.messages, 2)
	assert.Equal(t, "to graylog", w.messages[1].Short)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type closeSpy struct{ closed bool }

func (c *closeSpy) Close() error {
	c.closed = true
	return nil
}

func TestSlogManager_CloseReleasesAttached(t *testing.T) {
	m := NewSlogManager()
	spy := &closeSpy{}
	m.AttachCloser(spy)
	require.NoError(t, m.Close(context.Background()))
	assert.True(t, spy.closed)
}
