package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/choreograph/internal/session"
)

func readReport(t *testing.T, path string) Report {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var r Report
	require.NoError(t, json.Unmarshal(data, &r))
	return r
}

func TestGetStatus(t *testing.T) {
	svc := NewService(Dependencies{
		Status: func() session.Status { return session.Status{Project: "finale", TimeMs: 1200} },
		Stream: func() (uint64, uint64) { return 40, 2 },
	})

	r := svc.GetStatus()
	assert.Equal(t, "finale", r.Session.Project)
	assert.Equal(t, 1200.0, r.Session.TimeMs)
	assert.Equal(t, uint64(40), r.FramesSent)
	assert.Equal(t, uint64(2), r.FramesDropped)
	assert.Zero(t, r.UptimeSeconds, "not started")
	assert.NotZero(t, r.RSSBytes, "own process is measured")
}

func TestWriteStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "status.json")
	svc := NewService(Dependencies{
		Status:     func() session.Status { return session.Status{Project: "p", Playing: true} },
		StatusFile: path,
	})

	require.NoError(t, svc.WriteStatus())
	r := readReport(t, path)
	assert.Equal(t, "p", r.Session.Project)
	assert.True(t, r.Session.Playing)
	assert.Zero(t, r.FramesSent, "no stream attached")
}

func TestStartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	svc := NewService(Dependencies{
		Status:     func() session.Status { return session.Status{Project: "p"} },
		StatusFile: path,
		Interval:   5 * time.Millisecond,
	})

	require.NoError(t, svc.Start())
	assert.True(t, svc.IsRunning())
	require.NoError(t, svc.Start(), "second start is a no-op")

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	svc.Stop()
	assert.False(t, svc.IsRunning())
	assert.Equal(t, "p", readReport(t, path).Session.Project)

	svc.Stop()
}

func TestStart_NoFile(t *testing.T) {
	svc := NewService(Dependencies{})
	assert.Error(t, svc.Start())
	assert.False(t, svc.IsRunning())
}
