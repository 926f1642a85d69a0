package project

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/choreograph/pkg/core"
)

const sampleV1 = `{
  "version": 1,
  "projectName": "Finale",
  "dancers": [
    {"id": "d1", "name": "Alice", "color": "#ef4444"},
    {"id": "d2", "name": "Bob", "color": "#3b82f6"}
  ],
  "keyframes": [
    {"id": "k2", "timestamp": 4000, "positions": {"d1": {"x": 10, "y": 20}}},
    {"id": "start", "timestamp": 0, "positions": {"d1": {"x": 200, "y": 300}, "d2": {"x": 300, "y": 300}}}
  ],
  "duration": 12000,
  "audioFileName": "song.mp3"
}`

func TestDecode_Sample(t *testing.T) {
	p, err := Decode(strings.NewReader(sampleV1))
	require.NoError(t, err)

	assert.Equal(t, "Finale", p.ProjectName)
	assert.Len(t, p.Dancers, 2)
	assert.Len(t, p.Keyframes, 2)
	assert.Equal(t, int64(12000), p.Duration)
	require.NotNil(t, p.AudioFileName)
	assert.Equal(t, "song.mp3", *p.AudioFileName)
	assert.Equal(t, core.Position{X: 10, Y: 20}, p.Keyframes[0].Positions["d1"])
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		edit func(p *core.Project)
		want error
	}{
		{"wrong version", func(p *core.Project) { p.Version = 2 }, ErrUnsupportedVersion},
		{"no keyframes", func(p *core.Project) { p.Keyframes = nil }, ErrInvalidProject},
		{"no origin", func(p *core.Project) { p.Keyframes[0].Timestamp = 5 }, ErrInvalidProject},
		{"two origins", func(p *core.Project) {
			p.Keyframes = append(p.Keyframes, core.Keyframe{ID: "other", Timestamp: 0})
		}, ErrInvalidProject},
		{"negative timestamp", func(p *core.Project) {
			p.Keyframes = append(p.Keyframes, core.Keyframe{ID: "neg", Timestamp: -10})
		}, ErrInvalidProject},
		{"duplicate keyframe id", func(p *core.Project) {
			p.Keyframes = append(p.Keyframes, core.Keyframe{ID: p.Keyframes[0].ID, Timestamp: 900})
		}, ErrInvalidProject},
		{"shared timestamp", func(p *core.Project) {
			p.Keyframes = append(p.Keyframes,
				core.Keyframe{ID: "a", Timestamp: 1000},
				core.Keyframe{ID: "b", Timestamp: 1000})
		}, ErrInvalidProject},
		{"timestamps within tolerance", func(p *core.Project) {
			p.Keyframes = append(p.Keyframes,
				core.Keyframe{ID: "a", Timestamp: 1000},
				core.Keyframe{ID: "b", Timestamp: 1020})
		}, ErrInvalidProject},
		{"keyframe next to origin", func(p *core.Project) {
			p.Keyframes = append(p.Keyframes, core.Keyframe{ID: "a", Timestamp: 30})
		}, ErrInvalidProject},
		{"duplicate performer id", func(p *core.Project) {
			p.Dancers = append(p.Dancers, p.Dancers[0])
		}, ErrInvalidProject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := core.NewProject("x")
			tt.edit(p)
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, p))

			_, err := Decode(&buf)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecode_KeyframesAtTolerance(t *testing.T) {
	p := core.NewProject("x")
	p.Keyframes = append(p.Keyframes, core.Keyframe{ID: "a", Timestamp: core.MatchTolerance})
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, p))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Len(t, got.Keyframes, 2)
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"version": 1, "keyframes": [`))
	assert.ErrorIs(t, err, ErrInvalidProject)
}

func TestDecode_NormalizesShortDuration(t *testing.T) {
	p := core.NewProject("short")
	p.Duration = 10
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, p))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, core.MinDuration, got.Duration)
}

func TestDecode_NullPositions(t *testing.T) {
	doc := `{"version":1,"projectName":"","dancers":[],"keyframes":[{"id":"start","timestamp":0,"positions":null}],"duration":5000,"audioFileName":null}`
	p, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	assert.NotNil(t, p.Keyframes[0].Positions)
	assert.Nil(t, p.AudioFileName)
}

func TestSaveLoad(t *testing.T) {
	for _, name := range []string{"show.choreo.json", "show.choreo.json.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			audio := "track.wav"
			p := core.NewProject("Show")
			p.AudioFileName = &audio
			p.Keyframes = append(p.Keyframes, core.Keyframe{
				ID: "k1", Timestamp: 2500,
				Positions: map[core.PerformerID]core.Position{"d1": {X: 1.5, Y: 2.25}},
			})

			require.NoError(t, Save(path, p))
			got, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, p, got)
		})
	}
}

func TestSave_GzipIsCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json.gz")
	require.NoError(t, Save(path, core.NewProject("gz")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f, 0x8b}, raw[:2])
}

func TestSave_FailureKeepsOldFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.json")
	require.NoError(t, Save(path, core.NewProject("old")))

	// A directory in the way makes the rename fail.
	blocked := filepath.Join(dir, "blocked.json")
	require.NoError(t, os.Mkdir(blocked, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(blocked, "x"), nil, 0644))
	assert.Error(t, Save(blocked, core.NewProject("new")))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "old", got.ProjectName)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
