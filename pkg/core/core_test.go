package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProject(t *testing.T) {
	p := NewProject("Untitled")

	assert.Equal(t, ProjectVersion, p.Version)
	assert.Len(t, p.Dancers, 5)
	require.Len(t, p.Keyframes, 1)
	assert.True(t, p.Keyframes[0].IsOrigin())
	assert.Len(t, p.Keyframes[0].Positions, 5)
	assert.Equal(t, DefaultDuration, p.Duration)
	assert.Nil(t, p.AudioFileName)
}

func TestKeyframeClone_DoesNotShareMap(t *testing.T) {
	k := Keyframe{ID: "k", Timestamp: 10, Positions: map[PerformerID]Position{"d1": {X: 1, Y: 2}}}
	c := k.Clone()
	c.Positions["d1"] = Position{X: 9, Y: 9}

	assert.Equal(t, Position{X: 1, Y: 2}, k.Positions["d1"])
	assert.False(t, k.Equal(c))
}

func TestProjectClone(t *testing.T) {
	audio := "song.mp3"
	p := NewProject("A")
	p.AudioFileName = &audio

	c := p.Clone()
	*c.AudioFileName = "other.mp3"
	c.Dancers[0].Name = "Zed"
	c.Keyframes[0].Positions["d1"] = Position{}

	assert.Equal(t, "song.mp3", *p.AudioFileName)
	assert.Equal(t, "Alice", p.Dancers[0].Name)
	assert.Equal(t, Position{X: 200, Y: 300}, p.Keyframes[0].Positions["d1"])
}

func TestPositionLerp(t *testing.T) {
	a := Position{X: 0, Y: 100}
	b := Position{X: 100, Y: 0}

	assert.Equal(t, a, a.Lerp(b, 0))
	assert.Equal(t, b, a.Lerp(b, 1))
	assert.Equal(t, Position{X: 50, Y: 50}, a.Lerp(b, 0.5))
}
