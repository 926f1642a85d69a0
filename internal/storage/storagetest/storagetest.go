// Package storagetest holds the behavior every storage.Backend must share.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/choreograph/internal/storage"
	"github.com/OCAP2/choreograph/pkg/core"
)

// sample builds a project with a second keyframe and audio attached.
func sample(name string) *core.Project {
	audio := "track.mp3"
	p := core.NewProject(name)
	p.AudioFileName = &audio
	p.Duration = 12000
	p.Keyframes = append(p.Keyframes, core.Keyframe{
		ID:        "k1",
		Timestamp: 4000,
		Positions: map[core.PerformerID]core.Position{
			"d1": {X: 120, Y: 80},
			"d3": {X: 410.5, Y: 512.25},
		},
	})
	return p
}

// Run exercises b, which must be initialized and empty.
func Run(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	t.Run("load missing", func(t *testing.T) {
		_, err := b.LoadProject(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("save and load", func(t *testing.T) {
		p := sample("Finale")
		require.NoError(t, b.SaveProject(ctx, p))

		got, err := b.LoadProject(ctx, "Finale")
		require.NoError(t, err)
		assert.Equal(t, p, got)
	})

	t.Run("save replaces", func(t *testing.T) {
		p := sample("Replace Me")
		require.NoError(t, b.SaveProject(ctx, p))

		p2 := core.NewProject("Replace Me")
		p2.Dancers = p2.Dancers[:2]
		require.NoError(t, b.SaveProject(ctx, p2))

		got, err := b.LoadProject(ctx, "Replace Me")
		require.NoError(t, err)
		assert.Len(t, got.Dancers, 2)
		assert.Len(t, got.Keyframes, 1)
		assert.Nil(t, got.AudioFileName)
	})

	t.Run("invalid project is rejected", func(t *testing.T) {
		bad := sample("Broken")
		bad.Keyframes[0].Timestamp = 10
		assert.Error(t, b.SaveProject(ctx, bad))

		_, err := b.LoadProject(ctx, "Broken")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("list", func(t *testing.T) {
		names, err := b.ListProjects(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Finale", "Replace Me"}, names)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, b.DeleteProject(ctx, "Finale"))
		_, err := b.LoadProject(ctx, "Finale")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, b.DeleteProject(ctx, "Finale"), storage.ErrNotFound)

		names, err := b.ListProjects(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Replace Me"}, names)
	})

	t.Run("loaded project is a copy", func(t *testing.T) {
		got, err := b.LoadProject(ctx, "Replace Me")
		require.NoError(t, err)
		got.Dancers[0].Name = "mutated"

		again, err := b.LoadProject(ctx, "Replace Me")
		require.NoError(t, err)
		assert.Equal(t, "Alice", again.Dancers[0].Name)
	})
}
