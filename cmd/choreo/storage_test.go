package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/choreograph/internal/config"
	"github.com/OCAP2/choreograph/internal/storage/memory"
	sqlitestorage "github.com/OCAP2/choreograph/internal/storage/sqlite"
	"github.com/OCAP2/choreograph/pkg/core"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateStorageBackend_Memory(t *testing.T) {
	cfg := config.StorageConfig{Memory: config.MemoryConfig{OutputDir: t.TempDir()}}

	b, err := createStorageBackend(cfg, time.Now(), discardLogger(), zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, b)
}

func TestCreateStorageBackend_SQLiteFile(t *testing.T) {
	cfg := config.StorageConfig{
		Type:   "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "projects.db"), DumpInterval: time.Minute},
	}

	b, err := createStorageBackend(cfg, time.Now(), discardLogger(), zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &sqlitestorage.Backend{}, b)

	require.NoError(t, b.Init())
	t.Cleanup(func() { b.Close() })

	ctx := context.Background()
	require.NoError(t, b.SaveProject(ctx, core.NewProject("finale")))
	names, err := b.ListProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"finale"}, names)
}

func TestCreateStorageBackend_Unknown(t *testing.T) {
	_, err := createStorageBackend(config.StorageConfig{Type: "redis"}, time.Now(), discardLogger(), zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}
