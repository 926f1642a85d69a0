package postgres

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/OCAP2/choreograph/internal/config"
	"github.com/OCAP2/choreograph/internal/storage"
	"github.com/OCAP2/choreograph/internal/storage/storagetest"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

func TestNotInitialized(t *testing.T) {
	b := New(Dependencies{})
	ctx := context.Background()

	assert.ErrorIs(t, b.SaveProject(ctx, nil), errNotInitialized)
	_, err := b.LoadProject(ctx, "x")
	assert.ErrorIs(t, err, errNotInitialized)
	_, err = b.ListProjects(ctx)
	assert.ErrorIs(t, err, errNotInitialized)
	assert.ErrorIs(t, b.DeleteProject(ctx, "x"), errNotInitialized)
	assert.NoError(t, b.Close())
}

func TestInit_Unreachable(t *testing.T) {
	b := New(Dependencies{Config: config.DBConfig{Host: "127.0.0.1", Port: "1", Database: "none"}})
	assert.Error(t, b.Init())
}

// An injected DB skips the connection step, so the shared behavior can be
// checked without a Postgres server.
func TestBackend_InjectedDB(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	b := New(Dependencies{DB: db})
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })

	storagetest.Run(t, b)
}
