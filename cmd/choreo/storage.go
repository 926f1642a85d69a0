package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/OCAP2/choreograph/internal/config"
	"github.com/OCAP2/choreograph/internal/database"
	"github.com/OCAP2/choreograph/internal/storage"
	"github.com/OCAP2/choreograph/internal/storage/memory"
	pgstorage "github.com/OCAP2/choreograph/internal/storage/postgres"
	sqlitestorage "github.com/OCAP2/choreograph/internal/storage/sqlite"
)

// createStorageBackend builds the backend named by storage.type. The
// caller runs Init.
func createStorageBackend(cfg config.StorageConfig, started time.Time, logger *slog.Logger, zlog zerolog.Logger) (storage.Backend, error) {
	switch cfg.Type {
	case "postgres":
		// Manager falls back to SQLite when Postgres is unreachable.
		mgr := database.NewManager(cfg.DB, zlog)
		if err := mgr.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.Info("Postgres storage backend selected", "local", mgr.ShouldSaveLocal)
		return pgstorage.New(pgstorage.Dependencies{
			DB:     mgr.DB,
			Config: cfg.DB,
			Logger: logger,
		}), nil

	case "sqlite":
		var dumpPath string
		if cfg.SQLite.Path == "" {
			if err := os.MkdirAll(cfg.Memory.OutputDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create dump dir: %w", err)
			}
			dumpPath = filepath.Join(cfg.Memory.OutputDir, database.DumpFileName(started))
		}
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			Path:         cfg.SQLite.Path,
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpPath:     dumpPath,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		logger.Info("SQLite storage backend selected", "path", cfg.SQLite.Path, "dump", dumpPath)
		return backend, nil

	case "memory", "":
		logger.Info("Memory storage backend selected", "dir", cfg.Memory.OutputDir)
		return memory.New(cfg.Memory, logger), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
