// Package postgres implements the storage.Backend interface using GORM/PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/OCAP2/choreograph/internal/config"
	"github.com/OCAP2/choreograph/internal/database"
	gormstorage "github.com/OCAP2/choreograph/internal/storage/gorm"
	"github.com/OCAP2/choreograph/pkg/core"

	"gorm.io/gorm"
)

var errNotInitialized = errors.New("postgres backend not initialized")

// Dependencies holds all dependencies for the Postgres storage backend.
type Dependencies struct {
	DB     *gorm.DB // optional; Init connects using Config when nil
	Config config.DBConfig
	Logger *slog.Logger
}

// Backend implements storage.Backend using GORM/PostgreSQL.
type Backend struct {
	deps Dependencies
	gorm *gormstorage.Backend
}

// New creates a new Postgres storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{deps: deps}
}

// Init connects if no DB was injected via Dependencies, then runs schema migration.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		db, err := database.GetPostgresDBStandalone(b.deps.Config)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to access sql interface: %w", err)
		}
		if err = sqlDB.Ping(); err != nil {
			return fmt.Errorf("failed to validate connection: %w", err)
		}
		sqlDB.SetMaxOpenConns(10)
		b.deps.DB = db
	}

	g := gormstorage.New(gormstorage.Dependencies{DB: b.deps.DB, Logger: b.deps.Logger})
	if err := g.Init(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	b.gorm = g
	b.deps.Logger.Info("Postgres storage ready", "dialect", b.deps.DB.Name())
	return nil
}

// Close closes the connection if Init opened one.
func (b *Backend) Close() error {
	if b.gorm == nil {
		return nil
	}
	return b.gorm.Close()
}

// SaveProject replaces the named project.
func (b *Backend) SaveProject(ctx context.Context, p *core.Project) error {
	if b.gorm == nil {
		return errNotInitialized
	}
	return b.gorm.SaveProject(ctx, p)
}

// LoadProject reads the named project.
func (b *Backend) LoadProject(ctx context.Context, name string) (*core.Project, error) {
	if b.gorm == nil {
		return nil, errNotInitialized
	}
	return b.gorm.LoadProject(ctx, name)
}

// ListProjects returns all project names.
func (b *Backend) ListProjects(ctx context.Context) ([]string, error) {
	if b.gorm == nil {
		return nil, errNotInitialized
	}
	return b.gorm.ListProjects(ctx)
}

// DeleteProject removes the named project.
func (b *Backend) DeleteProject(ctx context.Context, name string) error {
	if b.gorm == nil {
		return errNotInitialized
	}
	return b.gorm.DeleteProject(ctx, name)
}
