// Package gormstorage implements storage.Backend on top of GORM. The SQLite
// and Postgres backends embed it and only add connection handling.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/OCAP2/choreograph/internal/database"
	"github.com/OCAP2/choreograph/internal/model"
	"github.com/OCAP2/choreograph/internal/model/convert"
	"github.com/OCAP2/choreograph/internal/project"
	"github.com/OCAP2/choreograph/internal/storage"
	"github.com/OCAP2/choreograph/pkg/core"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
}

// Backend stores projects as rows: one project row plus its performers and
// keyframes.
type Backend struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New creates a GORM backend. Init must be called before use.
func New(deps Dependencies) *Backend {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{db: deps.DB, logger: logger}
}

// DB exposes the underlying connection.
func (b *Backend) DB() *gorm.DB { return b.db }

// Init migrates the schema.
func (b *Backend) Init() error {
	if b.db == nil {
		return fmt.Errorf("gorm backend has no database")
	}
	return database.Migrate(b.db)
}

// Close closes the connection pool.
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveProject replaces the named project in one transaction.
func (b *Backend) SaveProject(ctx context.Context, p *core.Project) error {
	if p == nil {
		return fmt.Errorf("%w: nil project", project.ErrInvalidProject)
	}
	p = p.Clone()
	if err := project.Validate(p); err != nil {
		return err
	}
	row, err := convert.ProjectToGorm(p)
	if err != nil {
		return err
	}

	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Project
		err := tx.Where("name = ?", row.Name).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		default:
			row.ID = existing.ID
			row.CreatedAt = existing.CreatedAt
			if err := deleteChildren(tx, existing.ID); err != nil {
				return err
			}
		}

		if err := tx.Omit(clause.Associations).Save(&row).Error; err != nil {
			return err
		}
		for i := range row.Performers {
			row.Performers[i].ProjectID = row.ID
		}
		for i := range row.Keyframes {
			row.Keyframes[i].ProjectID = row.ID
		}
		if len(row.Performers) > 0 {
			if err := tx.Create(&row.Performers).Error; err != nil {
				return err
			}
		}
		return tx.Create(&row.Keyframes).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save project %q: %w", p.ProjectName, err)
	}
	b.logger.Debug("Saved project", "name", p.ProjectName, "keyframes", len(p.Keyframes))
	return nil
}

// LoadProject reads the named project with its performers and keyframes.
func (b *Backend) LoadProject(ctx context.Context, name string) (*core.Project, error) {
	var row model.Project
	err := b.db.WithContext(ctx).
		Preload("Performers", func(db *gorm.DB) *gorm.DB { return db.Order("ordinal") }).
		Preload("Keyframes", func(db *gorm.DB) *gorm.DB { return db.Order("timestamp") }).
		Where("name = ?", name).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %q", storage.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project %q: %w", name, err)
	}

	p, err := convert.ProjectToCore(row)
	if err != nil {
		return nil, err
	}
	if err := project.Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListProjects returns all project names in order.
func (b *Backend) ListProjects(ctx context.Context) ([]string, error) {
	var names []string
	err := b.db.WithContext(ctx).Model(&model.Project{}).Order("name").Pluck("name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return names, nil
}

// DeleteProject removes the named project and its rows.
func (b *Backend) DeleteProject(ctx context.Context, name string) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Project
		err := tx.Where("name = ?", name).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %q", storage.ErrNotFound, name)
		}
		if err != nil {
			return err
		}
		if err := deleteChildren(tx, existing.ID); err != nil {
			return err
		}
		return tx.Delete(&existing).Error
	})
}

func deleteChildren(tx *gorm.DB, projectID uint) error {
	if err := tx.Where("project_id = ?", projectID).Delete(&model.Performer{}).Error; err != nil {
		return err
	}
	return tx.Where("project_id = ?", projectID).Delete(&model.Keyframe{}).Error
}
