// internal/storage/memory/memory.go
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/OCAP2/choreograph/internal/config"
	"github.com/OCAP2/choreograph/internal/project"
	"github.com/OCAP2/choreograph/internal/storage"
	"github.com/OCAP2/choreograph/pkg/core"
)

const (
	fileExt = ".choreo.json"
	gzExt   = ".gz"
)

// Backend keeps each project in its own JSON file under OutputDir and an
// in-memory index of the files by project name.
type Backend struct {
	cfg    config.MemoryConfig
	logger *slog.Logger

	index map[string]string // project name -> file path
	mu    sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		cfg:    cfg,
		logger: logger,
		index:  make(map[string]string),
	}
}

// Init creates the output directory and indexes the projects already in it.
// Files that fail to load are skipped.
func (b *Backend) Init() error {
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	entries, err := os.ReadDir(b.cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to read output directory: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, fileExt) || strings.HasSuffix(name, fileExt+gzExt)) {
			continue
		}
		path := filepath.Join(b.cfg.OutputDir, name)
		p, err := project.Load(path)
		if err != nil {
			b.logger.Warn("Skipping unreadable project file", "path", path, "error", err)
			continue
		}
		b.index[p.ProjectName] = path
	}
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// SaveProject writes p to its file, replacing any earlier save.
func (b *Backend) SaveProject(_ context.Context, p *core.Project) error {
	if p == nil {
		return fmt.Errorf("%w: nil project", project.ErrInvalidProject)
	}
	p = p.Clone()
	if err := project.Validate(p); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.pathFor(p.ProjectName)
	if err := project.Save(path, p); err != nil {
		return err
	}
	if old, ok := b.index[p.ProjectName]; ok && old != path {
		_ = os.Remove(old)
	}
	b.index[p.ProjectName] = path
	return nil
}

// LoadProject reads the named project from disk.
func (b *Backend) LoadProject(_ context.Context, name string) (*core.Project, error) {
	b.mu.RLock()
	path, ok := b.index[name]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", storage.ErrNotFound, name)
	}
	return project.Load(path)
}

// ListProjects returns the indexed project names in order.
func (b *Backend) ListProjects(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.index))
	for name := range b.index {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// DeleteProject removes the named project's file.
func (b *Backend) DeleteProject(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path, ok := b.index[name]
	if !ok {
		return fmt.Errorf("%w: %q", storage.ErrNotFound, name)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete project file: %w", err)
	}
	delete(b.index, name)
	return nil
}

// ProjectPath returns the file a project is stored in.
func (b *Backend) ProjectPath(name string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	path, ok := b.index[name]
	return path, ok
}

func (b *Backend) pathFor(name string) string {
	ext := fileExt
	if b.cfg.CompressOutput {
		ext += gzExt
	}
	return filepath.Join(b.cfg.OutputDir, FileName(name)+ext)
}

// FileName turns a project name into a safe file name stem.
func FileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "untitled"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', ':', '/', '\\', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
