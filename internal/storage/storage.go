// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/OCAP2/choreograph/pkg/core"
)

// ErrNotFound is returned when no project with the requested name exists.
var ErrNotFound = errors.New("project not found")

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Projects are keyed by ProjectName. Saving replaces any project of
	// the same name as a whole.
	SaveProject(ctx context.Context, p *core.Project) error
	LoadProject(ctx context.Context, name string) (*core.Project, error)
	ListProjects(ctx context.Context) ([]string, error)
	DeleteProject(ctx context.Context, name string) error
}

// FileBacked is an optional interface for backends that keep each project
// in its own file.
type FileBacked interface {
	ProjectPath(name string) (string, bool)
}
