// Package project reads and writes the v1 project file format.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/OCAP2/choreograph/pkg/core"
)

var (
	// ErrUnsupportedVersion is returned for files from another format version.
	ErrUnsupportedVersion = errors.New("unsupported project version")
	// ErrInvalidProject is returned when a file parses but breaks the model rules.
	ErrInvalidProject = errors.New("invalid project")
)

// Encode writes p as indented JSON.
func Encode(w io.Writer, p *core.Project) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("failed to encode project: %w", err)
	}
	return nil
}

// Decode parses and validates a project. Nothing is returned unless the
// whole document is acceptable.
func Decode(r io.Reader) (*core.Project, error) {
	var p core.Project
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProject, err)
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks p against the model rules and normalizes what can be
// normalized: a duration under the minimum is raised to it and nil position
// maps become empty.
func Validate(p *core.Project) error {
	if p.Version != core.ProjectVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, p.Version)
	}
	if len(p.Keyframes) == 0 {
		return fmt.Errorf("%w: no keyframes", ErrInvalidProject)
	}

	performers := make(map[core.PerformerID]struct{}, len(p.Dancers))
	for _, d := range p.Dancers {
		if d.ID == "" {
			return fmt.Errorf("%w: performer without id", ErrInvalidProject)
		}
		if _, dup := performers[d.ID]; dup {
			return fmt.Errorf("%w: duplicate performer id %q", ErrInvalidProject, d.ID)
		}
		performers[d.ID] = struct{}{}
	}

	keyframes := make(map[core.KeyframeID]struct{}, len(p.Keyframes))
	origins := 0
	for i := range p.Keyframes {
		k := &p.Keyframes[i]
		if k.ID == "" {
			return fmt.Errorf("%w: keyframe without id", ErrInvalidProject)
		}
		if _, dup := keyframes[k.ID]; dup {
			return fmt.Errorf("%w: duplicate keyframe id %q", ErrInvalidProject, k.ID)
		}
		keyframes[k.ID] = struct{}{}
		if k.Timestamp < 0 {
			return fmt.Errorf("%w: keyframe %q has negative timestamp", ErrInvalidProject, k.ID)
		}
		if k.IsOrigin() {
			origins++
		}
		if k.Positions == nil {
			k.Positions = map[core.PerformerID]core.Position{}
		}
	}
	if origins != 1 {
		return fmt.Errorf("%w: expected one keyframe at 0ms, found %d", ErrInvalidProject, origins)
	}

	stamps := make([]int64, len(p.Keyframes))
	for i, k := range p.Keyframes {
		stamps[i] = k.Timestamp
	}
	slices.Sort(stamps)
	for i := 1; i < len(stamps); i++ {
		if stamps[i]-stamps[i-1] < core.MatchTolerance {
			return fmt.Errorf("%w: keyframes at %dms and %dms are within %dms", ErrInvalidProject, stamps[i-1], stamps[i], core.MatchTolerance)
		}
	}

	if p.Duration < core.MinDuration {
		p.Duration = core.MinDuration
	}
	return nil
}
