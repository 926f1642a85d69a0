// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/OCAP2/choreograph/internal/model"
	"github.com/OCAP2/choreograph/pkg/core"
)

// ProjectToGorm converts a core.Project to its GORM row with children.
// Row IDs are left zero for the caller to assign.
func ProjectToGorm(p *core.Project) (model.Project, error) {
	row := model.Project{
		Name:       p.ProjectName,
		Version:    p.Version,
		Duration:   p.Duration,
		Performers: make([]model.Performer, len(p.Dancers)),
		Keyframes:  make([]model.Keyframe, len(p.Keyframes)),
	}
	if p.AudioFileName != nil {
		row.AudioFileName = sql.NullString{String: *p.AudioFileName, Valid: true}
	}

	for i, d := range p.Dancers {
		row.Performers[i] = model.Performer{
			PerformerID: string(d.ID),
			Name:        d.Name,
			Color:       d.Color,
			Ordinal:     i,
		}
	}

	for i, k := range p.Keyframes {
		positions, err := json.Marshal(k.Positions)
		if err != nil {
			return model.Project{}, fmt.Errorf("failed to encode positions of keyframe %s: %w", k.ID, err)
		}
		row.Keyframes[i] = model.Keyframe{
			KeyframeID: string(k.ID),
			Timestamp:  k.Timestamp,
			Positions:  positions,
		}
	}
	return row, nil
}

// ProjectToCore converts a GORM project row (with preloaded children) to a core.Project.
func ProjectToCore(row model.Project) (*core.Project, error) {
	p := &core.Project{
		Version:     row.Version,
		ProjectName: row.Name,
		Dancers:     make([]core.Performer, 0, len(row.Performers)),
		Keyframes:   make([]core.Keyframe, 0, len(row.Keyframes)),
		Duration:    row.Duration,
	}
	if row.AudioFileName.Valid {
		name := row.AudioFileName.String
		p.AudioFileName = &name
	}

	performers := append([]model.Performer(nil), row.Performers...)
	sort.SliceStable(performers, func(i, j int) bool { return performers[i].Ordinal < performers[j].Ordinal })
	for _, d := range performers {
		p.Dancers = append(p.Dancers, PerformerToCore(d))
	}

	for _, k := range row.Keyframes {
		kf, err := KeyframeToCore(k)
		if err != nil {
			return nil, err
		}
		p.Keyframes = append(p.Keyframes, kf)
	}
	return p, nil
}

// PerformerToCore converts a GORM Performer to a core.Performer.
func PerformerToCore(d model.Performer) core.Performer {
	return core.Performer{
		ID:    core.PerformerID(d.PerformerID),
		Name:  d.Name,
		Color: d.Color,
	}
}

// KeyframeToCore converts a GORM Keyframe to a core.Keyframe.
func KeyframeToCore(k model.Keyframe) (core.Keyframe, error) {
	positions := map[core.PerformerID]core.Position{}
	if len(k.Positions) > 0 {
		if err := json.Unmarshal(k.Positions, &positions); err != nil {
			return core.Keyframe{}, fmt.Errorf("failed to decode positions of keyframe %s: %w", k.KeyframeID, err)
		}
	}
	if positions == nil {
		positions = map[core.PerformerID]core.Position{}
	}
	return core.Keyframe{
		ID:        core.KeyframeID(k.KeyframeID),
		Timestamp: k.Timestamp,
		Positions: positions,
	}, nil
}
