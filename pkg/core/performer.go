// pkg/core/performer.go
package core

// PerformerID identifies a performer for the lifetime of a project.
type PerformerID string

// Position is a point on the stage in stage units. (0,0) is the top-left corner.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Performer is a dancer placed on the stage.
// Name carries no uniqueness constraint.
type Performer struct {
	ID    PerformerID `json:"id"`
	Name  string      `json:"name"`
	Color string      `json:"color"` // #rrggbb
}

// Lerp blends p towards q by t, independently per coordinate.
func (p Position) Lerp(q Position, t float64) Position {
	return Position{
		X: p.X + (q.X-p.X)*t,
		Y: p.Y + (q.Y-p.Y)*t,
	}
}

// StageCenter is where newly added performers are placed.
func StageCenter() Position {
	return Position{X: StageWidth / 2, Y: StageHeight / 2}
}

// DefaultCast returns the five performers every new project starts with,
// together with their positions in the origin keyframe.
func DefaultCast() ([]Performer, map[PerformerID]Position) {
	performers := []Performer{
		{ID: "d1", Name: "Alice", Color: "#ef4444"},
		{ID: "d2", Name: "Bob", Color: "#3b82f6"},
		{ID: "d3", Name: "Charlie", Color: "#10b981"},
		{ID: "d4", Name: "Diana", Color: "#f59e0b"},
		{ID: "d5", Name: "Evan", Color: "#8b5cf6"},
	}
	positions := map[PerformerID]Position{
		"d1": {X: 200, Y: 300},
		"d2": {X: 300, Y: 300},
		"d3": {X: 400, Y: 300},
		"d4": {X: 500, Y: 300},
		"d5": {X: 600, Y: 300},
	}
	return performers, positions
}
