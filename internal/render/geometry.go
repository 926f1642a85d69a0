package render

import (
	"math"

	"github.com/OCAP2/choreograph/pkg/core"
)

// Snap rounds v to the nearest grid line, where lines sit at offset + n*grid.
// A grid of 1 or less disables snapping.
func Snap(v, grid, offset float64) float64 {
	if grid <= 1 {
		return v
	}
	return math.Round((v-offset)/grid)*grid + offset
}

// SnapPosition snaps p to a grid whose lines pass through the stage center.
func SnapPosition(p core.Position, grid float64) core.Position {
	if grid <= 1 {
		return p
	}
	return core.Position{
		X: Snap(p.X, grid, math.Mod(core.StageWidth/2, grid)),
		Y: Snap(p.Y, grid, math.Mod(core.StageHeight/2, grid)),
	}
}

// ClampDrag keeps a dragged performer inside the stage and wings.
func ClampDrag(p core.Position) core.Position {
	return core.Position{
		X: math.Max(-WingsWidth+EdgeMargin, math.Min(core.StageWidth+WingsWidth-EdgeMargin, p.X)),
		Y: math.Max(EdgeMargin, math.Min(core.StageHeight-EdgeMargin, p.Y)),
	}
}

// HitTest returns the topmost performer within radius of world. Later
// performers are drawn on top, so they are tested first.
func HitTest(performers []core.Performer, positions map[core.PerformerID]core.Position, world core.Position, radius float64) (core.PerformerID, bool) {
	for i := len(performers) - 1; i >= 0; i-- {
		id := performers[i].ID
		p, ok := positions[id]
		if !ok {
			continue
		}
		if math.Hypot(world.X-p.X, world.Y-p.Y) <= radius {
			return id, true
		}
	}
	return "", false
}
