// Package render holds the stage geometry shared by interactive views and
// the offline frame rasterizer: camera transform, grid snapping, hit testing
// and drawing.
package render

import (
	"math"

	"github.com/OCAP2/choreograph/pkg/core"
)

const (
	// WingsWidth is the off-stage area drawn on each side of the stage.
	WingsWidth = 125

	MinZoom float64 = 0.1
	MaxZoom float64 = 5

	// WheelIntensity scales wheel deltas into zoom factors.
	WheelIntensity = 0.001

	// FitPadding is the screen margin kept by Fit.
	FitPadding = 20

	// HitRadius is how far (stage units) from a performer a press still grabs it.
	HitRadius = 35

	// EdgeMargin keeps dragged performers this far from the outer bounds.
	EdgeMargin = 20
)

// Camera maps stage units to screen pixels: screen = world*K + (X, Y).
type Camera struct {
	X, Y float64
	K    float64
}

// ScreenToWorld converts a screen point to stage units.
func (c Camera) ScreenToWorld(sx, sy float64) core.Position {
	return core.Position{X: (sx - c.X) / c.K, Y: (sy - c.Y) / c.K}
}

// WorldToScreen converts a stage point to screen pixels.
func (c Camera) WorldToScreen(p core.Position) (sx, sy float64) {
	return p.X*c.K + c.X, p.Y*c.K + c.Y
}

// ZoomAt changes the scale to k, clamped to [MinZoom, MaxZoom], keeping the
// stage point under (sx, sy) fixed on screen.
func (c Camera) ZoomAt(sx, sy, k float64) Camera {
	k = clampZoom(k)
	w := c.ScreenToWorld(sx, sy)
	return Camera{X: sx - w.X*k, Y: sy - w.Y*k, K: k}
}

// Wheel applies a mouse wheel delta at (sx, sy). Positive deltas zoom out.
func (c Camera) Wheel(sx, sy, deltaY float64) Camera {
	return c.ZoomAt(sx, sy, c.K*(1-deltaY*WheelIntensity))
}

// Pan shifts the view by a screen delta.
func (c Camera) Pan(dx, dy float64) Camera {
	return Camera{X: c.X + dx, Y: c.Y + dy, K: c.K}
}

// Fit returns the camera that shows the stage and both wings centered in a
// viewW x viewH view. A degenerate view yields the identity camera.
func Fit(viewW, viewH float64) Camera {
	if viewW <= 0 || viewH <= 0 {
		return Camera{K: 1}
	}
	availW := viewW - FitPadding*2
	availH := viewH - FitPadding*2
	k := math.Min(availW/(core.StageWidth+WingsWidth*2), availH/core.StageHeight)
	if k <= 0 {
		k = MinZoom
	}
	return Camera{
		X: (viewW - core.StageWidth*k) / 2,
		Y: (viewH - core.StageHeight*k) / 2,
		K: k,
	}
}

func clampZoom(k float64) float64 {
	if math.IsNaN(k) {
		return 1
	}
	return math.Min(MaxZoom, math.Max(MinZoom, k))
}
