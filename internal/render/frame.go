package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/OCAP2/choreograph/pkg/core"
)

// Stage palette.
var (
	Background = color.RGBA{0x0f, 0x17, 0x2a, 0xff}
	WingColor  = color.RGBA{0x1e, 0x29, 0x3b, 0xff}
	StageColor = color.RGBA{0x33, 0x41, 0x55, 0xff}
	CrossColor = color.RGBA{0xe2, 0xe8, 0xf0, 0xff}

	gridColor   = color.NRGBA{148, 163, 184, 128}
	shadowColor = color.NRGBA{0, 0, 0, 128}
	labelColor  = color.RGBA{0xff, 0xff, 0xff, 0xff}
	glowColor   = color.NRGBA{250, 204, 21, 77}
)

const (
	performerRadius = 16
	glowRadius      = 22
	shadowOffset    = 5
	labelOffset     = 20
	circleSegments  = 48
)

// ParseColor parses "#rrggbb".
func ParseColor(s string) (color.RGBA, error) {
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// Renderer draws stage frames of a fixed size.
type Renderer struct {
	Width, Height int
	// Grid is the grid spacing in stage units; 0 hides the grid.
	Grid float64
	// Selected is highlighted with a glow when set.
	Selected core.PerformerID

	cam  Camera
	rast *vector.Rasterizer
}

// NewRenderer returns a renderer whose camera fits the stage to w x h.
func NewRenderer(w, h int, grid float64) *Renderer {
	return &Renderer{
		Width:  w,
		Height: h,
		Grid:   grid,
		cam:    Fit(float64(w), float64(h)),
		rast:   vector.NewRasterizer(w, h),
	}
}

// Camera returns the transform frames are drawn with.
func (r *Renderer) Camera() Camera { return r.cam }

// Frame draws the stage with every performer at its position. Performers
// without a position are drawn at the origin.
func (r *Renderer) Frame(performers []core.Performer, positions map[core.PerformerID]core.Position) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	r.Draw(img, performers, positions)
	return img
}

// Draw renders into dst, which must be Width x Height.
func (r *Renderer) Draw(dst *image.RGBA, performers []core.Performer, positions map[core.PerformerID]core.Position) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(Background), image.Point{}, draw.Src)

	r.fillWorldRect(dst, -WingsWidth, 0, 0, core.StageHeight, WingColor)
	r.fillWorldRect(dst, core.StageWidth, 0, core.StageWidth+WingsWidth, core.StageHeight, WingColor)
	r.fillWorldRect(dst, 0, 0, core.StageWidth, core.StageHeight, StageColor)

	if r.Grid > 0 {
		r.drawGrid(dst)
	}
	r.drawCross(dst)

	for _, p := range performers {
		pos := positions[p.ID]
		r.drawPerformer(dst, p, pos)
	}
}

func (r *Renderer) drawGrid(dst *image.RGBA) {
	step := r.Grid
	offX := math.Mod(core.StageWidth/2, step)
	offY := math.Mod(core.StageHeight/2, step)
	line := 1 / r.cam.K

	for x := math.Floor((-WingsWidth-offX)/step)*step + offX; x <= core.StageWidth+WingsWidth; x += step {
		r.fillWorldRect(dst, x-line/2, 0, x+line/2, core.StageHeight, gridColor)
	}
	for y := math.Floor(-offY/step)*step + offY; y <= core.StageHeight; y += step {
		r.fillWorldRect(dst, -WingsWidth, y-line/2, core.StageWidth+WingsWidth, y+line/2, gridColor)
	}
}

func (r *Renderer) drawCross(dst *image.RGBA) {
	cx, cy := float64(core.StageWidth/2), float64(core.StageHeight/2)
	size := 50.0
	if r.Grid > 0 {
		size = r.Grid
	}
	w := 3 / r.cam.K
	r.fillWorldRect(dst, cx-w/2, cy-size, cx+w/2, cy+size, CrossColor)
	r.fillWorldRect(dst, cx-size, cy-w/2, cx+size, cy+w/2, CrossColor)
}

func (r *Renderer) drawPerformer(dst *image.RGBA, p core.Performer, pos core.Position) {
	body, err := ParseColor(p.Color)
	if err != nil {
		body = labelColor
	}

	r.fillCircle(dst, core.Position{X: pos.X, Y: pos.Y + shadowOffset}, performerRadius, shadowColor)
	if p.ID == r.Selected && r.Selected != "" {
		r.fillCircle(dst, pos, glowRadius, glowColor)
	}
	r.fillCircle(dst, pos, performerRadius, body)

	sx, sy := r.cam.WorldToScreen(pos)
	if initial := initialOf(p.Name); initial != "" {
		drawText(dst, initial, sx, sy, labelColor, false)
	}
	if p.Name != "" {
		drawText(dst, p.Name, sx, sy+labelOffset*r.cam.K, labelColor, true)
	}
}

func initialOf(name string) string {
	for _, r := range name {
		return strings.ToUpper(string(r))
	}
	return ""
}

// drawText draws s horizontally centered at sx. With top set the text
// hangs below sy, otherwise it is vertically centered on sy.
func drawText(dst *image.RGBA, s string, sx, sy float64, c color.Color, top bool) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(c), Face: face}
	width := d.MeasureString(s).Round()
	m := face.Metrics()
	baseline := sy + float64(m.Ascent.Round())
	if !top {
		baseline = sy + float64(m.Ascent.Round()-m.Height.Round()/2)
	}
	d.Dot = fixed.P(int(math.Round(sx))-width/2, int(math.Round(baseline)))
	d.DrawString(s)
}

func (r *Renderer) fillWorldRect(dst *image.RGBA, x0, y0, x1, y1 float64, c color.Color) {
	sx0, sy0 := r.cam.WorldToScreen(core.Position{X: x0, Y: y0})
	sx1, sy1 := r.cam.WorldToScreen(core.Position{X: x1, Y: y1})
	z := r.raster()
	z.MoveTo(float32(sx0), float32(sy0))
	z.LineTo(float32(sx1), float32(sy0))
	z.LineTo(float32(sx1), float32(sy1))
	z.LineTo(float32(sx0), float32(sy1))
	z.ClosePath()
	z.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{})
}

func (r *Renderer) fillCircle(dst *image.RGBA, center core.Position, radius float64, c color.Color) {
	cx, cy := r.cam.WorldToScreen(center)
	rad := radius * r.cam.K
	z := r.raster()
	for i := 0; i < circleSegments; i++ {
		a := 2 * math.Pi * float64(i) / circleSegments
		x := float32(cx + rad*math.Cos(a))
		y := float32(cy + rad*math.Sin(a))
		if i == 0 {
			z.MoveTo(x, y)
		} else {
			z.LineTo(x, y)
		}
	}
	z.ClosePath()
	z.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{})
}

func (r *Renderer) raster() *vector.Rasterizer {
	if r.rast == nil {
		r.rast = vector.NewRasterizer(r.Width, r.Height)
	}
	r.rast.Reset(r.Width, r.Height)
	r.rast.DrawOp = draw.Over
	return r.rast
}
