package overlay

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"slices"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/smazurov/hudrender/internal/hud"
)

// Preset selects which HUD layers the raster renderer draws.
type Preset string

// Raster presets.
const (
	PresetCrosshair Preset = "crosshair"
	PresetTargets   Preset = "targets"
	PresetFull      Preset = "full"
)

// Presets lists the supported presets.
func Presets() []Preset {
	return []Preset{PresetCrosshair, PresetTargets, PresetFull}
}

// ParsePreset validates a preset name.
func ParsePreset(s string) (Preset, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Presets(), p) {
		return "", fmt.Errorf("%w: %q", ErrUnknownPreset, s)
	}
	return p, nil
}

var (
	crosshairColor = color.NRGBA{0x3c, 0xff, 0x6e, 0xff}
	pressedColor   = color.NRGBA{0xff, 0x45, 0x3a, 0xff}
	bracketColor   = color.NRGBA{0xff, 0xd6, 0x0a, 0xff}
	lockedColor    = color.NRGBA{0xff, 0x45, 0x3a, 0xff}
	panelColor     = color.NRGBA{0x00, 0x00, 0x00, 0xa0}
	textColor      = color.NRGBA{0xff, 0xff, 0xff, 0xff}
	alertColors    = []color.NRGBA{
		{0x1e, 0x6f, 0xd9, 0xc0},
		{0xe8, 0x9b, 0x0c, 0xc8},
		{0xd0, 0x21, 0x21, 0xd0},
	}
)

const (
	armLength   = 10
	armGap      = 3
	bracketSize = 14
	bracketArm  = 5
	panelPad    = 6
	lineHeight  = 13
)

// Raster draws the HUD with 2D primitives and a bitmap font.
type Raster struct {
	width  int
	height int
	preset Preset
	face   font.Face
}

// NewRaster creates a raster renderer producing width x height overlays.
func NewRaster(width, height int, preset Preset) (*Raster, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	p, err := ParsePreset(string(preset))
	if err != nil {
		return nil, err
	}
	return &Raster{
		width:  width,
		height: height,
		preset: p,
		face:   basicfont.Face7x13,
	}, nil
}

// Synchronous is always true for the raster renderer.
func (r *Raster) Synchronous() bool { return true }

// Preset returns the configured preset.
func (r *Raster) Preset() Preset { return r.preset }

// Size returns the overlay geometry.
func (r *Raster) Size() (width, height int) { return r.width, r.height }

// Render draws the state onto a fresh transparent image.
func (r *Raster) Render(ctx context.Context, state hud.State, _ float64) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	r.draw(img, state)
	return img, nil
}

func (r *Raster) draw(img *image.RGBA, state hud.State) {
	if r.preset == PresetTargets || r.preset == PresetFull {
		r.drawTargets(img, state.Targets)
	}
	r.drawCrosshair(img, state.Mouse)
	if r.preset == PresetFull {
		r.drawScenario(img, state.Custom)
	}
}

func (r *Raster) drawCrosshair(img *image.RGBA, m hud.Mouse) {
	cx, cy := round(m.X), round(m.Y)

	fillRect(img, image.Rect(cx+armGap, cy-1, cx+armGap+armLength, cy+1), crosshairColor)
	fillRect(img, image.Rect(cx-armGap-armLength, cy-1, cx-armGap, cy+1), crosshairColor)
	fillRect(img, image.Rect(cx-1, cy+armGap, cx+1, cy+armGap+armLength), crosshairColor)
	fillRect(img, image.Rect(cx-1, cy-armGap-armLength, cx+1, cy-armGap), crosshairColor)
	fillRect(img, image.Rect(cx-1, cy-1, cx+1, cy+1), crosshairColor)

	if m.Buttons == 0 {
		return
	}
	strokeRect(img, image.Rect(cx-6, cy-6, cx+7, cy+7), pressedColor)
	// One pip per held button, left to right.
	for bit := range 3 {
		if m.Buttons&(1<<bit) != 0 {
			x := cx - 8 + bit*6
			fillRect(img, image.Rect(x, cy+armGap+armLength+3, x+4, cy+armGap+armLength+7), pressedColor)
		}
	}
}

func (r *Raster) drawTargets(img *image.RGBA, targets map[string]hud.Target) {
	ids := make([]string, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		t := targets[id]
		x, y := round(t.X), round(t.Y)
		box := image.Rect(x-bracketSize, y-bracketSize, x+bracketSize, y+bracketSize)

		c := bracketColor
		if t.Locked {
			c = lockedColor
		}
		drawBrackets(img, box, c)

		if t.Locked {
			for _, p := range corners(box) {
				fillRect(img, image.Rect(p.X-2, p.Y-2, p.X+2, p.Y+2), lockedColor)
			}
			r.drawText(img, box.Min.X, box.Min.Y-3, id, lockedColor)
		}
	}
}

func (r *Raster) drawScenario(img *image.RGBA, s hud.Scenario) {
	switch s.Kind {
	case hud.ScenarioAimTrainer:
		if s.AimTrainer == nil {
			return
		}
		a := s.AimTrainer
		text := fmt.Sprintf("SCORE %d  STREAK %d  ACC %.0f%%", a.Score, a.Streak, a.Accuracy*100)
		w := r.textWidth(text)
		panel := image.Rect(8, 8, 8+w+2*panelPad, 8+lineHeight+2*panelPad)
		fillRect(img, panel, panelColor)
		r.drawText(img, panel.Min.X+panelPad, panel.Max.Y-panelPad-2, text, textColor)
	case hud.ScenarioAlert:
		if s.Alert == nil {
			return
		}
		level := min(max(s.Alert.Level, 0), len(alertColors)-1)
		banner := image.Rect(0, 0, r.width, lineHeight+2*panelPad)
		fillRect(img, banner, alertColors[level])
		r.drawText(img, panelPad, banner.Max.Y-panelPad-2, alertPrefix(level)+" "+s.Alert.Message, textColor)
	}
}

func (r *Raster) drawText(img *image.RGBA, x, baseline int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: r.face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(s)
}

func (r *Raster) textWidth(s string) int {
	return font.MeasureString(r.face, s).Ceil()
}

func alertPrefix(level int) string {
	switch level {
	case 0:
		return "INFO"
	case 1:
		return "WARN"
	default:
		return "ALERT"
	}
}

func drawBrackets(img *image.RGBA, box image.Rectangle, c color.Color) {
	x0, y0, x1, y1 := box.Min.X, box.Min.Y, box.Max.X, box.Max.Y
	// top-left
	fillRect(img, image.Rect(x0, y0, x0+bracketArm, y0+2), c)
	fillRect(img, image.Rect(x0, y0, x0+2, y0+bracketArm), c)
	// top-right
	fillRect(img, image.Rect(x1-bracketArm, y0, x1, y0+2), c)
	fillRect(img, image.Rect(x1-2, y0, x1, y0+bracketArm), c)
	// bottom-left
	fillRect(img, image.Rect(x0, y1-2, x0+bracketArm, y1), c)
	fillRect(img, image.Rect(x0, y1-bracketArm, x0+2, y1), c)
	// bottom-right
	fillRect(img, image.Rect(x1-bracketArm, y1-2, x1, y1), c)
	fillRect(img, image.Rect(x1-2, y1-bracketArm, x1, y1), c)
}

func corners(r image.Rectangle) []image.Point {
	return []image.Point{
		r.Min,
		{r.Max.X, r.Min.Y},
		{r.Min.X, r.Max.Y},
		r.Max,
	}
}

func strokeRect(img *image.RGBA, r image.Rectangle, c color.Color) {
	fillRect(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1), c)
	fillRect(img, image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y), c)
	fillRect(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y), c)
	fillRect(img, image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y), c)
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.Color) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Over)
}

func round(v float64) int {
	return int(math.Round(v))
}
