package marker

import (
	"fmt"
	"math"

	"github.com/wudi/pdfmark/contentstream"
	"github.com/wudi/pdfmark/coords"
)

// Color is an RGB triple with components in [0,1].
type Color struct {
	R float64 `yaml:"r"`
	G float64 `yaml:"g"`
	B float64 `yaml:"b"`
}

// Style fixes glyph geometry and colours. Offsets are added to the anchor in
// page-local units.
type Style struct {
	GlyphSize float64 `yaml:"glyph_size"`
	OffsetX   float64 `yaml:"offset_x"`
	OffsetY   float64 `yaml:"offset_y"`
	LineWidth float64 `yaml:"line_width"`
	Correct   Color   `yaml:"correct"`
	Incorrect Color   `yaml:"incorrect"`
}

// DefaultStyle draws a 16 unit glyph up and to the left of the anchor text.
func DefaultStyle() Style {
	return Style{
		GlyphSize: 16,
		OffsetX:   -20,
		OffsetY:   -2,
		LineWidth: 2,
		Correct:   Color{0, 0.6, 0},
		Incorrect: Color{0.8, 0, 0},
	}
}

// withDefaults replaces a zero Style by DefaultStyle and fills a zero line width.
func (s Style) withDefaults() Style {
	if s.GlyphSize == 0 {
		return DefaultStyle()
	}
	if s.LineWidth == 0 {
		s.LineWidth = DefaultStyle().LineWidth
	}
	return s
}

// Validate rejects negative sizes, non-finite numbers and colour components
// outside [0,1]. The error names the offending field.
func (s Style) Validate() error {
	nums := []struct {
		name string
		v    float64
		pos  bool
	}{
		{"glyph_size", s.GlyphSize, true},
		{"line_width", s.LineWidth, true},
		{"offset_x", s.OffsetX, false},
		{"offset_y", s.OffsetY, false},
	}
	for _, n := range nums {
		if math.IsNaN(n.v) || math.IsInf(n.v, 0) {
			return fmt.Errorf("%s is not a finite number", n.name)
		}
		if n.pos && n.v < 0 {
			return fmt.Errorf("%s must not be negative, got %g", n.name, n.v)
		}
	}
	colours := []struct {
		name string
		c    Color
	}{{"correct", s.Correct}, {"incorrect", s.Incorrect}}
	for _, col := range colours {
		for _, v := range []float64{col.c.R, col.c.G, col.c.B} {
			if !(v >= 0 && v <= 1) {
				return fmt.Errorf("%s colour component %g outside [0,1]", col.name, v)
			}
		}
	}
	return nil
}

// Unit glyph outlines in a 1x1 box, y pointing down.
var (
	checkPath = func() contentstream.Path {
		var p contentstream.Path
		p.MoveTo(0.15, 0.55).LineTo(0.4, 0.8).LineTo(0.85, 0.2)
		return p
	}()
	crossPath = func() contentstream.Path {
		var p contentstream.Path
		p.MoveTo(0.2, 0.2).LineTo(0.8, 0.8)
		p.MoveTo(0.8, 0.2).LineTo(0.2, 0.8)
		return p
	}()
)

// GlyphOps draws a check or a cross filling box, in user space of the page
// described by space.
func GlyphOps(correct bool, box coords.Box, space coords.PageSpace, style Style) []contentstream.Operation {
	style = style.withDefaults()
	path, c := crossPath, style.Incorrect
	if correct {
		path, c = checkPath, style.Correct
	}
	origin := space.ToUser(coords.Point{X: box.X, Y: box.Y})
	m := coords.Matrix{box.Width, 0, 0, -box.Height, origin.X, origin.Y}

	ops := []contentstream.Operation{
		contentstream.Op("q"),
		contentstream.Op("RG", c.R, c.G, c.B),
		contentstream.Op("w", style.LineWidth),
		contentstream.Op("J", 1),
		contentstream.Op("j", 1),
	}
	ops = append(ops, path.Transform(m).Operations()...)
	return append(ops, contentstream.Op("S"), contentstream.Op("Q"))
}
