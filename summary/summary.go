// Package summary draws the score block on the first page of a marked
// document.
package summary

import (
	"fmt"
	"math"
	"time"

	"github.com/wudi/pdfmark/contentstream"
	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/fonts"
	"github.com/wudi/pdfmark/ir/raw"
)

// FontName is the resource name the block's Tf operator refers to.
const FontName = "PdfmarkHelv"

const ellipsis = "..."

// Labels identify the candidate and exam. A zero Timestamp omits the date line.
type Labels struct {
	Owner     string    `json:"owner"`
	Subject   string    `json:"subject"`
	Timestamp time.Time `json:"timestamp"`
}

// Layout places the block in page-local units. X and Y are its top-left corner.
type Layout struct {
	X          float64 `yaml:"x"`
	Y          float64 `yaml:"y"`
	Width      float64 `yaml:"width"`
	FontSize   float64 `yaml:"font_size"`
	LineHeight float64 `yaml:"line_height"`
	Padding    float64 `yaml:"padding"`
	Title      string  `yaml:"title"`
	DateLayout string  `yaml:"date_layout"`
}

func DefaultLayout() Layout {
	return Layout{
		X:          40,
		Y:          30,
		Width:      300,
		FontSize:   11,
		LineHeight: 20,
		Padding:    10,
		Title:      "EXAM MARKING SUMMARY",
		DateLayout: "2006-01-02 15:04",
	}
}

func (l Layout) withDefaults() Layout {
	d := DefaultLayout()
	if l.Width == 0 {
		l.Width = d.Width
	}
	if l.FontSize == 0 {
		l.FontSize = d.FontSize
	}
	if l.LineHeight == 0 {
		l.LineHeight = d.LineHeight
	}
	if l.Padding == 0 {
		l.Padding = d.Padding
	}
	if l.Title == "" {
		l.Title = d.Title
	}
	if l.DateLayout == "" {
		l.DateLayout = d.DateLayout
	}
	if l.X == 0 && l.Y == 0 {
		l.X, l.Y = d.X, d.Y
	}
	return l
}

// Validate rejects non-positive or non-finite dimensions, naming the field.
func (l Layout) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"summary.x", l.X},
		{"summary.y", l.Y},
		{"summary.width", l.Width},
		{"summary.font_size", l.FontSize},
		{"summary.line_height", l.LineHeight},
		{"summary.padding", l.Padding},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return fmt.Errorf("%s must be a non-negative number, got %g", f.name, f.v)
		}
	}
	if l.LineHeight > 0 && l.FontSize > l.LineHeight {
		return fmt.Errorf("summary.font_size %g exceeds summary.line_height %g", l.FontSize, l.LineHeight)
	}
	return nil
}

// Percentage is correct/total*100 rounded to one decimal, 0 when total is 0.
func Percentage(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(correct)/float64(total)*1000) / 10
}

// ScoreText formats "c/t (p%)".
func ScoreText(correct, total int) string {
	return fmt.Sprintf("%d/%d (%.1f%%)", correct, total, Percentage(correct, total))
}

// Block is a composed score block ready to append to a page.
type Block struct {
	Lines []string
	Box   coords.Box
	Ops   []contentstream.Operation
	// Font is the resource dictionary entry for FontName.
	Font *raw.DictObj
}

// Lines returns the text lines of the block before truncation.
func Lines(correct, total int, labels Labels, layout Layout) []string {
	layout = layout.withDefaults()
	lines := []string{
		layout.Title,
		"Candidate: " + labels.Owner,
		"Exam: " + labels.Subject,
		"Score: " + ScoreText(correct, total),
	}
	if !labels.Timestamp.IsZero() {
		lines = append(lines, "Date: "+labels.Timestamp.Format(layout.DateLayout))
	}
	return lines
}

// Compose builds the block for a page. It reports false when total is 0,
// in which case nothing is drawn.
func Compose(correct, total int, labels Labels, space coords.PageSpace, layout Layout) (*Block, bool) {
	if total <= 0 {
		return nil, false
	}
	layout = layout.withDefaults()
	metrics := fonts.Helvetica()
	inner := layout.Width - 2*layout.Padding

	lines := Lines(correct, total, labels, layout)
	for i, l := range lines {
		lines[i] = fit(l, inner, layout.FontSize, metrics)
	}
	box := space.ClampBox(coords.Box{
		X:      layout.X,
		Y:      layout.Y,
		Width:  layout.Width,
		Height: 2*layout.Padding + float64(len(lines))*layout.LineHeight,
	})

	bottomLeft := space.ToUser(coords.Point{X: box.X, Y: box.Bottom()})
	ops := []contentstream.Operation{
		contentstream.Op("q"),
		contentstream.Op("rg", 1, 1, 1),
		contentstream.Op("RG", 0, 0, 0),
		contentstream.Op("w", 0.75),
		contentstream.Op("re", bottomLeft.X, bottomLeft.Y, box.Width, box.Height),
		contentstream.Op("B"),
	}

	// Rule under the title.
	ruleY := box.Y + layout.Padding + layout.LineHeight - (layout.LineHeight-layout.FontSize)/2
	from := space.ToUser(coords.Point{X: box.X + layout.Padding, Y: ruleY})
	to := space.ToUser(coords.Point{X: box.Right() - layout.Padding, Y: ruleY})
	ops = append(ops,
		contentstream.Op("m", from.X, from.Y),
		contentstream.Op("l", to.X, to.Y),
		contentstream.Op("S"),
		contentstream.Op("BT"),
		contentstream.Op("rg", 0, 0, 0),
		contentstream.Operation{Operator: "Tf", Operands: []raw.Object{raw.NameLiteral(FontName), contentstream.Num(layout.FontSize)}},
	)
	for i, l := range lines {
		baseline := box.Y + layout.Padding + float64(i)*layout.LineHeight + layout.FontSize
		p := space.ToUser(coords.Point{X: box.X + layout.Padding, Y: baseline})
		ops = append(ops,
			contentstream.Op("Tm", 1, 0, 0, 1, p.X, p.Y),
			contentstream.Operation{Operator: "Tj", Operands: []raw.Object{raw.Str(fonts.EncodeWinAnsi(l))}},
		)
	}
	ops = append(ops, contentstream.Op("ET"), contentstream.Op("Q"))

	return &Block{Lines: lines, Box: box, Ops: ops, Font: FontResource()}, true
}

// FontResource is an unembedded Helvetica with WinAnsiEncoding.
func FontResource() *raw.DictObj {
	d := raw.Dict()
	d.Set(raw.NameLiteral("Type"), raw.NameLiteral("Font"))
	d.Set(raw.NameLiteral("Subtype"), raw.NameLiteral("Type1"))
	d.Set(raw.NameLiteral("BaseFont"), raw.NameLiteral("Helvetica"))
	d.Set(raw.NameLiteral("Encoding"), raw.NameLiteral("WinAnsiEncoding"))
	return d
}

// fit truncates text with an ellipsis so it renders within width.
func fit(text string, width, size float64, m fonts.Metrics) string {
	if m.StringWidth(fonts.EncodeWinAnsi(text), size) <= width {
		return text
	}
	r := []rune(text)
	for n := len(r) - 1; n > 0; n-- {
		cut := string(r[:n]) + ellipsis
		if m.StringWidth(fonts.EncodeWinAnsi(cut), size) <= width {
			return cut
		}
	}
	return ellipsis
}
