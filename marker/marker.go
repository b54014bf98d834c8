// Package marker resolves verdicts against a template and plans the overlay
// glyphs for one render job.
package marker

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfmark/contentstream"
	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/locator"
)

// Mark is one matched verdict placed on the page.
type Mark struct {
	Question int        `json:"question"`
	Correct  bool       `json:"correct"`
	Note     string     `json:"note,omitempty"`
	Page     int        `json:"page"`
	Box      coords.Box `json:"box"`
}

// Plan is the outcome of resolving a verdict set. Only matched verdicts are
// scored: Total equals len(Marks).
type Plan struct {
	Marks     []Mark
	Unmatched []int
	Correct   int
	Total     int

	style Style
}

// NewPlan resolves verdicts against tpl for a document whose pages are
// described by spaces. Verdicts without an anchor go to Unmatched in
// ascending order. Anchors on pages past len(spaces) fail the whole plan
// with ErrPageOutOfRange. An invalid style fails before any verdict is
// resolved.
func NewPlan(tpl *locator.Template, verdicts VerdictSet, spaces []coords.PageSpace, style Style) (*Plan, error) {
	if !tpl.Built() {
		return nil, errors.New("template is not built")
	}
	if err := tpl.Validate(len(spaces)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageOutOfRange, err)
	}
	style = style.withDefaults()
	if err := style.Validate(); err != nil {
		return nil, fmt.Errorf("style: %w", err)
	}
	p := &Plan{style: style}
	for _, v := range verdicts.Verdicts() {
		a, ok := tpl.Lookup(v.Question)
		if !ok {
			p.Unmatched = append(p.Unmatched, v.Question)
			continue
		}
		box := coords.Box{
			X:      a.X + style.OffsetX,
			Y:      a.Y + style.OffsetY,
			Width:  style.GlyphSize,
			Height: style.GlyphSize,
		}
		p.Marks = append(p.Marks, Mark{
			Question: v.Question,
			Correct:  v.Correct,
			Note:     v.Note,
			Page:     a.Page,
			Box:      spaces[a.Page].ClampBox(box),
		})
		if v.Correct {
			p.Correct++
		}
	}
	p.Total = len(p.Marks)
	return p, nil
}

// Pages lists the page indexes carrying at least one mark, ascending.
func (p *Plan) Pages() []int {
	var out []int
	for _, m := range p.Marks {
		if len(out) == 0 || out[len(out)-1] != m.Page {
			out = append(out, m.Page)
		}
	}
	return out
}

// PageOps returns the drawing operations for the marks on one page.
func (p *Plan) PageOps(page int, space coords.PageSpace) []contentstream.Operation {
	var ops []contentstream.Operation
	for _, m := range p.Marks {
		if m.Page == page {
			ops = append(ops, GlyphOps(m.Correct, m.Box, space, p.style)...)
		}
	}
	return ops
}
