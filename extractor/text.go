package extractor

import (
	"context"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/wudi/pdfmark/contentstream"
	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/ir/raw"
	"github.com/wudi/pdfmark/observability"
	"github.com/wudi/pdfmark/parser"
	"github.com/wudi/pdfmark/recovery"
)

// fragment is the text shown by one string operand.
type fragment struct {
	text     string
	box      coords.Box
	baseline float64
	size     float64
	font     *fontDecoder
	// object numbers the BT...ET block the fragment was shown in.
	object   int
}

type interpreter struct {
	ctx     context.Context
	doc     *parser.Document
	fonts   *fontCache
	cfg     Config
	page    *parser.Page
	space   coords.PageSpace
	proc    contentstream.Processor
	frags   []fragment
	// objects counts BT operators seen so far.
	objects int
}

func newInterpreter(ctx context.Context, doc *parser.Document, cache *fontCache, cfg Config, page *parser.Page) *interpreter {
	in := &interpreter{
		ctx:   ctx,
		doc:   doc,
		fonts: cache,
		cfg:   cfg,
		page:  page,
		space: page.Space(),
		proc:  contentstream.NewProcessor(),
	}
	for _, op := range []string{"Tj", "'", "\"", "TJ"} {
		in.proc.RegisterHandler(op, contentstream.HandlerFunc(in.show))
	}
	in.proc.RegisterHandler("BT", contentstream.HandlerFunc(func(*contentstream.ExecutionContext, contentstream.Operation) error {
		in.objects++
		return nil
	}))
	in.proc.RegisterHandler("Do", contentstream.HandlerFunc(in.form))
	return in
}

func (in *interpreter) run() ([]fragment, error) {
	content, err := in.doc.PageContent(in.ctx, in.page)
	if err != nil {
		return nil, &ExtractionError{Op: "content", Page: in.page.Index, Err: err}
	}
	ops, err := contentstream.Parse(content)
	if err != nil && in.fatal(err) {
		return nil, &ExtractionError{Op: "content", Page: in.page.Index, Err: err}
	}
	ec := contentstream.NewExecutionContext(in.page.Resources, coords.Identity())
	if err := in.proc.Process(in.ctx, ops, ec); err != nil {
		if in.ctx.Err() != nil {
			return nil, in.ctx.Err()
		}
		return nil, &ExtractionError{Op: "interpret", Page: in.page.Index, Err: err}
	}
	return in.frags, nil
}

// fatal consults the recovery strategy; tolerated errors keep whatever was
// parsed before the damage.
func (in *interpreter) fatal(err error) bool {
	action := in.doc.Recovery().OnError(in.ctx, err, recovery.Location{Component: "extractor"})
	if action == recovery.ActionFail {
		return true
	}
	in.cfg.Logger.Warn("damaged content stream",
		observability.Int("page", in.page.Index),
		observability.Error("error", err))
	return false
}

func (in *interpreter) show(ec *contentstream.ExecutionContext, op contentstream.Operation) error {
	var items []raw.Object
	if op.Operator == "TJ" {
		if len(op.Operands) > 0 {
			if arr, ok := raw.AsArray(op.Operands[0]); ok {
				items = arr.Items
			}
		}
	} else if len(op.Operands) > 0 {
		items = op.Operands[len(op.Operands)-1:]
	}
	ts := ec.TextState
	font := in.fonts.lookup(in.ctx, ec.Resources, ts.Font)
	scale := ts.HorizScale / 100
	for _, it := range items {
		if k, ok := raw.AsFloat(it); ok {
			ts.Advance(-k / 1000 * ts.FontSize * scale)
			continue
		}
		s, ok := raw.AsString(it)
		if !ok {
			continue
		}
		start := ts.TextMatrix
		var text strings.Builder
		for _, g := range font.glyphs(s) {
			tx := g.width/1000*ts.FontSize + ts.CharSpacing
			if g.space {
				tx += ts.WordSpacing
			}
			text.WriteString(g.text)
			ts.Advance(tx * scale)
		}
		in.emit(ec, font, start, ts.TextMatrix, text.String())
	}
	return nil
}

func (in *interpreter) emit(ec *contentstream.ExecutionContext, font *fontDecoder, start, end coords.Matrix, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	ts := ec.TextState
	ctm := ec.GraphicsState.CTM
	lo := ts.Rise + font.descent/1000*ts.FontSize
	hi := ts.Rise + font.ascent/1000*ts.FontSize
	s, e := start.Multiply(ctm), end.Multiply(ctm)
	rect := coords.Bounds(
		s.Transform(coords.Point{Y: lo}),
		s.Transform(coords.Point{Y: hi}),
		e.Transform(coords.Point{Y: lo}),
		e.Transform(coords.Point{Y: hi}),
	)
	base := in.space.FromUser(s.Transform(coords.Point{Y: ts.Rise}))
	in.frags = append(in.frags, fragment{
		text:     text,
		box:      in.space.BoxFromUser(rect),
		baseline: base.Y,
		size:     math.Abs(ts.FontSize) * s.ScaleY(),
		font:     font,
		object:   in.objects,
	})
}

func (in *interpreter) form(ec *contentstream.ExecutionContext, op contentstream.Operation) error {
	if len(op.Operands) == 0 {
		return nil
	}
	name, ok := raw.AsName(op.Operands[0])
	if !ok {
		return nil
	}
	xobjects, err := in.doc.ResolveDict(in.ctx, ec.Resources.Lookup("XObject"))
	if err != nil || xobjects == nil {
		return err
	}
	obj, err := in.doc.Resolve(in.ctx, xobjects.Lookup(name))
	if err != nil {
		return err
	}
	stream, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil
	}
	if subtype, _ := raw.AsName(stream.Dict.Lookup("Subtype")); subtype != "Form" {
		return nil
	}
	if ec.Depth >= in.doc.Limits().MaxXObjectDepth {
		in.cfg.Logger.Warn("form nesting limit reached",
			observability.Int("page", in.page.Index),
			observability.String("form", name))
		return nil
	}
	data, err := in.doc.StreamData(in.ctx, stream)
	if err != nil {
		if in.fatal(err) {
			return err
		}
		return nil
	}
	ops, err := contentstream.Parse(data)
	if err != nil && in.fatal(err) {
		return err
	}
	m, err := in.doc.Resolve(in.ctx, stream.Dict.Lookup("Matrix"))
	if err != nil {
		return err
	}
	matrix, _ := contentstream.MatrixOperand(m)
	resources, err := in.doc.ResolveDict(in.ctx, stream.Dict.Lookup("Resources"))
	if err != nil {
		return err
	}
	if resources == nil {
		resources = ec.Resources
	}
	ts := *ec.TextState
	child := &contentstream.ExecutionContext{
		GraphicsState: &contentstream.GraphicsState{
			CTM:       matrix.Multiply(ec.GraphicsState.CTM),
			LineWidth: ec.GraphicsState.LineWidth,
		},
		TextState: &ts,
		Resources: resources,
		Depth:     ec.Depth + 1,
	}
	return in.proc.Process(in.ctx, ops, child)
}

// mergeFragments joins fragments shown consecutively on one baseline in the
// same font. Within one text object a gap of at least 0.15 em becomes a
// space and more than 1.5 em starts a new run. Fragments from separate text
// objects join only when they touch.
func mergeFragments(frags []fragment, page int) []TextRun {
	var runs []TextRun
	var cur *fragment
	flush := func() {
		if cur == nil {
			return
		}
		text := norm.NFKC.String(strings.TrimSpace(cur.text))
		if text != "" {
			runs = append(runs, TextRun{Page: page, Box: cur.box, Text: text})
		}
		cur = nil
	}
	for i := range frags {
		f := frags[i]
		if cur != nil && joinable(cur, &f) {
			gap := f.box.X - cur.box.Right()
			if gap >= 0.15*cur.size && !strings.HasSuffix(cur.text, " ") && !strings.HasPrefix(f.text, " ") {
				cur.text += " "
			}
			cur.text += f.text
			cur.box = union(cur.box, f.box)
			continue
		}
		flush()
		cur = &f
	}
	flush()
	return runs
}

func joinable(a, b *fragment) bool {
	if a.font != b.font || a.size <= 0 {
		return false
	}
	if math.Abs(a.size-b.size) > 0.05*a.size {
		return false
	}
	if math.Abs(a.baseline-b.baseline) > 0.2*a.size {
		return false
	}
	gap := b.box.X - a.box.Right()
	limit := 1.5 * a.size
	if a.object != b.object {
		limit = 0.15 * a.size
	}
	return gap >= -0.5*a.size && gap <= limit
}

func union(a, b coords.Box) coords.Box {
	x := math.Min(a.X, b.X)
	y := math.Min(a.Y, b.Y)
	return coords.Box{
		X:      x,
		Y:      y,
		Width:  math.Max(a.Right(), b.Right()) - x,
		Height: math.Max(a.Bottom(), b.Bottom()) - y,
	}
}

// readingOrder groups runs into lines whose tops lie within half the smaller
// run height, then orders lines top-to-bottom and runs left-to-right.
func readingOrder(runs []TextRun) []TextRun {
	sorted := append([]TextRun(nil), runs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Box.Y < sorted[j].Box.Y })
	var lines [][]TextRun
	for _, r := range sorted {
		if n := len(lines); n > 0 {
			first := lines[n-1][0]
			tol := math.Min(first.Box.Height, r.Box.Height) / 2
			if r.Box.Y-first.Box.Y <= tol {
				lines[n-1] = append(lines[n-1], r)
				continue
			}
		}
		lines = append(lines, []TextRun{r})
	}
	out := sorted[:0]
	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool { return line[i].Box.X < line[j].Box.X })
		out = append(out, line...)
	}
	return out
}
