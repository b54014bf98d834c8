package contentstream

import (
	"context"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/ir/raw"
)

// OpBBox represents the user-space bounding box of a painting operation.
type OpBBox struct {
	OpIndex  int
	Operator string
	Rect     coords.Rect
}

// Tracer calculates the bounding boxes of painted paths and shown text.
// Text width is approximated at half an em per byte.
type Tracer struct {
	proc    Processor
	pending []coords.Point
	out     []OpBBox
}

func NewTracer() *Tracer {
	t := &Tracer{proc: NewProcessor()}
	for _, op := range []string{"m", "l", "c", "v", "y", "re"} {
		t.proc.RegisterHandler(op, HandlerFunc(t.construct))
	}
	for _, op := range []string{"S", "s", "f", "F", "f*", "B", "B*", "b", "b*"} {
		t.proc.RegisterHandler(op, HandlerFunc(t.paint))
	}
	t.proc.RegisterHandler("n", HandlerFunc(func(*ExecutionContext, Operation) error { t.pending = nil; return nil }))
	for _, op := range []string{"Tj", "'", "\"", "TJ"} {
		t.proc.RegisterHandler(op, HandlerFunc(t.text))
	}
	return t
}

// Trace executes the operations virtually and returns their bounding boxes.
func (t *Tracer) Trace(ctx context.Context, ops []Operation) ([]OpBBox, error) {
	t.out = nil
	t.pending = nil
	ec := NewExecutionContext(raw.Dict(), coords.Identity())
	if err := t.proc.Process(ctx, ops, ec); err != nil {
		return nil, err
	}
	return t.out, nil
}

func (t *Tracer) construct(ec *ExecutionContext, op Operation) error {
	n := numbers(op.Operands)
	ctm := ec.GraphicsState.CTM
	add := func(x, y float64) {
		t.pending = append(t.pending, ctm.Transform(coords.Point{X: x, Y: y}))
	}
	switch {
	case op.Operator == "re" && len(n) == 4:
		add(n[0], n[1])
		add(n[0]+n[2], n[1])
		add(n[0], n[1]+n[3])
		add(n[0]+n[2], n[1]+n[3])
	case (op.Operator == "m" || op.Operator == "l") && len(n) == 2:
		add(n[0], n[1])
	case op.Operator == "c" && len(n) == 6:
		// Control points bound the curve.
		add(n[0], n[1])
		add(n[2], n[3])
		add(n[4], n[5])
	case (op.Operator == "v" || op.Operator == "y") && len(n) == 4:
		add(n[0], n[1])
		add(n[2], n[3])
	}
	return nil
}

func (t *Tracer) paint(ec *ExecutionContext, op Operation) error {
	if len(t.pending) == 0 {
		return nil
	}
	r := coords.Bounds(t.pending...)
	switch op.Operator {
	case "S", "s", "B", "B*", "b", "b*":
		// Strokes extend half the line width past the path.
		hw := ec.GraphicsState.LineWidth * ec.GraphicsState.CTM.ScaleX() / 2
		r = coords.Rect{LLX: r.LLX - hw, LLY: r.LLY - hw, URX: r.URX + hw, URY: r.URY + hw}
	}
	t.out = append(t.out, OpBBox{OpIndex: ec.Index, Operator: op.Operator, Rect: r})
	t.pending = nil
	return nil
}

func (t *Tracer) text(ec *ExecutionContext, op Operation) error {
	ts := ec.TextState
	width := 0.0
	var strs []raw.Object
	switch op.Operator {
	case "TJ":
		if arr, ok := raw.AsArray(firstOperand(op)); ok {
			strs = arr.Items
		}
	default:
		if len(op.Operands) > 0 {
			strs = op.Operands[len(op.Operands)-1:]
		}
	}
	for _, o := range strs {
		if s, ok := raw.AsString(o); ok {
			width += float64(len(s)) * 500
		} else if k, ok := raw.AsFloat(o); ok {
			width -= k
		}
	}
	width /= 1000
	m := ts.RenderMatrix(ec.GraphicsState.CTM)
	r := coords.Bounds(
		m.Transform(coords.Point{X: 0, Y: 0}),
		m.Transform(coords.Point{X: width, Y: 0}),
		m.Transform(coords.Point{X: 0, Y: 1}),
		m.Transform(coords.Point{X: width, Y: 1}),
	)
	ts.Advance(width * ts.FontSize * ts.HorizScale / 100)
	t.out = append(t.out, OpBBox{OpIndex: ec.Index, Operator: op.Operator, Rect: r})
	return nil
}

func firstOperand(op Operation) raw.Object {
	if len(op.Operands) == 0 {
		return nil
	}
	return op.Operands[0]
}
