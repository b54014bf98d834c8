package contentstream

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/ir/raw"
)

type testHandler struct {
	calls int
	last  []raw.Object
}

func (h *testHandler) Handle(_ *ExecutionContext, op Operation) error {
	h.calls++
	h.last = op.Operands
	return nil
}

func TestProcessorDispatchesOperators(t *testing.T) {
	ops, err := Parse([]byte("BT /F1 12 Tf (Hello) Tj ET"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	p := NewProcessor()
	h := &testHandler{}
	p.RegisterHandler("Tj", h)

	ec := NewExecutionContext(raw.Dict(), coords.Identity())
	if err := p.Process(context.Background(), ops, ec); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if h.calls != 1 {
		t.Fatalf("expected handler to be called once, got %d", h.calls)
	}
	if s, ok := raw.AsString(h.last[0]); !ok || string(s) != "Hello" {
		t.Fatalf("unexpected operands: %v", h.last)
	}
	if ec.TextState.Font != "F1" || ec.TextState.FontSize != 12 {
		t.Fatalf("font state not applied: %+v", ec.TextState)
	}
}

func TestParseOperands(t *testing.T) {
	ops, err := Parse([]byte("q 1 0 0 1 10 20 cm /Im1 Do [(A) -250 (B)] TJ 0 0 RG Q"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var names []string
	for _, op := range ops {
		names = append(names, op.Operator)
	}
	if got := strings.Join(names, " "); got != "q cm Do TJ RG Q" {
		t.Fatalf("operators = %q", got)
	}
	if len(ops[1].Operands) != 6 {
		t.Fatalf("cm operands = %d", len(ops[1].Operands))
	}
	arr, ok := raw.AsArray(ops[3].Operands[0])
	if !ok || arr.Len() != 3 {
		t.Fatalf("TJ operand = %#v", ops[3].Operands)
	}
}

func TestParseInlineImage(t *testing.T) {
	ops, err := Parse([]byte("q BI /W 2 /H 1 /BPC 8 /CS /G ID \x00\xff EI Q"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ops) != 3 || ops[1].Operator != "BI" {
		t.Fatalf("ops = %+v", ops)
	}
	if string(ops[1].Data) != "\x00\xff" {
		t.Fatalf("image data = %q", ops[1].Data)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	src := []Operation{
		Op("q"),
		Op("rg", 0, 0.6, 0),
		Op("re", 10, 20, 16.5, 16),
		Op("f"),
		{Operator: "Tf", Operands: []raw.Object{raw.NameLiteral("F1"), Num(9)}},
		{Operator: "Tj", Operands: []raw.Object{raw.Str([]byte("a(b)"))}},
		Op("Q"),
	}
	out := Serialize(src)
	want := "q\n0 0.6 0 rg\n10 20 16.5 16 re\nf\n/F1 9 Tf\n(a\\(b\\)) Tj\nQ\n"
	if string(out) != want {
		t.Fatalf("serialize:\n%s\nwant:\n%s", out, want)
	}
	back, err := Parse(out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(back) != len(src) {
		t.Fatalf("reparsed %d ops, want %d", len(back), len(src))
	}
	if s, _ := raw.AsString(back[5].Operands[0]); string(s) != "a(b)" {
		t.Fatalf("string operand = %q", s)
	}
}

func TestStateSaveRestore(t *testing.T) {
	ops, _ := Parse([]byte("q 2 0 0 2 0 0 cm 3 w /F1 10 Tf Q"))
	ec := NewExecutionContext(raw.Dict(), coords.Identity())
	if err := NewProcessor().Process(context.Background(), ops, ec); err != nil {
		t.Fatalf("process: %v", err)
	}
	if ec.GraphicsState.CTM != coords.Identity() {
		t.Fatalf("ctm not restored: %v", ec.GraphicsState.CTM)
	}
	if ec.GraphicsState.LineWidth != 1 {
		t.Fatalf("line width not restored: %v", ec.GraphicsState.LineWidth)
	}
	if ec.TextState.FontSize != 0 {
		t.Fatalf("font size not restored: %v", ec.TextState.FontSize)
	}
}

func TestUnbalancedStateIsContained(t *testing.T) {
	ec := NewExecutionContext(raw.Dict(), coords.Identity())
	ec.GraphicsState.Save(ec.TextState)
	ec.GraphicsState.CTM = coords.Translate(5, 5)

	ops, _ := Parse([]byte("Q Q q q 1 0 0 1 7 7 cm"))
	if err := NewProcessor().Process(context.Background(), ops, ec); err != nil {
		t.Fatalf("process: %v", err)
	}
	if ec.GraphicsState.Depth() != 1 {
		t.Fatalf("depth = %d, want caller's 1", ec.GraphicsState.Depth())
	}
	if ec.GraphicsState.CTM != coords.Translate(5, 5) {
		t.Fatalf("ctm = %v", ec.GraphicsState.CTM)
	}
}

func TestTextPositioning(t *testing.T) {
	ops, _ := Parse([]byte("BT 14 TL 100 700 Td T* 10 0 Td ET"))
	ec := NewExecutionContext(raw.Dict(), coords.Identity())
	if err := NewProcessor().Process(context.Background(), ops, ec); err != nil {
		t.Fatalf("process: %v", err)
	}
	tm := ec.TextState.TextMatrix
	if tm[4] != 110 || tm[5] != 686 {
		t.Fatalf("text matrix = %v", tm)
	}
}

func TestTracerPaths(t *testing.T) {
	ops, _ := Parse([]byte("q 1 0 0 1 100 100 cm 0 0 10 20 re f Q 2 w 0 0 m 10 0 l S 5 5 m 6 6 l n"))
	boxes, err := NewTracer().Trace(context.Background(), ops)
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	if len(boxes) != 2 {
		t.Fatalf("got %d boxes: %+v", len(boxes), boxes)
	}
	fill := boxes[0]
	if fill.Operator != "f" || fill.OpIndex != 3 {
		t.Fatalf("fill = %+v", fill)
	}
	if fill.Rect != (coords.Rect{LLX: 100, LLY: 100, URX: 110, URY: 120}) {
		t.Fatalf("fill rect = %+v", fill.Rect)
	}
	stroke := boxes[1].Rect
	if stroke != (coords.Rect{LLX: -1, LLY: -1, URX: 11, URY: 1}) {
		t.Fatalf("stroke rect = %+v", stroke)
	}
}

func TestTracerText(t *testing.T) {
	ops, _ := Parse([]byte("BT /F1 10 Tf 50 700 Td (abcd) Tj ET"))
	boxes, err := NewTracer().Trace(context.Background(), ops)
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	if len(boxes) != 1 {
		t.Fatalf("boxes = %+v", boxes)
	}
	r := boxes[0].Rect
	if math.Abs(r.LLX-50) > 1e-9 || math.Abs(r.URX-70) > 1e-9 || math.Abs(r.URY-710) > 1e-9 {
		t.Fatalf("text rect = %+v", r)
	}
}

func TestPathOperations(t *testing.T) {
	var p Path
	p.MoveTo(0, 0).LineTo(4, 0).LineTo(4, 4).Close()
	moved := p.Transform(coords.Translate(1, 2))
	out := string(Serialize(moved.Operations()))
	want := "1 2 m\n5 2 l\n5 6 l\nh\n"
	if out != want {
		t.Fatalf("path ops:\n%s\nwant:\n%s", out, want)
	}
}
