package contentstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/ir/raw"
)

// ErrStateUnderflow is returned for a Q without a matching q.
var ErrStateUnderflow = errors.New("state stack empty")

// Processor interprets operations. State operators (q Q cm and the text
// state/positioning operators) are applied by the processor itself before
// any registered handler for the same operator runs.
type Processor interface {
	Process(ctx context.Context, ops []Operation, ec *ExecutionContext) error
	RegisterHandler(op string, h OperatorHandler)
}

type OperatorHandler interface {
	Handle(ec *ExecutionContext, op Operation) error
}

// HandlerFunc adapts a function to OperatorHandler.
type HandlerFunc func(ec *ExecutionContext, op Operation) error

func (f HandlerFunc) Handle(ec *ExecutionContext, op Operation) error { return f(ec, op) }

type ExecutionContext struct {
	GraphicsState *GraphicsState
	TextState     *TextState
	Resources     *raw.DictObj
	// Depth counts nested form XObjects.
	Depth int
	// Index is the position of the operation being handled.
	Index int
}

// NewExecutionContext starts with identity CTM and default text state.
func NewExecutionContext(resources *raw.DictObj, ctm coords.Matrix) *ExecutionContext {
	return &ExecutionContext{
		GraphicsState: &GraphicsState{CTM: ctm, LineWidth: 1},
		TextState:     NewTextState(),
		Resources:     resources,
	}
}

type GraphicsState struct {
	CTM       coords.Matrix
	LineWidth float64
	Text      TextState
	stack     []GraphicsState
}

// Save pushes the graphics state. Text state parameters are part of it.
func (gs *GraphicsState) Save(ts *TextState) {
	clone := *gs
	clone.stack = nil
	clone.Text = *ts
	gs.stack = append(gs.stack, clone)
}

func (gs *GraphicsState) Restore(ts *TextState) error {
	n := len(gs.stack)
	if n == 0 {
		return ErrStateUnderflow
	}
	top := gs.stack[n-1]
	stack := gs.stack[:n-1]
	*gs = top
	gs.stack = stack
	// The text matrices are not part of the graphics state.
	tm, tlm := ts.TextMatrix, ts.TextLineMatrix
	*ts = top.Text
	ts.TextMatrix, ts.TextLineMatrix = tm, tlm
	return nil
}

// Depth reports how many saved states are on the stack.
func (gs *GraphicsState) Depth() int { return len(gs.stack) }

type TextState struct {
	Font           string
	FontSize       float64
	CharSpacing    float64
	WordSpacing    float64
	HorizScale     float64 // percent
	Leading        float64
	Rise           float64
	RenderMode     TextRenderMode
	TextMatrix     coords.Matrix
	TextLineMatrix coords.Matrix
}

func NewTextState() *TextState {
	return &TextState{HorizScale: 100, TextMatrix: coords.Identity(), TextLineMatrix: coords.Identity()}
}

// MoveLine implements Td.
func (ts *TextState) MoveLine(tx, ty float64) {
	ts.TextLineMatrix = coords.Translate(tx, ty).Multiply(ts.TextLineMatrix)
	ts.TextMatrix = ts.TextLineMatrix
}

// NextLine implements T*.
func (ts *TextState) NextLine() { ts.MoveLine(0, -ts.Leading) }

// Advance moves the text matrix by tx unscaled text-space units.
func (ts *TextState) Advance(tx float64) {
	ts.TextMatrix = coords.Translate(tx, 0).Multiply(ts.TextMatrix)
}

// RenderMatrix is the text rendering matrix for the current glyph origin.
func (ts *TextState) RenderMatrix(ctm coords.Matrix) coords.Matrix {
	params := coords.Matrix{ts.FontSize * ts.HorizScale / 100, 0, 0, ts.FontSize, 0, ts.Rise}
	return params.Multiply(ts.TextMatrix).Multiply(ctm)
}

type simpleProcessor struct{ handlers map[string]OperatorHandler }

func NewProcessor() Processor { return &simpleProcessor{handlers: make(map[string]OperatorHandler)} }

func (p *simpleProcessor) RegisterHandler(op string, h OperatorHandler) { p.handlers[op] = h }

func (p *simpleProcessor) Process(ctx context.Context, ops []Operation, ec *ExecutionContext) error {
	gs, ts := ec.GraphicsState, ec.TextState
	baseDepth := gs.Depth()
	for i, op := range ops {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		nums := numbers(op.Operands)
		switch op.Operator {
		case "q":
			gs.Save(ts)
		case "Q":
			// Unbalanced Q in a nested stream must not pop the caller's state.
			if gs.Depth() > baseDepth {
				if err := gs.Restore(ts); err != nil {
					return err
				}
			}
		case "cm":
			if len(nums) == 6 {
				gs.CTM = matrixOf(nums).Multiply(gs.CTM)
			}
		case "w":
			if len(nums) == 1 {
				gs.LineWidth = nums[0]
			}
		case "BT":
			ts.TextMatrix = coords.Identity()
			ts.TextLineMatrix = coords.Identity()
		case "Tf":
			if len(op.Operands) == 2 {
				if name, ok := raw.AsName(op.Operands[0]); ok {
					ts.Font = name
				}
				if size, ok := raw.AsFloat(op.Operands[1]); ok {
					ts.FontSize = size
				}
			}
		case "Tc":
			if len(nums) == 1 {
				ts.CharSpacing = nums[0]
			}
		case "Tw":
			if len(nums) == 1 {
				ts.WordSpacing = nums[0]
			}
		case "Tz":
			if len(nums) == 1 {
				ts.HorizScale = nums[0]
			}
		case "TL":
			if len(nums) == 1 {
				ts.Leading = nums[0]
			}
		case "Ts":
			if len(nums) == 1 {
				ts.Rise = nums[0]
			}
		case "Tr":
			if len(nums) == 1 {
				ts.RenderMode = TextRenderMode(nums[0])
			}
		case "Tm":
			if len(nums) == 6 {
				ts.TextLineMatrix = matrixOf(nums)
				ts.TextMatrix = ts.TextLineMatrix
			}
		case "Td":
			if len(nums) == 2 {
				ts.MoveLine(nums[0], nums[1])
			}
		case "TD":
			if len(nums) == 2 {
				ts.Leading = -nums[1]
				ts.MoveLine(nums[0], nums[1])
			}
		case "T*", "'":
			ts.NextLine()
		case "\"":
			if len(op.Operands) == 3 {
				if aw, ok := raw.AsFloat(op.Operands[0]); ok {
					ts.WordSpacing = aw
				}
				if ac, ok := raw.AsFloat(op.Operands[1]); ok {
					ts.CharSpacing = ac
				}
			}
			ts.NextLine()
		}
		if h, ok := p.handlers[op.Operator]; ok {
			ec.Index = i
			if err := h.Handle(ec, op); err != nil {
				return fmt.Errorf("operator %s: %w", op.Operator, err)
			}
		}
	}
	// Drop states a nested stream saved but never restored.
	for gs.Depth() > baseDepth {
		if err := gs.Restore(ts); err != nil {
			return err
		}
	}
	return nil
}

// numbers returns the operands when all of them are numeric.
func numbers(operands []raw.Object) []float64 {
	out := make([]float64, 0, len(operands))
	for _, o := range operands {
		f, ok := raw.AsFloat(o)
		if !ok {
			return nil
		}
		out = append(out, f)
	}
	return out
}

func matrixOf(v []float64) coords.Matrix {
	return coords.Matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
}

// MatrixOperand reads a six-number array such as a form /Matrix.
func MatrixOperand(obj raw.Object) (coords.Matrix, bool) {
	v, ok := raw.FloatArray(obj)
	if !ok || len(v) != 6 {
		return coords.Identity(), false
	}
	return matrixOf(v), true
}
