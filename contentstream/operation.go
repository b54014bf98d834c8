package contentstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfmark/ir/raw"
	"github.com/wudi/pdfmark/scanner"
)

// Operation is one operator with its operands. Inline images keep their
// dictionary entries as operands and the image bytes in Data.
type Operation struct {
	Operator string
	Operands []raw.Object
	Data     []byte
}

// Op builds an operation from numeric operands.
func Op(operator string, operands ...float64) Operation {
	objs := make([]raw.Object, len(operands))
	for i, f := range operands {
		objs[i] = Num(f)
	}
	return Operation{Operator: operator, Operands: objs}
}

// Num returns f as an integer object when it is whole, else as a real.
func Num(f float64) raw.NumberObj {
	if f == float64(int64(f)) && f > -1e15 && f < 1e15 {
		return raw.NumberInt(int64(f))
	}
	return raw.NumberFloat(f)
}

// Parse splits a decoded content stream into operations.
func Parse(data []byte) ([]Operation, error) {
	rd := scanner.NewObjectReader(scanner.New(data, scanner.Config{}))
	var ops []Operation
	var operands []raw.Object
	for {
		tok, err := rd.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return ops, err
		}
		switch tok.Type {
		case scanner.TokenInlineImage:
			ops = append(ops, Operation{Operator: "BI", Operands: operands, Data: tok.Bytes})
			operands = nil
			continue
		case scanner.TokenKeyword:
			switch tok.Str {
			case "BI":
				operands = nil
				continue
			case "]", ">>", ">", "{", "}":
				// Stray closers are ignored like most viewers do.
				continue
			}
			ops = append(ops, Operation{Operator: tok.Str, Operands: operands})
			operands = nil
			continue
		}
		rd.Unread(tok)
		obj, err := rd.ReadObject()
		if err != nil {
			return ops, fmt.Errorf("content stream operand at %d: %w", tok.Pos, err)
		}
		operands = append(operands, obj)
	}
	return ops, nil
}

// Serialize writes operations back to content-stream syntax, one per line.
func Serialize(ops []Operation) []byte {
	var b bytes.Buffer
	for _, op := range ops {
		if op.Operator == "BI" {
			b.WriteString("BI")
			for _, o := range op.Operands {
				b.WriteByte(' ')
				b.Write(raw.Serialize(o))
			}
			b.WriteString(" ID ")
			b.Write(op.Data)
			b.WriteString("\nEI\n")
			continue
		}
		for _, o := range op.Operands {
			b.Write(raw.Serialize(o))
			b.WriteByte(' ')
		}
		b.WriteString(op.Operator)
		b.WriteByte('\n')
	}
	return b.Bytes()
}
