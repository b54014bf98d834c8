package raw

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Serialize renders an object in PDF syntax. Dictionary keys are written in
// sorted order so output is deterministic.
func Serialize(o Object) []byte {
	var b bytes.Buffer
	writeObject(&b, o)
	return b.Bytes()
}

func writeObject(b *bytes.Buffer, o Object) {
	switch v := o.(type) {
	case NameObj:
		b.WriteString("/" + NameLiteralEscape(v.Value()))
	case NumberObj:
		if v.IsInteger() {
			b.WriteString(strconv.FormatInt(v.Int(), 10))
			return
		}
		b.WriteString(FormatNumber(v.Float()))
	case BoolObj:
		if v.Value() {
			b.WriteString("true")
			return
		}
		b.WriteString("false")
	case NullObj:
		b.WriteString("null")
	case String:
		if v.IsHex() {
			b.WriteByte('<')
			b.WriteString(strings.ToUpper(hex.EncodeToString(v.Value())))
			b.WriteByte('>')
			return
		}
		b.Write(EscapeLiteralString(v.Value()))
	case *ArrayObj:
		b.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			writeObject(b, it)
		}
		b.WriteByte(']')
	case *DictObj:
		b.WriteString("<<")
		for _, k := range v.SortedKeys() {
			b.WriteString("/" + NameLiteralEscape(k) + " ")
			writeObject(b, v.KV[k])
		}
		b.WriteString(">>")
	case *StreamObj:
		writeObject(b, v.Dict)
		b.WriteString("\nstream\n")
		b.Write(v.Data)
		b.WriteString("\nendstream")
	case RefObj:
		fmt.Fprintf(b, "%d %d R", v.R.Num, v.R.Gen)
	default:
		b.WriteString("null")
	}
}

// FormatNumber writes a real with at most four decimals and no trailing zeros.
func FormatNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	s := strconv.FormatFloat(f, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}

// EscapeLiteralString quotes raw bytes as a (...) string.
func EscapeLiteralString(rawBytes []byte) []byte {
	var b bytes.Buffer
	b.WriteByte('(')
	for _, ch := range rawBytes {
		switch ch {
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		case '\b':
			b.WriteString("\\b")
		case '\f':
			b.WriteString("\\f")
		default:
			if ch < 0x20 || ch >= 0x80 {
				fmt.Fprintf(&b, "\\%03o", ch)
			} else {
				b.WriteByte(ch)
			}
		}
	}
	b.WriteByte(')')
	return b.Bytes()
}

// NameLiteralEscape applies #xx escapes to characters not allowed in a bare name.
func NameLiteralEscape(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch > 0x20 && ch < 0x7f && !strings.ContainsRune("()<>[]{}/%#", rune(ch)) {
			b.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&b, "#%02X", ch)
	}
	return b.String()
}
