package scanner

import (
	"errors"
	"io"
	"testing"

	"github.com/wudi/pdfmark/ir/raw"
	"github.com/wudi/pdfmark/recovery"
)

func nextToken(t *testing.T, s *Scanner) Token {
	t.Helper()
	tok, err := s.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tok
}

func TestScanner_BasicTokens(t *testing.T) {
	s := New([]byte("%PDF-1.7\n1 0 obj\n<< /Name /Value /Nums [1 2 3] /Flag true /Null null >>\nendobj"), Config{})

	tok := nextToken(t, s)
	if tok.Type != TokenNumber || !tok.IsInt || tok.Int != 1 {
		t.Fatalf("expected first token number 1, got %+v", tok)
	}
	tok = nextToken(t, s)
	if tok.Type != TokenNumber || !tok.IsInt || tok.Int != 0 {
		t.Fatalf("expected generation number 0, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "obj" {
		t.Fatalf("expected obj keyword, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenDict {
		t.Fatalf("expected dict start, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Name" {
		t.Fatalf("expected Name key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Value" {
		t.Fatalf("expected Name value, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Nums" {
		t.Fatalf("expected Nums key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenArray {
		t.Fatalf("expected array start, got %+v", tok)
	}
	for i := int64(1); i <= 3; i++ {
		tok = nextToken(t, s)
		if tok.Type != TokenNumber || !tok.IsInt || tok.Int != i {
			t.Fatalf("expected array number %d, got %+v", i, tok)
		}
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "]" {
		t.Fatalf("expected array end, got %+v", tok)
	}
	nextToken(t, s) // /Flag
	if tok = nextToken(t, s); tok.Type != TokenBoolean || !tok.Bool {
		t.Fatalf("expected true, got %+v", tok)
	}
	nextToken(t, s) // /Null
	if tok = nextToken(t, s); tok.Type != TokenNull {
		t.Fatalf("expected null, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != ">>" {
		t.Fatalf("expected dict end, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "endobj" {
		t.Fatalf("expected endobj, got %+v", tok)
	}
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestScanner_References(t *testing.T) {
	s := New([]byte("5 0 R 0.8 0 0 RG 12 7 R"), Config{})
	tok := nextToken(t, s)
	if tok.Type != TokenRef || tok.Int != 5 || tok.Gen != 0 {
		t.Fatalf("expected ref 5 0, got %+v", tok)
	}
	// A color operator must not be read as a reference.
	for _, want := range []float64{0.8, 0, 0} {
		tok = nextToken(t, s)
		if tok.Type != TokenNumber || tok.Float != want {
			t.Fatalf("expected number %v, got %+v", want, tok)
		}
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "RG" {
		t.Fatalf("expected RG operator, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenRef || tok.Int != 12 || tok.Gen != 7 {
		t.Fatalf("expected ref 12 7, got %+v", tok)
	}
}

func TestScanner_Strings(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		hex  bool
	}{
		{"plain", "(Hello)", "Hello", false},
		{"nested", "(a (b) c)", "a (b) c", false},
		{"escapes", `(line\nbreak \(x\) \\)`, "line\nbreak (x) \\", false},
		{"octal", `(\101\102\7)`, "AB\a", false},
		{"continuation", "(ab\\\ncd)", "abcd", false},
		{"hex", "<48 65 6C6C6F>", "Hello", true},
		{"hex odd", "<414>", "A@", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tok := nextToken(t, New([]byte(tc.in), Config{}))
			if tok.Type != TokenString || string(tok.Bytes) != tc.want || tok.Hex != tc.hex {
				t.Fatalf("got %+v (%q), want %q", tok, tok.Bytes, tc.want)
			}
		})
	}
}

func TestScanner_NameEscapes(t *testing.T) {
	tok := nextToken(t, New([]byte("/A#20B"), Config{}))
	if tok.Type != TokenName || tok.Str != "A B" {
		t.Fatalf("unexpected name %+v", tok)
	}
}

func TestScanner_MalformedNumbers(t *testing.T) {
	tests := map[string]float64{"--5": 5, "5.": 5, "-.5": -0.5, "1.2.3": 1.2}
	for in, want := range tests {
		tok := nextToken(t, New([]byte(in), Config{}))
		if tok.Type != TokenNumber || tok.Float != want {
			t.Fatalf("%q: got %+v, want %v", in, tok, want)
		}
	}
}

func TestScanner_StreamWithLength(t *testing.T) {
	s := New([]byte("stream\r\nabc endstream endobj"), Config{})
	s.SetNextStreamLength(4)
	tok := nextToken(t, s)
	if tok.Type != TokenStream || string(tok.Bytes) != "abc " {
		t.Fatalf("unexpected stream token %+v", tok)
	}
	if tok = nextToken(t, s); tok.Str != "endobj" {
		t.Fatalf("expected endobj after stream, got %+v", tok)
	}
}

func TestScanner_StreamWrongLengthFallsBack(t *testing.T) {
	s := New([]byte("stream\nabcdef\nendstream"), Config{})
	s.SetNextStreamLength(2)
	tok := nextToken(t, s)
	if tok.Type != TokenStream || string(tok.Bytes) != "abcdef" {
		t.Fatalf("unexpected stream token %+v (%q)", tok, tok.Bytes)
	}
}

func TestScanner_StrictRecoveryFails(t *testing.T) {
	s := New([]byte("(unterminated"), Config{Recovery: recovery.NewStrictStrategy()})
	if _, err := s.Next(); err == nil {
		t.Fatalf("expected error for unterminated string")
	}
	lenient := recovery.NewLenientStrategy()
	s = New([]byte("(unterminated"), Config{Recovery: lenient})
	if tok := nextToken(t, s); string(tok.Bytes) != "unterminated" {
		t.Fatalf("unexpected token %+v", tok)
	}
	if lenient.Count() != 1 {
		t.Fatalf("expected one recorded error, got %d", lenient.Count())
	}
}

func TestScanner_InlineImage(t *testing.T) {
	s := New([]byte("BI /W 1 /H 1 ID \x00\xffEIx EI Q"), Config{})
	var img Token
	for {
		tok := nextToken(t, s)
		if tok.Type == TokenInlineImage {
			img = tok
			break
		}
	}
	if string(img.Bytes) != "\x00\xffEIx" {
		t.Fatalf("unexpected inline image data %q", img.Bytes)
	}
	if tok := nextToken(t, s); tok.Str != "Q" {
		t.Fatalf("expected Q after EI, got %+v", tok)
	}
}

func TestObjectReader_Indirect(t *testing.T) {
	data := []byte("4 0 obj\n<< /Length 5 0 R /Filter /FlateDecode >>\nstream\nhello\nendstream\nendobj\n5 0 obj 5 endobj")
	r := NewObjectReader(New(data, Config{}))
	r.Lengths = func(ref raw.ObjectRef) (int64, bool) {
		if ref.Num == 5 {
			return 5, true
		}
		return 0, false
	}
	ref, obj, err := r.ReadIndirect()
	if err != nil {
		t.Fatalf("read indirect: %v", err)
	}
	if ref.Num != 4 || ref.Gen != 0 {
		t.Fatalf("unexpected ref %v", ref)
	}
	stream, ok := obj.(*raw.StreamObj)
	if !ok || string(stream.Data) != "hello" {
		t.Fatalf("expected stream 'hello', got %#v", obj)
	}
	if name, _ := raw.AsName(stream.Dict.Lookup("Filter")); name != "FlateDecode" {
		t.Fatalf("unexpected filter %q", name)
	}
	ref, obj, err = r.ReadIndirect()
	if err != nil || ref.Num != 5 {
		t.Fatalf("second object: %v %v", ref, err)
	}
	if n, _ := raw.AsInt(obj); n != 5 {
		t.Fatalf("unexpected value %#v", obj)
	}
}

func TestObjectReader_NestedAndDictWithoutStream(t *testing.T) {
	r := NewObjectReader(New([]byte("<< /Kids [1 0 R << /A (x) >>] /N -2.5 >> endobj"), Config{}))
	obj, err := r.ReadObject()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	dict, ok := raw.AsDict(obj)
	if !ok {
		t.Fatalf("expected dict, got %#v", obj)
	}
	kids, _ := raw.AsArray(dict.Lookup("Kids"))
	if kids.Len() != 2 {
		t.Fatalf("expected 2 kids, got %d", kids.Len())
	}
	if f, _ := raw.AsFloat(dict.Lookup("N")); f != -2.5 {
		t.Fatalf("unexpected N %v", f)
	}
	tok, err := r.Next()
	if err != nil || tok.Str != "endobj" {
		t.Fatalf("expected endobj to remain, got %+v %v", tok, err)
	}
}

func TestObjectReader_Unterminated(t *testing.T) {
	r := NewObjectReader(New([]byte("[1 2"), Config{}))
	if _, err := r.ReadObject(); err == nil {
		t.Fatalf("expected error for unterminated array")
	}
}
