package scanner

import (
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfmark/ir/raw"
)

// LengthResolver resolves an indirect /Length value while a stream is being read.
type LengthResolver func(ref raw.ObjectRef) (int64, bool)

// ObjectReader assembles raw objects from scanner tokens.
type ObjectReader struct {
	s        *Scanner
	pending  []Token
	Lengths  LengthResolver
	maxDepth int
}

func NewObjectReader(s *Scanner) *ObjectReader {
	return &ObjectReader{s: s, maxDepth: 256}
}

// Scanner exposes the underlying token source.
func (r *ObjectReader) Scanner() *Scanner { return r.s }

func (r *ObjectReader) Next() (Token, error) {
	if n := len(r.pending); n > 0 {
		tok := r.pending[n-1]
		r.pending = r.pending[:n-1]
		return tok, nil
	}
	return r.s.Next()
}

func (r *ObjectReader) Unread(tok Token) { r.pending = append(r.pending, tok) }

// Seek repositions the reader and drops any unread tokens.
func (r *ObjectReader) Seek(offset int64) error {
	r.pending = r.pending[:0]
	return r.s.Seek(offset)
}

// ReadObject reads one direct object.
func (r *ObjectReader) ReadObject() (raw.Object, error) {
	tok, err := r.Next()
	if err != nil {
		return nil, err
	}
	return r.objectFrom(tok, 0)
}

// ReadIndirect reads "num gen obj <object> endobj" at the current position.
func (r *ObjectReader) ReadIndirect() (raw.ObjectRef, raw.Object, error) {
	num, err := r.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	gen, err := r.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	kw, err := r.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	if num.Type != TokenNumber || !num.IsInt || gen.Type != TokenNumber || !gen.IsInt || kw.Type != TokenKeyword || kw.Str != "obj" {
		return raw.ObjectRef{}, nil, fmt.Errorf("expected object header at offset %d", num.Pos)
	}
	ref := raw.ObjectRef{Num: int(num.Int), Gen: int(gen.Int)}
	obj, err := r.ReadObject()
	if err != nil {
		return ref, nil, fmt.Errorf("object %s: %w", ref, err)
	}
	end, err := r.Next()
	if err == nil && !(end.Type == TokenKeyword && end.Str == "endobj") {
		// Missing endobj is common in damaged files; keep the object.
		r.Unread(end)
	}
	return ref, obj, nil
}

func (r *ObjectReader) objectFrom(tok Token, depth int) (raw.Object, error) {
	if depth > r.maxDepth {
		return nil, errors.New("object nesting too deep")
	}
	switch tok.Type {
	case TokenName:
		return raw.NameLiteral(tok.Str), nil
	case TokenNumber:
		if tok.IsInt {
			return raw.NumberInt(tok.Int), nil
		}
		return raw.NumberFloat(tok.Float), nil
	case TokenString:
		if tok.Hex {
			return raw.HexStr(tok.Bytes), nil
		}
		return raw.Str(tok.Bytes), nil
	case TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case TokenNull:
		return raw.NullObj{}, nil
	case TokenRef:
		return raw.Ref(int(tok.Int), tok.Gen), nil
	case TokenArray:
		return r.readArray(depth)
	case TokenDict:
		return r.readDictOrStream(depth)
	case TokenKeyword:
		return nil, fmt.Errorf("unexpected keyword %q at offset %d", tok.Str, tok.Pos)
	default:
		return nil, fmt.Errorf("unexpected %s token at offset %d", tok.Type, tok.Pos)
	}
}

func (r *ObjectReader) readArray(depth int) (raw.Object, error) {
	arr := raw.NewArray()
	for {
		tok, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("unterminated array")
			}
			return nil, err
		}
		if tok.Type == TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		obj, err := r.objectFrom(tok, depth+1)
		if err != nil {
			return nil, err
		}
		arr.Append(obj)
	}
}

func (r *ObjectReader) readDictOrStream(depth int) (raw.Object, error) {
	dict := raw.Dict()
	for {
		tok, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("unterminated dictionary")
			}
			return nil, err
		}
		if tok.Type == TokenKeyword && tok.Str == ">>" {
			break
		}
		if tok.Type != TokenName {
			return nil, fmt.Errorf("dictionary key must be a name at offset %d", tok.Pos)
		}
		valTok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if valTok.Type == TokenKeyword && valTok.Str == ">>" {
			// Key without value: treat as null and finish.
			dict.Set(raw.NameLiteral(tok.Str), raw.NullObj{})
			break
		}
		val, err := r.objectFrom(valTok, depth+1)
		if err != nil {
			return nil, err
		}
		dict.Set(raw.NameLiteral(tok.Str), val)
	}

	if len(r.pending) > 0 {
		return dict, nil
	}
	r.s.SetNextStreamLength(r.streamLength(dict))
	next, err := r.s.Next()
	if err != nil {
		r.s.SetNextStreamLength(-1)
		if errors.Is(err, io.EOF) {
			return dict, nil
		}
		return nil, err
	}
	if next.Type != TokenStream {
		r.s.SetNextStreamLength(-1)
		r.Unread(next)
		return dict, nil
	}
	return raw.NewStream(dict, next.Bytes), nil
}

func (r *ObjectReader) streamLength(dict *raw.DictObj) int64 {
	switch v := dict.Lookup("Length").(type) {
	case raw.NumberObj:
		return v.Int()
	case raw.RefObj:
		if r.Lengths != nil {
			if n, ok := r.Lengths(v.R); ok {
				return n
			}
		}
	}
	return -1
}
