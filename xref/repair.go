package xref

import (
	"context"
	"errors"
	"io"

	"github.com/wudi/pdfmark/filters"
	"github.com/wudi/pdfmark/ir/raw"
	"github.com/wudi/pdfmark/scanner"
	"github.com/wudi/pdfmark/security"
)

// repair scans the entire file to reconstruct the xref table.
// It looks for "<num> <gen> obj" patterns and "trailer" dictionaries; later
// definitions win, matching incremental-update semantics.
func repair(ctx context.Context, data []byte, limits security.Limits) (*table, error) {
	rd := scanner.NewObjectReader(scanner.New(data, scanner.Config{}))
	sec := newTable("repaired")
	var lastTrailer *raw.DictObj
	var root raw.Object
	var objStreams []*raw.StreamObj
	var objStreamNums []int

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := rd.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Skip invalid tokens during repair scan
			continue
		}

		switch {
		case tok.Type == scanner.TokenNumber && tok.IsInt:
			tokGen, err := rd.Next()
			if err != nil {
				continue
			}
			if tokGen.Type != scanner.TokenNumber || !tokGen.IsInt {
				rd.Unread(tokGen)
				continue
			}
			tokObj, err := rd.Next()
			if err != nil {
				continue
			}
			if tokObj.Type != scanner.TokenKeyword || tokObj.Str != "obj" {
				// tokGen could be the start of an object: "999 1 0 obj".
				if err := rd.Seek(tokGen.Pos); err != nil {
					return nil, err
				}
				continue
			}
			num := int(tok.Int)
			sec.entries[num] = entry{kind: entryInUse, offset: tok.Pos, gen: int(tokGen.Int)}
			after := rd.Scanner().Position()
			obj, err := rd.ReadObject()
			if err != nil {
				_ = rd.Seek(after)
				continue
			}
			d, ok := raw.AsDict(obj)
			if !ok {
				continue
			}
			switch typ, _ := raw.AsName(d.Lookup("Type")); typ {
			case "Catalog":
				root = raw.Ref(num, int(tokGen.Int))
			case "XRef":
				if lastTrailer == nil {
					lastTrailer = d.Clone()
				}
			case "ObjStm":
				if s, ok := obj.(*raw.StreamObj); ok {
					objStreams = append(objStreams, s)
					objStreamNums = append(objStreamNums, num)
				}
			}
		case tok.Type == scanner.TokenKeyword && tok.Str == "trailer":
			obj, err := rd.ReadObject()
			if err == nil {
				if dict, ok := obj.(*raw.DictObj); ok {
					lastTrailer = dict
				}
			}
		}
	}

	pipeline := filters.NewDefaultPipeline(filters.Limits{MaxDecompressedSize: limits.MaxDecompressedSize})
	for i, s := range objStreams {
		registerObjStream(ctx, sec, pipeline, objStreamNums[i], s)
	}

	if len(sec.entries) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}

	if lastTrailer == nil {
		lastTrailer = raw.Dict()
	} else {
		lastTrailer = lastTrailer.Clone()
	}
	for _, k := range []string{"Prev", "XRefStm", "Type", "W", "Index", "Length", "Filter", "DecodeParms"} {
		lastTrailer.Delete(k)
	}
	maxNum := 0
	for num := range sec.entries {
		maxNum = max(maxNum, num)
	}
	lastTrailer.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(maxNum+1)))
	if root != nil {
		if ref, ok := lastTrailer.Lookup("Root").(raw.RefObj); !ok || !sec.hasObject(ref.R.Num) {
			lastTrailer.Set(raw.NameLiteral("Root"), root)
		}
	}
	sec.trailer = lastTrailer
	return sec, nil
}

func (t *table) hasObject(num int) bool {
	e, ok := t.entries[num]
	return ok && e.kind != entryFree
}

// registerObjStream records the members of an object stream as compressed entries
// unless a direct definition was found.
func registerObjStream(ctx context.Context, sec *table, p *filters.Pipeline, streamNum int, s *raw.StreamObj) {
	decoded, err := p.DecodeStream(ctx, s)
	if err != nil {
		return
	}
	n, _ := raw.AsInt(s.Dict.Lookup("N"))
	rd := scanner.NewObjectReader(scanner.New(decoded, scanner.Config{}))
	for i := 0; i < int(n); i++ {
		numTok, err := rd.Next()
		if err != nil {
			return
		}
		if _, err := rd.Next(); err != nil {
			return
		}
		if numTok.Type != scanner.TokenNumber || !numTok.IsInt {
			return
		}
		num := int(numTok.Int)
		if _, ok := sec.entries[num]; !ok {
			sec.entries[num] = entry{kind: entryCompressed, stream: streamNum, index: i}
		}
	}
}

// Repair rebuilds a table by scanning data for object definitions.
func Repair(ctx context.Context, data []byte, limits security.Limits) (Table, error) {
	t, err := repair(ctx, data, limits.WithDefaults())
	if err != nil {
		return nil, err
	}
	return t, nil
}
