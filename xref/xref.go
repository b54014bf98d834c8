package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/wudi/pdfmark/filters"
	"github.com/wudi/pdfmark/ir/raw"
	"github.com/wudi/pdfmark/recovery"
	"github.com/wudi/pdfmark/scanner"
	"github.com/wudi/pdfmark/security"
)

// ErrNoXRef is returned when no usable cross-reference data exists and repair is not allowed.
var ErrNoXRef = errors.New("xref: no cross-reference data")

// Table holds the merged object locations of every revision.
type Table interface {
	Lookup(objNum int) (offset int64, gen int, found bool)
	ObjStream(objNum int) (stream int, index int, found bool)
	Objects() []int
	Type() string
	Trailer() *raw.DictObj
}

// Resolver locates and parses xref information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, data []byte) (Table, error)
	Linearized() bool
	Trailer() *raw.DictObj
	// StartXRef is the offset of the newest section, as named by the final startxref.
	StartXRef() int64
	Incremental() []Table
}

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
	Limits       security.Limits
}

func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = security.DefaultLimits().MaxXRefDepth
	}
	cfg.Limits = cfg.Limits.WithDefaults()
	return &resolver{cfg: cfg}
}

type entryKind int

const (
	entryFree entryKind = iota
	entryInUse
	entryCompressed
)

type entry struct {
	kind   entryKind
	offset int64
	gen    int
	stream int
	index  int
}

type table struct {
	kind    string
	entries map[int]entry
	trailer *raw.DictObj
}

func newTable(kind string) *table { return &table{kind: kind, entries: make(map[int]entry)} }

func (t *table) Lookup(objNum int) (int64, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.kind != entryInUse {
		return 0, 0, false
	}
	return e.offset, e.gen, true
}

func (t *table) ObjStream(objNum int) (int, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.kind != entryCompressed {
		return 0, 0, false
	}
	return e.stream, e.index, true
}

func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.kind != entryFree {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func (t *table) Type() string          { return t.kind }
func (t *table) Trailer() *raw.DictObj { return t.trailer }

// mergeOlder copies entries from an older section without overriding newer ones.
func (t *table) mergeOlder(older *table) {
	for num, e := range older.entries {
		if _, ok := t.entries[num]; !ok {
			t.entries[num] = e
		}
	}
}

type resolver struct {
	cfg        ResolverConfig
	linearized bool
	startxref  int64
	trailer    *raw.DictObj
	sections   []Table
}

func (r *resolver) Linearized() bool      { return r.linearized }
func (r *resolver) Trailer() *raw.DictObj { return r.trailer }
func (r *resolver) StartXRef() int64      { return r.startxref }
func (r *resolver) Incremental() []Table  { return r.sections }

func (r *resolver) Resolve(ctx context.Context, data []byte) (Table, error) {
	r.linearized = detectLinearized(data)
	merged, err := r.resolveChain(ctx, data)
	if err == nil {
		err = validateSize(merged)
		if err != nil && r.allow(ctx, err, 0) {
			err = nil
		}
	}
	if err != nil {
		if !r.allow(ctx, err, 0) {
			return nil, fmt.Errorf("%w: %v", ErrNoXRef, err)
		}
		repaired, rerr := repair(ctx, data, r.cfg.Limits)
		if rerr != nil {
			return nil, fmt.Errorf("%w: %v (repair: %v)", ErrNoXRef, err, rerr)
		}
		r.trailer = repaired.trailer
		r.sections = []Table{repaired}
		return repaired, nil
	}
	r.trailer = merged.trailer
	return merged, nil
}

// allow asks the recovery strategy whether err may be worked around.
func (r *resolver) allow(ctx context.Context, err error, offset int64) bool {
	if r.cfg.Recovery == nil {
		return false
	}
	return r.cfg.Recovery.OnError(ctx, err, recovery.Location{ByteOffset: offset, Component: "xref"}) != recovery.ActionFail
}

func (r *resolver) resolveChain(ctx context.Context, data []byte) (*table, error) {
	start, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	r.startxref = start
	r.sections = nil

	var merged *table
	visited := make(map[int64]bool)
	offset := start
	for depth := 0; ; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= r.cfg.MaxXRefDepth {
			return nil, fmt.Errorf("xref chain deeper than %d", r.cfg.MaxXRefDepth)
		}
		if visited[offset] {
			break
		}
		visited[offset] = true

		sec, err := r.readSection(ctx, data, offset)
		if err != nil {
			if merged != nil && r.allow(ctx, err, offset) {
				// Older revisions are unreadable; keep what the newer ones describe.
				break
			}
			return nil, err
		}
		r.sections = append(r.sections, sec)
		if merged == nil {
			merged = newTable(sec.kind)
			merged.trailer = sec.trailer.Clone()
		} else {
			for _, k := range sec.trailer.SortedKeys() {
				if merged.trailer.Lookup(k) == nil {
					merged.trailer.Set(raw.NameLiteral(k), sec.trailer.Lookup(k))
				}
			}
		}
		merged.mergeOlder(sec)

		prev, ok := raw.AsInt(sec.trailer.Lookup("Prev"))
		if !ok || prev <= 0 {
			break
		}
		offset = prev
	}
	merged.trailer.Delete("Prev")
	merged.trailer.Delete("XRefStm")
	return merged, nil
}

// readSection parses one xref table (plus a hybrid /XRefStm) or one xref stream at offset.
func (r *resolver) readSection(ctx context.Context, data []byte, offset int64) (*table, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, fmt.Errorf("xref offset out of range: %d", offset)
	}
	rest := bytes.TrimLeft(data[offset:], " \t\r\n\f\x00")
	pos := int64(len(data) - len(rest))
	if bytes.HasPrefix(rest, []byte("xref")) {
		sec, err := r.readTable(data, pos+4)
		if err != nil {
			return nil, err
		}
		if stm, ok := raw.AsInt(sec.trailer.Lookup("XRefStm")); ok && stm > 0 {
			hybrid, err := r.readStream(ctx, data, stm)
			if err != nil {
				if !r.allow(ctx, err, stm) {
					return nil, err
				}
			} else {
				sec.mergeOlder(hybrid)
			}
		}
		return sec, nil
	}
	return r.readStream(ctx, data, pos)
}

func (r *resolver) readTable(data []byte, pos int64) (*table, error) {
	rd := scanner.NewObjectReader(scanner.New(data, scanner.Config{}))
	if err := rd.Seek(pos); err != nil {
		return nil, err
	}
	sec := newTable("table")
	firstSubsection := true
	for {
		tok, err := rd.Next()
		if err != nil {
			return nil, fmt.Errorf("xref table: %w", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			break
		}
		countTok, err := rd.Next()
		if err != nil {
			return nil, fmt.Errorf("xref table: %w", err)
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt || countTok.Type != scanner.TokenNumber || !countTok.IsInt {
			return nil, fmt.Errorf("invalid xref subsection header at offset %d", tok.Pos)
		}
		startObj, count := int(tok.Int), int(countTok.Int)
		for i := 0; i < count; i++ {
			offTok, err1 := rd.Next()
			genTok, err2 := rd.Next()
			kindTok, err3 := rd.Next()
			if err := errors.Join(err1, err2, err3); err != nil {
				return nil, errors.New("unexpected end of xref section")
			}
			if offTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber || kindTok.Type != scanner.TokenKeyword {
				return nil, fmt.Errorf("invalid xref entry at offset %d", offTok.Pos)
			}
			// Writers sometimes number the first subsection from 1 while still listing the free head.
			if firstSubsection && i == 0 && startObj == 1 && offTok.Int == 0 && genTok.Int == 65535 && kindTok.Str == "f" {
				startObj = 0
			}
			num := startObj + i
			if _, seen := sec.entries[num]; seen {
				continue
			}
			switch kindTok.Str {
			case "n":
				sec.entries[num] = entry{kind: entryInUse, offset: offTok.Int, gen: int(genTok.Int)}
			case "f":
				sec.entries[num] = entry{kind: entryFree, gen: int(genTok.Int)}
			default:
				return nil, fmt.Errorf("invalid xref entry type %q", kindTok.Str)
			}
		}
		firstSubsection = false
	}
	obj, err := rd.ReadObject()
	if err != nil {
		return nil, fmt.Errorf("xref trailer: %w", err)
	}
	trailer, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, errors.New("xref trailer is not a dictionary")
	}
	sec.trailer = trailer
	return sec, nil
}

func (r *resolver) readStream(ctx context.Context, data []byte, pos int64) (*table, error) {
	rd := scanner.NewObjectReader(scanner.New(data, scanner.Config{}))
	if err := rd.Seek(pos); err != nil {
		return nil, err
	}
	_, obj, err := rd.ReadIndirect()
	if err != nil {
		return nil, fmt.Errorf("xref stream: %w", err)
	}
	stream, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("no xref section at offset %d", pos)
	}
	if typ, _ := raw.AsName(stream.Dict.Lookup("Type")); typ != "XRef" {
		return nil, fmt.Errorf("object at offset %d is not an xref stream", pos)
	}
	pipeline := filters.NewDefaultPipeline(filters.Limits{MaxDecompressedSize: r.cfg.Limits.MaxDecompressedSize})
	decoded, err := pipeline.DecodeStream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("decode xref stream: %w", err)
	}
	sec := newTable("xref-stream")
	sec.trailer = stream.Dict.Clone()
	for _, k := range []string{"Type", "W", "Index", "Length", "Filter", "DecodeParms"} {
		sec.trailer.Delete(k)
	}
	if err := parseStreamEntries(sec, stream.Dict, decoded); err != nil {
		return nil, err
	}
	return sec, nil
}

func parseStreamEntries(sec *table, dict *raw.DictObj, decoded []byte) error {
	w, ok := raw.FloatArray(dict.Lookup("W"))
	if !ok || len(w) != 3 {
		return errors.New("xref stream /W must have three entries")
	}
	widths := [3]int{int(w[0]), int(w[1]), int(w[2])}
	rowLen := widths[0] + widths[1] + widths[2]
	if rowLen <= 0 || widths[0] < 0 || widths[1] < 0 || widths[2] < 0 {
		return errors.New("invalid xref stream /W")
	}
	size, _ := raw.AsInt(dict.Lookup("Size"))
	index := []float64{0, float64(size)}
	if idx, ok := raw.FloatArray(dict.Lookup("Index")); ok && len(idx)%2 == 0 && len(idx) > 0 {
		index = idx
	}
	pos := 0
	for i := 0; i < len(index); i += 2 {
		start, count := int(index[i]), int(index[i+1])
		for j := 0; j < count; j++ {
			if pos+rowLen > len(decoded) {
				return nil
			}
			row := decoded[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1)
			if widths[0] > 0 {
				typ = readField(row[:widths[0]])
			}
			f2 := readField(row[widths[0] : widths[0]+widths[1]])
			f3 := readField(row[widths[0]+widths[1]:])
			num := start + j
			if _, seen := sec.entries[num]; seen {
				continue
			}
			switch typ {
			case 0:
				sec.entries[num] = entry{kind: entryFree, gen: int(f3)}
			case 1:
				sec.entries[num] = entry{kind: entryInUse, offset: f2, gen: int(f3)}
			case 2:
				sec.entries[num] = entry{kind: entryCompressed, stream: int(f2), index: int(f3)}
			}
		}
	}
	return nil
}

func readField(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func findStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, errors.New("startxref not found")
	}
	rest := bytes.TrimLeft(data[idx+len("startxref"):], " \t\r\n\f")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, errors.New("startxref has no offset")
	}
	v, err := strconv.ParseInt(string(rest[:end]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref: %w", err)
	}
	if v <= 0 || v >= int64(len(data)) {
		return 0, fmt.Errorf("xref offset out of range: %d", v)
	}
	return v, nil
}

func validateSize(t *table) error {
	size, ok := raw.AsInt(t.trailer.Lookup("Size"))
	if !ok {
		return errors.New("trailer missing /Size")
	}
	for num, e := range t.entries {
		if e.kind != entryFree && int64(num) >= size {
			return fmt.Errorf("trailer /Size %d does not cover object %d", size, num)
		}
	}
	return nil
}

// detectLinearized reports whether the first object carries a /Linearized dictionary.
func detectLinearized(data []byte) bool {
	head := data
	if len(head) > 2048 {
		head = head[:2048]
	}
	idx := bytes.Index(head, []byte(" obj"))
	if idx < 0 {
		return false
	}
	start := bytes.LastIndexAny(head[:idx], "\r\n")
	rd := scanner.NewObjectReader(scanner.New(data, scanner.Config{}))
	if err := rd.Seek(int64(start + 1)); err != nil {
		return false
	}
	_, obj, err := rd.ReadIndirect()
	if err != nil {
		return false
	}
	d, ok := raw.AsDict(obj)
	return ok && d.Lookup("Linearized") != nil
}
