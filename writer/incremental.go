package writer

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/wudi/pdfmark/contentstream"
	"github.com/wudi/pdfmark/filters"
	"github.com/wudi/pdfmark/ir/raw"
	"github.com/wudi/pdfmark/observability"
	"github.com/wudi/pdfmark/parser"
)

type impl struct {
	cfg          Config
	interceptors []Interceptor
}

// update accumulates the appended section.
type update struct {
	ctx          context.Context
	w            *impl
	base         []byte
	buf          bytes.Buffer
	next         int
	entries      xrefEntries
	interceptors []Interceptor
}

func (w *impl) Append(ctx context.Context, doc *parser.Document, overlays []Overlay, out io.Writer) (int64, error) {
	if doc == nil {
		return 0, errors.New("nil document")
	}
	pages, err := doc.Pages(ctx)
	if err != nil {
		return 0, fmt.Errorf("read pages: %w", err)
	}
	byPage, err := mergeOverlays(overlays, len(pages))
	if err != nil {
		return 0, err
	}

	u := &update{
		ctx:          ctx,
		w:            w,
		base:         doc.Bytes(),
		next:         doc.NextObjectNumber(),
		entries:      xrefEntries{},
		interceptors: w.interceptors,
	}
	if n := len(u.base); n > 0 && u.base[n-1] != '\n' && u.base[n-1] != '\r' {
		u.buf.WriteByte('\n')
	}

	for _, idx := range sortedPages(byPage) {
		if err := u.page(doc, pages[idx], byPage[idx]); err != nil {
			return 0, fmt.Errorf("page %d: %w", idx, err)
		}
	}
	if err := u.finish(doc); err != nil {
		return 0, err
	}

	n, err := out.Write(u.base)
	if err != nil {
		return int64(n), err
	}
	m, err := out.Write(u.buf.Bytes())
	total := int64(n) + int64(m)
	w.cfg.Logger.Debug("incremental update written",
		observability.Int("pages", len(byPage)),
		observability.Int("objects", len(u.entries)),
		observability.Int64("bytes", int64(m)))
	return total, err
}

func mergeOverlays(overlays []Overlay, pageCount int) (map[int]Overlay, error) {
	out := make(map[int]Overlay)
	for _, ov := range overlays {
		if ov.Page < 0 || ov.Page >= pageCount {
			return nil, fmt.Errorf("overlay page %d out of range (document has %d pages)", ov.Page, pageCount)
		}
		if len(ov.Ops) == 0 {
			continue
		}
		cur := out[ov.Page]
		cur.Page = ov.Page
		cur.Ops = append(append([]contentstream.Operation(nil), cur.Ops...), ov.Ops...)
		if len(ov.Fonts) > 0 && cur.Fonts == nil {
			cur.Fonts = make(map[string]*raw.DictObj)
		}
		for name, f := range ov.Fonts {
			cur.Fonts[name] = f
		}
		out[ov.Page] = cur
	}
	return out, nil
}

func sortedPages(m map[int]Overlay) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func (u *update) offset() int64 { return int64(len(u.base)) + int64(u.buf.Len()) }

func (u *update) alloc() raw.ObjectRef {
	ref := raw.ObjectRef{Num: u.next}
	u.next++
	return ref
}

func (u *update) write(ref raw.ObjectRef, obj raw.Object) error {
	for _, i := range u.interceptors {
		if err := i.BeforeWrite(u.ctx, ref, obj); err != nil {
			return err
		}
	}
	start := u.offset()
	u.entries[ref.Num] = xrefEntry{kind: entryInUse, offset: start, gen: ref.Gen}
	fmt.Fprintf(&u.buf, "%d %d obj\n", ref.Num, ref.Gen)
	u.buf.Write(raw.Serialize(obj))
	u.buf.WriteString("\nendobj\n")
	for _, i := range u.interceptors {
		if err := i.AfterWrite(u.ctx, ref, u.offset()-start); err != nil {
			return err
		}
	}
	return nil
}

// stream writes data as a new stream object, Flate-compressed unless disabled.
func (u *update) stream(data []byte, compress bool) (raw.RefObj, error) {
	dict := raw.Dict()
	if compress && !u.w.cfg.Uncompressed {
		enc, err := filters.EncodeFlate(data)
		if err != nil {
			return raw.RefObj{}, fmt.Errorf("compress content: %w", err)
		}
		data = enc
		dict.Set(raw.NameLiteral("Filter"), raw.NameLiteral("FlateDecode"))
	}
	dict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(data))))
	ref := u.alloc()
	if err := u.write(ref, raw.NewStream(dict, data)); err != nil {
		return raw.RefObj{}, err
	}
	return raw.Ref(ref.Num, ref.Gen), nil
}

// page wraps the existing content in q/Q so the overlay starts from the
// default graphics state, then rewrites the page object under its own
// number.
func (u *update) page(doc *parser.Document, p *parser.Page, ov Overlay) error {
	if p.Ref.Num == 0 {
		return errors.New("page is not an indirect object")
	}
	original, err := originalContents(u.ctx, doc, p)
	if err != nil {
		return err
	}

	res := p.Resources.Clone()
	rename, err := u.addFonts(doc, res, ov.Fonts)
	if err != nil {
		return err
	}
	ops := renameFonts(ov.Ops, rename)

	open, err := u.stream([]byte("q\n"), false)
	if err != nil {
		return err
	}
	var body bytes.Buffer
	body.WriteString("Q\nq\n")
	body.Write(contentstream.Serialize(ops))
	body.WriteString("Q\n")
	overlay, err := u.stream(body.Bytes(), true)
	if err != nil {
		return err
	}

	contents := raw.NewArray(open)
	contents.Items = append(contents.Items, original...)
	contents.Append(overlay)

	dict := p.Dict.Clone()
	dict.Set(raw.NameLiteral("Contents"), contents)
	dict.Set(raw.NameLiteral("Resources"), res)
	return u.write(p.Ref, dict)
}

func originalContents(ctx context.Context, doc *parser.Document, p *parser.Page) ([]raw.Object, error) {
	c := p.Dict.Lookup("Contents")
	if ref, ok := c.(raw.RefObj); ok {
		resolved, err := doc.Resolve(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve contents: %w", err)
		}
		if _, isStream := resolved.(*raw.StreamObj); isStream {
			return []raw.Object{ref}, nil
		}
		c = resolved
	}
	arr, ok := raw.AsArray(c)
	if !ok {
		return nil, nil
	}
	var out []raw.Object
	for _, it := range arr.Items {
		if r, ok := it.(raw.RefObj); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// addFonts writes each font as a new object and registers it in res under
// a free name. The returned map holds requested name to used name.
func (u *update) addFonts(doc *parser.Document, res *raw.DictObj, fonts map[string]*raw.DictObj) (map[string]string, error) {
	if len(fonts) == 0 {
		return nil, nil
	}
	existing, err := doc.ResolveDict(u.ctx, res.Lookup("Font"))
	if err != nil {
		return nil, fmt.Errorf("resolve fonts: %w", err)
	}
	fontDict := existing.Clone()
	names := make([]string, 0, len(fonts))
	for name := range fonts {
		names = append(names, name)
	}
	sort.Strings(names)

	rename := make(map[string]string, len(names))
	for _, name := range names {
		used := name
		for i := 1; fontDict.Lookup(used) != nil; i++ {
			used = fmt.Sprintf("%s%d", name, i)
		}
		ref := u.alloc()
		if err := u.write(ref, fonts[name]); err != nil {
			return nil, err
		}
		fontDict.Set(raw.NameLiteral(used), raw.Ref(ref.Num, ref.Gen))
		rename[name] = used
	}
	res.Set(raw.NameLiteral("Font"), fontDict)
	return rename, nil
}

func renameFonts(ops []contentstream.Operation, rename map[string]string) []contentstream.Operation {
	if len(rename) == 0 {
		return ops
	}
	out := make([]contentstream.Operation, len(ops))
	for i, op := range ops {
		out[i] = op
		if op.Operator != "Tf" || len(op.Operands) == 0 {
			continue
		}
		if name, ok := raw.AsName(op.Operands[0]); ok {
			if to, ok := rename[name]; ok && to != name {
				operands := append([]raw.Object(nil), op.Operands...)
				operands[0] = raw.NameLiteral(to)
				out[i].Operands = operands
			}
		}
	}
	return out
}

// finish appends the cross-reference section, trailer and startxref.
// A repaired source has no trustworthy /Prev target, so its section lists
// every object instead of chaining.
func (u *update) finish(doc *parser.Document) error {
	entries := u.entries
	prev := doc.StartXRef()
	if doc.Repaired() {
		entries = fullEntries(doc.XRef())
		for k, v := range u.entries {
			entries[k] = v
		}
		prev = 0
	}

	useStream := doc.XRefStream()
	switch u.w.cfg.XRef {
	case XRefTable:
		useStream = false
	case XRefStream:
		useStream = true
	}
	if entries.hasCompressed() {
		useStream = true
	}

	trailer := raw.Dict()
	src := doc.Trailer()
	for _, key := range []string{"Root", "Info"} {
		if v := src.Lookup(key); v != nil {
			trailer.Set(raw.NameLiteral(key), v)
		}
	}
	if prev > 0 {
		trailer.Set(raw.NameLiteral("Prev"), raw.NumberInt(prev))
	}
	trailer.Set(raw.NameLiteral("ID"), u.fileID(doc))

	start := u.offset()
	if useStream {
		ref := u.alloc()
		entries[ref.Num] = xrefEntry{kind: entryInUse, offset: start}
		index, rows := entries.stream()
		w := raw.NewArray()
		for _, n := range streamWidths {
			w.Append(raw.NumberInt(int64(n)))
		}
		trailer.Set(raw.NameLiteral("Type"), raw.NameLiteral("XRef"))
		trailer.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(u.next)))
		trailer.Set(raw.NameLiteral("Index"), index)
		trailer.Set(raw.NameLiteral("W"), w)
		if !u.w.cfg.Uncompressed {
			enc, err := filters.EncodeFlate(rows)
			if err != nil {
				return fmt.Errorf("compress xref stream: %w", err)
			}
			rows = enc
			trailer.Set(raw.NameLiteral("Filter"), raw.NameLiteral("FlateDecode"))
		}
		trailer.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(rows))))
		fmt.Fprintf(&u.buf, "%d 0 obj\n", ref.Num)
		u.buf.Write(raw.Serialize(raw.NewStream(trailer, rows)))
		u.buf.WriteString("\nendobj\n")
	} else {
		trailer.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(u.next)))
		u.buf.Write(entries.table())
		u.buf.WriteString("trailer\n")
		u.buf.Write(raw.Serialize(trailer))
		u.buf.WriteByte('\n')
	}
	fmt.Fprintf(&u.buf, "startxref\n%d\n%%%%EOF\n", start)
	return nil
}

// fileID keeps the permanent identifier of the source and derives the
// changing one from everything written so far.
func (u *update) fileID(doc *parser.Document) *raw.ArrayObj {
	var first []byte
	if ids, err := doc.Resolve(u.ctx, doc.Trailer().Lookup("ID")); err == nil {
		if arr, ok := raw.AsArray(ids); ok && arr.Len() > 0 {
			first, _ = raw.AsString(arr.Items[0])
		}
	}
	if len(first) == 0 {
		sum := md5.Sum(u.base)
		first = sum[:]
	}
	h := md5.New()
	h.Write(u.base)
	h.Write(u.buf.Bytes())
	return raw.NewArray(raw.HexStr(first), raw.HexStr(h.Sum(nil)))
}
