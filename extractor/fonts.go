package extractor

import (
	"context"
	"sort"

	"github.com/wudi/pdfmark/fonts"
	"github.com/wudi/pdfmark/ir/raw"
	"github.com/wudi/pdfmark/parser"
)

type glyph struct {
	text  string
	width float64 // 1/1000 em
	// space marks the single-byte code 32, the only code word spacing applies to.
	space bool
}

type fontDecoder struct {
	cmap         *toUnicodeMap
	enc          *fonts.Encoding
	twoByte      bool
	widths       map[int]float64
	defaultWidth float64
	metrics      fonts.Metrics
	ascent       float64
	descent      float64
}

var fallbackFont = &fontDecoder{
	enc:          fonts.BaseEncoding("WinAnsiEncoding"),
	defaultWidth: 500,
	metrics:      fonts.Default,
	ascent:       fonts.Default.Ascent,
	descent:      fonts.Default.Descent,
}

func (f *fontDecoder) glyphs(data []byte) []glyph {
	var out []glyph
	for len(data) > 0 {
		var g glyph
		var code []byte
		if f.cmap != nil {
			if text, c, ok := f.cmap.next(data); ok {
				g.text, code = text, c
			}
		}
		if code == nil {
			n := 1
			if f.twoByte && len(data) >= 2 {
				n = 2
			}
			code = data[:n]
			if !f.twoByte {
				g.text = f.enc.Decode(code)
			}
		}
		data = data[len(code):]
		cid := bytesToInt(code)
		g.space = len(code) == 1 && code[0] == ' '
		g.width = f.width(cid)
		out = append(out, g)
	}
	return out
}

func (f *fontDecoder) width(code int) float64 {
	if w, ok := f.widths[code]; ok {
		return w
	}
	if !f.twoByte && f.metrics.Family != "" && code < 256 {
		return f.metrics.Width(byte(code))
	}
	return f.defaultWidth
}

// fontCache shares decoders across the pages of one document handle.
type fontCache struct {
	doc   *parser.Document
	byRef map[raw.ObjectRef]*fontDecoder
	byPtr map[*raw.DictObj]*fontDecoder
}

func newFontCache(doc *parser.Document) *fontCache {
	return &fontCache{
		doc:   doc,
		byRef: make(map[raw.ObjectRef]*fontDecoder),
		byPtr: make(map[*raw.DictObj]*fontDecoder),
	}
}

func (c *fontCache) lookup(ctx context.Context, resources *raw.DictObj, name string) *fontDecoder {
	fontsDict, err := c.doc.ResolveDict(ctx, resources.Lookup("Font"))
	if err != nil || fontsDict == nil {
		return fallbackFont
	}
	obj := fontsDict.Lookup(name)
	if obj == nil {
		return fallbackFont
	}
	if ref, ok := obj.(raw.RefObj); ok {
		if f, ok := c.byRef[ref.R]; ok {
			return f
		}
		f := c.load(ctx, obj)
		c.byRef[ref.R] = f
		return f
	}
	dict, _ := raw.AsDict(obj)
	if f, ok := c.byPtr[dict]; ok {
		return f
	}
	f := c.load(ctx, obj)
	c.byPtr[dict] = f
	return f
}

func (c *fontCache) load(ctx context.Context, obj raw.Object) *fontDecoder {
	dict, err := c.doc.ResolveDict(ctx, obj)
	if err != nil || dict == nil {
		return fallbackFont
	}
	base, _ := raw.AsName(dict.Lookup("BaseFont"))
	subtype, _ := raw.AsName(dict.Lookup("Subtype"))
	metrics, _ := fonts.Standard(base)
	f := &fontDecoder{
		metrics:      metrics,
		defaultWidth: metrics.Width(' '),
		ascent:       metrics.Ascent,
		descent:      metrics.Descent,
		widths:       make(map[int]float64),
	}
	if tu := dict.Lookup("ToUnicode"); tu != nil {
		if s, err := c.doc.Resolve(ctx, tu); err == nil {
			if stream, ok := s.(*raw.StreamObj); ok {
				if data, err := c.doc.StreamData(ctx, stream); err == nil && len(data) > 0 {
					f.cmap = parseToUnicodeCMap(data)
				}
			}
		}
	}

	descriptorOwner := dict
	if subtype == "Type0" {
		f.twoByte = true
		f.defaultWidth = 1000
		if desc := c.descendant(ctx, dict); desc != nil {
			descriptorOwner = desc
			if dw, err := c.doc.Resolve(ctx, desc.Lookup("DW")); err == nil {
				if v, ok := raw.AsFloat(dw); ok {
					f.defaultWidth = v
				}
			}
			c.cidWidths(ctx, desc.Lookup("W"), f.widths)
		}
	} else {
		f.enc = c.encoding(ctx, dict.Lookup("Encoding"))
		c.simpleWidths(ctx, dict, f.widths)
	}

	if fd, _ := c.doc.ResolveDict(ctx, descriptorOwner.Lookup("FontDescriptor")); fd != nil {
		asc, okA := c.number(ctx, fd.Lookup("Ascent"))
		desc, okD := c.number(ctx, fd.Lookup("Descent"))
		if okA && okD && asc > 0 && desc <= 0 {
			f.ascent, f.descent = asc, desc
		}
		if mw, ok := c.number(ctx, fd.Lookup("MissingWidth")); ok && mw > 0 && !f.twoByte {
			f.defaultWidth = mw
		}
	}
	return f
}

func (c *fontCache) number(ctx context.Context, obj raw.Object) (float64, bool) {
	if obj == nil {
		return 0, false
	}
	v, err := c.doc.Resolve(ctx, obj)
	if err != nil {
		return 0, false
	}
	return raw.AsFloat(v)
}

func (c *fontCache) descendant(ctx context.Context, dict *raw.DictObj) *raw.DictObj {
	arrObj, err := c.doc.Resolve(ctx, dict.Lookup("DescendantFonts"))
	if err != nil {
		return nil
	}
	arr, ok := raw.AsArray(arrObj)
	if !ok || arr.Len() == 0 {
		return nil
	}
	desc, _ := c.doc.ResolveDict(ctx, arr.Items[0])
	return desc
}

func (c *fontCache) encoding(ctx context.Context, obj raw.Object) *fonts.Encoding {
	if obj == nil {
		return fonts.BaseEncoding("WinAnsiEncoding")
	}
	resolved, err := c.doc.Resolve(ctx, obj)
	if err != nil {
		return fonts.BaseEncoding("WinAnsiEncoding")
	}
	if name, ok := raw.AsName(resolved); ok {
		return fonts.BaseEncoding(name)
	}
	dict, ok := raw.AsDict(resolved)
	if !ok {
		return fonts.BaseEncoding("WinAnsiEncoding")
	}
	base, _ := raw.AsName(dict.Lookup("BaseEncoding"))
	enc := fonts.BaseEncoding(base)
	diffObj, err := c.doc.Resolve(ctx, dict.Lookup("Differences"))
	if err != nil {
		return enc
	}
	if arr, ok := raw.AsArray(diffObj); ok {
		diffs := make([]any, 0, arr.Len())
		for _, it := range arr.Items {
			if n, ok := raw.AsInt(it); ok {
				diffs = append(diffs, int(n))
			} else if name, ok := raw.AsName(it); ok {
				diffs = append(diffs, name)
			}
		}
		enc.Apply(diffs)
	}
	return enc
}

func (c *fontCache) simpleWidths(ctx context.Context, dict *raw.DictObj, out map[int]float64) {
	first, ok := c.number(ctx, dict.Lookup("FirstChar"))
	if !ok {
		return
	}
	wObj, err := c.doc.Resolve(ctx, dict.Lookup("Widths"))
	if err != nil {
		return
	}
	arr, ok := raw.AsArray(wObj)
	if !ok {
		return
	}
	for i, it := range arr.Items {
		if w, ok := c.number(ctx, it); ok {
			out[int(first)+i] = w
		}
	}
}

// cidWidths reads a /W array: c [w1 w2 ...] or cfirst clast w.
func (c *fontCache) cidWidths(ctx context.Context, obj raw.Object, out map[int]float64) {
	if obj == nil {
		return
	}
	wObj, err := c.doc.Resolve(ctx, obj)
	if err != nil {
		return
	}
	arr, ok := raw.AsArray(wObj)
	if !ok {
		return
	}
	items := arr.Items
	for i := 0; i < len(items); {
		start, ok := c.number(ctx, items[i])
		if !ok || i+1 >= len(items) {
			return
		}
		next, _ := c.doc.Resolve(ctx, items[i+1])
		if list, ok := raw.AsArray(next); ok {
			for j, it := range list.Items {
				if w, ok := c.number(ctx, it); ok {
					out[int(start)+j] = w
				}
			}
			i += 2
			continue
		}
		if i+2 >= len(items) {
			return
		}
		end, ok1 := c.number(ctx, items[i+1])
		w, ok2 := c.number(ctx, items[i+2])
		if !ok1 || !ok2 || end-start > 0xFFFF {
			return
		}
		for cid := int(start); cid <= int(end); cid++ {
			out[cid] = w
		}
		i += 3
	}
}

// FontInfo describes a font resource referenced by pages.
type FontInfo struct {
	ResourceName string
	BaseFont     string
	Subtype      string
	Encoding     string
	HasToUnicode bool
	Pages        []int
}

// Fonts reports the distinct fonts referenced by page resources.
func Fonts(ctx context.Context, doc *parser.Document) ([]FontInfo, error) {
	pages, err := doc.Pages(ctx)
	if err != nil {
		return nil, err
	}
	fontMap := make(map[*raw.DictObj]*FontInfo)
	for _, page := range pages {
		fontDict, err := doc.ResolveDict(ctx, page.Resources.Lookup("Font"))
		if err != nil {
			return nil, err
		}
		if fontDict == nil {
			continue
		}
		for _, name := range fontDict.SortedKeys() {
			dict, err := doc.ResolveDict(ctx, fontDict.Lookup(name))
			if err != nil {
				return nil, err
			}
			if dict == nil {
				continue
			}
			info, ok := fontMap[dict]
			if !ok {
				baseFont, _ := raw.AsName(dict.Lookup("BaseFont"))
				subtype, _ := raw.AsName(dict.Lookup("Subtype"))
				encoding, _ := raw.AsName(dict.Lookup("Encoding"))
				info = &FontInfo{
					ResourceName: name,
					BaseFont:     baseFont,
					Subtype:      subtype,
					Encoding:     encoding,
					HasToUnicode: dict.Lookup("ToUnicode") != nil,
				}
				fontMap[dict] = info
			}
			if n := len(info.Pages); n == 0 || info.Pages[n-1] != page.Index {
				info.Pages = append(info.Pages, page.Index)
			}
		}
	}
	out := make([]FontInfo, 0, len(fontMap))
	for _, info := range fontMap {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BaseFont == out[j].BaseFont {
			return out[i].ResourceName < out[j].ResourceName
		}
		return out[i].BaseFont < out[j].BaseFont
	})
	return out, nil
}
