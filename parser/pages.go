package parser

import (
	"context"
	"fmt"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/ir/raw"
)

// Page is one leaf of the page tree with inherited attributes applied.
type Page struct {
	Index     int
	Ref       raw.ObjectRef
	Dict      *raw.DictObj
	Resources *raw.DictObj
	MediaBox  coords.Rect
	CropBox   coords.Rect
	Rotate    int
}

var letter = coords.Rect{URX: 612, URY: 792}

// Frame is the visible region: the CropBox clipped to the MediaBox.
func (p *Page) Frame() coords.Rect {
	if p.CropBox.Empty() {
		return p.MediaBox
	}
	c := p.CropBox
	m := p.MediaBox
	r := coords.Rect{
		LLX: max(c.LLX, m.LLX), LLY: max(c.LLY, m.LLY),
		URX: min(c.URX, m.URX), URY: min(c.URY, m.URY),
	}
	if r.Empty() {
		return m
	}
	return r
}

// Space maps between user space and page-local top-left coordinates.
func (p *Page) Space() coords.PageSpace { return coords.PageSpace{Frame: p.Frame()} }

type inherited struct {
	resources raw.Object
	mediaBox  raw.Object
	cropBox   raw.Object
	rotate    raw.Object
}

func (in inherited) merge(node *raw.DictObj) inherited {
	if v := node.Lookup("Resources"); v != nil {
		in.resources = v
	}
	if v := node.Lookup("MediaBox"); v != nil {
		in.mediaBox = v
	}
	if v := node.Lookup("CropBox"); v != nil {
		in.cropBox = v
	}
	if v := node.Lookup("Rotate"); v != nil {
		in.rotate = v
	}
	return in
}

// Pages walks the page tree once and returns every page in document order.
func (d *Document) Pages(ctx context.Context) ([]*Page, error) {
	if err := d.live(); err != nil {
		return nil, err
	}
	if d.pages != nil {
		return d.pages, nil
	}
	cat, err := d.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	root := cat.Lookup("Pages")
	var pages []*Page
	visited := make(map[raw.ObjectRef]bool)
	if err := d.walkPages(ctx, root, inherited{}, visited, &pages, 0); err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, ErrNoPages
	}
	d.pages = pages
	return pages, nil
}

// PageCount returns the number of leaf pages.
func (d *Document) PageCount(ctx context.Context) (int, error) {
	pages, err := d.Pages(ctx)
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

func (d *Document) walkPages(ctx context.Context, nodeObj raw.Object, in inherited, visited map[raw.ObjectRef]bool, out *[]*Page, depth int) error {
	if depth > d.limits.MaxIndirectDepth {
		return fmt.Errorf("page tree deeper than %d", d.limits.MaxIndirectDepth)
	}
	var ref raw.ObjectRef
	if r, ok := nodeObj.(raw.RefObj); ok {
		if visited[r.R] {
			// Cycles in damaged page trees are skipped.
			return nil
		}
		visited[r.R] = true
		ref = r.R
	}
	node, err := d.ResolveDict(ctx, nodeObj)
	if err != nil {
		return err
	}
	if node == nil {
		return nil
	}
	in = in.merge(node)
	kids, hasKids := raw.AsArray(node.Lookup("Kids"))
	typ, _ := raw.AsName(node.Lookup("Type"))
	if typ == "Pages" || (typ != "Page" && hasKids) {
		if !hasKids {
			resolved, err := d.Resolve(ctx, node.Lookup("Kids"))
			if err != nil {
				return err
			}
			kids, hasKids = raw.AsArray(resolved)
			if !hasKids {
				return nil
			}
		}
		for _, kid := range kids.Items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := d.walkPages(ctx, kid, in, visited, out, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	page := &Page{Index: len(*out), Ref: ref, Dict: node}
	if page.Resources, err = d.ResolveDict(ctx, in.resources); err != nil {
		return err
	}
	if page.Resources == nil {
		page.Resources = raw.Dict()
	}
	page.MediaBox = d.rect(ctx, in.mediaBox, letter)
	page.CropBox = d.rect(ctx, in.cropBox, coords.Rect{})
	if rot, err := d.Resolve(ctx, in.rotate); err == nil {
		if n, ok := raw.AsInt(rot); ok {
			page.Rotate = int(((n % 360) + 360) % 360)
		}
	}
	*out = append(*out, page)
	return nil
}

func (d *Document) rect(ctx context.Context, obj raw.Object, fallback coords.Rect) coords.Rect {
	if obj == nil {
		return fallback
	}
	resolved, err := d.Resolve(ctx, obj)
	if err != nil {
		return fallback
	}
	arr, ok := raw.AsArray(resolved)
	if !ok || arr.Len() != 4 {
		return fallback
	}
	vals := make([]float64, 4)
	for i, it := range arr.Items {
		it, err := d.Resolve(ctx, it)
		if err != nil {
			return fallback
		}
		f, ok := raw.AsFloat(it)
		if !ok {
			return fallback
		}
		vals[i] = f
	}
	r := coords.Rect{LLX: vals[0], LLY: vals[1], URX: vals[2], URY: vals[3]}.Normalize()
	if r.Empty() {
		return fallback
	}
	return r
}

// ContentStreams returns the page's content streams in drawing order.
func (d *Document) ContentStreams(ctx context.Context, p *Page) ([]*raw.StreamObj, error) {
	contents, err := d.Resolve(ctx, p.Dict.Lookup("Contents"))
	if err != nil {
		return nil, err
	}
	var items []raw.Object
	switch c := contents.(type) {
	case *raw.StreamObj:
		return []*raw.StreamObj{c}, nil
	case *raw.ArrayObj:
		items = c.Items
	default:
		return nil, nil
	}
	out := make([]*raw.StreamObj, 0, len(items))
	for _, it := range items {
		obj, err := d.Resolve(ctx, it)
		if err != nil {
			return nil, err
		}
		if s, ok := obj.(*raw.StreamObj); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// PageContent decodes and concatenates the page's content streams.
func (d *Document) PageContent(ctx context.Context, p *Page) ([]byte, error) {
	streams, err := d.ContentStreams(ctx, p)
	if err != nil {
		return nil, err
	}
	var out []byte
	for i, s := range streams {
		data, err := d.StreamData(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("page %d content stream %d: %w", p.Index, i, err)
		}
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, data...)
	}
	return out, nil
}
