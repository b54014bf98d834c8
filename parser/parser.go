package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wudi/pdfmark/filters"
	"github.com/wudi/pdfmark/ir/raw"
	"github.com/wudi/pdfmark/recovery"
	"github.com/wudi/pdfmark/security"
	"github.com/wudi/pdfmark/xref"
)

var (
	ErrEncrypted = errors.New("document is encrypted")
	ErrNoPages   = errors.New("document has no pages")
	ErrClosed    = errors.New("document handle is closed")
)

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	// Recovery decides how damaged input is handled. Nil means lenient.
	Recovery recovery.Strategy
	Limits   security.Limits
	Cache    Cache
}

// DocumentParser builds Documents using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	cfg.Limits = cfg.Limits.WithDefaults()
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.NewLenientStrategy()
	}
	return &DocumentParser{cfg: cfg}
}

// Open parses data into a document handle. The caller owns the handle and must Close it.
func Open(ctx context.Context, data []byte, cfg Config) (*Document, error) {
	return NewDocumentParser(cfg).Parse(ctx, data)
}

// With opens a handle, passes it to fn and releases it on every exit path.
func With(ctx context.Context, data []byte, cfg Config, fn func(*Document) error) error {
	doc, err := Open(ctx, data, cfg)
	if err != nil {
		return err
	}
	defer doc.Close()
	return fn(doc)
}

func (p *DocumentParser) Parse(ctx context.Context, data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, errors.New("empty input")
	}
	resolver := xref.NewResolver(xref.ResolverConfig{
		MaxXRefDepth: p.cfg.Limits.MaxXRefDepth,
		Recovery:     p.cfg.Recovery,
		Limits:       p.cfg.Limits,
	})
	table, err := resolver.Resolve(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	trailer := resolver.Trailer()
	if trailer.Lookup("Encrypt") != nil {
		return nil, ErrEncrypted
	}

	loader, err := (&ObjectLoaderBuilder{}).
		WithData(data).
		WithXRef(table).
		WithLimits(p.cfg.Limits).
		WithCache(p.cfg.Cache).
		WithRecovery(p.cfg.Recovery).
		Build()
	if err != nil {
		return nil, err
	}

	return &Document{
		data:       data,
		loader:     loader,
		table:      table,
		trailer:    trailer,
		version:    detectHeaderVersion(data),
		startxref:  resolver.StartXRef(),
		xrefStream: table.Type() == "xref-stream",
		linearized: resolver.Linearized(),
		limits:     p.cfg.Limits,
		recovery:   p.cfg.Recovery,
		pipeline:   filters.NewDefaultPipeline(filters.Limits{MaxDecompressedSize: p.cfg.Limits.MaxDecompressedSize}),
	}, nil
}

// Document is a parsed, read-only view of one PDF. It is not shared between callers.
type Document struct {
	mu     sync.Mutex
	closed bool

	data       []byte
	loader     ObjectLoader
	table      xref.Table
	trailer    *raw.DictObj
	version    string
	startxref  int64
	xrefStream bool
	linearized bool
	limits     security.Limits
	recovery   recovery.Strategy
	pipeline   *filters.Pipeline
	pages      []*Page
}

// Close releases the document. Further calls fail with ErrClosed.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.data = nil
	d.loader = nil
	d.pages = nil
	return nil
}

func (d *Document) live() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return nil
}

// Bytes returns the source bytes. The slice must not be modified.
func (d *Document) Bytes() []byte { return d.data }

func (d *Document) Version() string       { return d.version }
func (d *Document) Trailer() *raw.DictObj { return d.trailer }
func (d *Document) StartXRef() int64      { return d.startxref }
func (d *Document) XRefStream() bool      { return d.xrefStream }
func (d *Document) Linearized() bool      { return d.linearized }
func (d *Document) Limits() security.Limits {
	return d.limits
}

// Recovery is the strategy this handle was opened with. Unless the caller
// configured one, every Open gets its own lenient strategy.
func (d *Document) Recovery() recovery.Strategy { return d.recovery }

// Size is the trailer /Size: the next free object number.
func (d *Document) Size() int {
	n, _ := raw.AsInt(d.trailer.Lookup("Size"))
	return int(n)
}

// NextObjectNumber is the first object number no revision uses.
func (d *Document) NextObjectNumber() int {
	next := d.Size()
	if objs := d.table.Objects(); len(objs) > 0 {
		next = max(next, objs[len(objs)-1]+1)
	}
	return max(next, 1)
}

// Repaired reports whether the cross-reference data was rebuilt by scanning
// the file, in which case StartXRef does not name a usable section.
func (d *Document) Repaired() bool { return d.table.Type() == "repaired" }

// XRef returns the merged cross-reference table.
func (d *Document) XRef() xref.Table { return d.table }

// Load returns the indirect object ref points to.
func (d *Document) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	if err := d.live(); err != nil {
		return nil, err
	}
	return d.loader.Load(ctx, ref)
}

// Resolve follows references until a direct object is reached. Dangling
// references resolve to null.
func (d *Document) Resolve(ctx context.Context, obj raw.Object) (raw.Object, error) {
	for i := 0; ; i++ {
		ref, ok := obj.(raw.RefObj)
		if !ok {
			return obj, nil
		}
		if i >= d.limits.MaxIndirectDepth {
			return nil, fmt.Errorf("reference chain from %s too deep", ref.R)
		}
		next, err := d.Load(ctx, ref.R)
		if err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				return raw.NullObj{}, nil
			}
			return nil, err
		}
		obj = next
	}
}

// ResolveDict resolves obj and returns it as a dictionary when it is one.
func (d *Document) ResolveDict(ctx context.Context, obj raw.Object) (*raw.DictObj, error) {
	r, err := d.Resolve(ctx, obj)
	if err != nil {
		return nil, err
	}
	dict, _ := raw.AsDict(r)
	return dict, nil
}

// StreamData decodes a stream's payload through its filter chain.
func (d *Document) StreamData(ctx context.Context, s *raw.StreamObj) ([]byte, error) {
	if err := d.live(); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	dict := s.Dict
	for _, key := range []string{"Filter", "DecodeParms"} {
		if _, ok := dict.Lookup(key).(raw.RefObj); ok {
			v, err := d.Resolve(ctx, dict.Lookup(key))
			if err != nil {
				return nil, err
			}
			dict = dict.Clone()
			dict.Set(raw.NameLiteral(key), v)
		}
	}
	return d.pipeline.DecodeStream(ctx, raw.NewStream(dict, s.Data))
}

// Catalog returns the document catalog.
func (d *Document) Catalog(ctx context.Context) (*raw.DictObj, error) {
	cat, err := d.ResolveDict(ctx, d.trailer.Lookup("Root"))
	if err != nil {
		return nil, err
	}
	if cat == nil {
		return nil, errors.New("trailer has no usable /Root")
	}
	return cat, nil
}

func detectHeaderVersion(data []byte) string {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	idx := bytes.Index(head, []byte("%PDF-"))
	if idx < 0 {
		return ""
	}
	v := head[idx+5:]
	end := 0
	for end < len(v) && (v[end] == '.' || (v[end] >= '0' && v[end] <= '9')) {
		end++
	}
	return string(v[:end])
}
