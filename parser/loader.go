package parser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wudi/pdfmark/filters"
	"github.com/wudi/pdfmark/ir/raw"
	"github.com/wudi/pdfmark/recovery"
	"github.com/wudi/pdfmark/scanner"
	"github.com/wudi/pdfmark/security"
	"github.com/wudi/pdfmark/xref"
)

// ErrObjectNotFound is returned for references the xref data does not describe.
var ErrObjectNotFound = errors.New("object not found")

type Cache interface {
	Get(ref raw.ObjectRef) (raw.Object, bool)
	Put(ref raw.ObjectRef, obj raw.Object)
}

type ObjectLoader interface {
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
}

type ObjectLoaderBuilder struct {
	data      []byte
	xrefTable xref.Table
	limits    security.Limits
	cache     Cache
	recovery  recovery.Strategy
}

func (b *ObjectLoaderBuilder) WithXRef(table xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = table
	return b
}

func (b *ObjectLoaderBuilder) WithData(data []byte) *ObjectLoaderBuilder {
	b.data = data
	return b
}

func (b *ObjectLoaderBuilder) WithLimits(l security.Limits) *ObjectLoaderBuilder {
	b.limits = l
	return b
}

func (b *ObjectLoaderBuilder) WithCache(c Cache) *ObjectLoaderBuilder { b.cache = c; return b }

func (b *ObjectLoaderBuilder) WithRecovery(r recovery.Strategy) *ObjectLoaderBuilder {
	b.recovery = r
	return b
}

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	if b.xrefTable == nil {
		return nil, errors.New("xref table missing")
	}
	if b.data == nil {
		return nil, errors.New("document data missing")
	}
	cache := b.cache
	if cache == nil {
		cache = newMemoryCache()
	}
	limits := b.limits.WithDefaults()
	return &objectLoader{
		data:      b.data,
		xrefTable: b.xrefTable,
		limits:    limits,
		cache:     cache,
		recovery:  b.recovery,
		pipeline:  filters.NewDefaultPipeline(filters.Limits{MaxDecompressedSize: limits.MaxDecompressedSize}),
		objstm:    make(map[int]map[int]raw.Object),
	}, nil
}

type memoryCache struct {
	mu sync.RWMutex
	m  map[raw.ObjectRef]raw.Object
}

func newMemoryCache() *memoryCache { return &memoryCache{m: make(map[raw.ObjectRef]raw.Object)} }

func (c *memoryCache) Get(ref raw.ObjectRef) (raw.Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[ref]
	return v, ok
}

func (c *memoryCache) Put(ref raw.ObjectRef, obj raw.Object) {
	c.mu.Lock()
	c.m[ref] = obj
	c.mu.Unlock()
}

type objectLoader struct {
	data      []byte
	xrefTable xref.Table
	limits    security.Limits
	cache     Cache
	recovery  recovery.Strategy
	pipeline  *filters.Pipeline

	mu       sync.Mutex
	objstm   map[int]map[int]raw.Object
	repaired xref.Table
}

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	return o.load(ctx, ref, 0)
}

func (o *objectLoader) load(ctx context.Context, ref raw.ObjectRef, depth int) (raw.Object, error) {
	if depth > o.limits.MaxIndirectDepth {
		return nil, errors.New("max depth exceeded")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if obj, ok := o.cache.Get(ref); ok {
		return obj, nil
	}
	obj, err := o.loadOnce(ctx, ref, depth)
	if err != nil {
		return nil, err
	}
	o.cache.Put(ref, obj)
	return obj, nil
}

func (o *objectLoader) loadOnce(ctx context.Context, ref raw.ObjectRef, depth int) (raw.Object, error) {
	offset, _, found := o.xrefTable.Lookup(ref.Num)
	if !found {
		if osNum, idx, ok := o.xrefTable.ObjStream(ref.Num); ok {
			return o.loadFromObjectStream(ctx, ref, osNum, idx, depth)
		}
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, ref)
	}
	obj, err := o.loadAtOffset(ctx, ref, offset, depth)
	if err == nil {
		return obj, nil
	}
	// The offset may be stale; fall back to a full scan when allowed.
	table, rerr := o.repairTable(ctx, err, offset)
	if rerr != nil {
		return nil, err
	}
	if off, _, ok := table.Lookup(ref.Num); ok && off != offset {
		return o.loadAtOffset(ctx, ref, off, depth)
	}
	return nil, err
}

func (o *objectLoader) loadAtOffset(ctx context.Context, ref raw.ObjectRef, offset int64, depth int) (raw.Object, error) {
	rd := scanner.NewObjectReader(scanner.New(o.data, scanner.Config{
		Recovery:        o.recovery,
		MaxStringLength: o.limits.MaxStringLength,
	}))
	rd.Lengths = func(lref raw.ObjectRef) (int64, bool) {
		if lref == ref {
			return 0, false
		}
		obj, err := o.load(ctx, lref, depth+1)
		if err != nil {
			return 0, false
		}
		return raw.AsInt(obj)
	}
	if err := rd.Seek(offset); err != nil {
		return nil, err
	}
	got, obj, err := rd.ReadIndirect()
	if err != nil {
		return nil, err
	}
	if got.Num != ref.Num {
		return nil, fmt.Errorf("xref points object %d at %d, found %d", ref.Num, offset, got.Num)
	}
	return obj, nil
}

func (o *objectLoader) repairTable(ctx context.Context, cause error, offset int64) (xref.Table, error) {
	if o.recovery == nil {
		return nil, cause
	}
	if o.recovery.OnError(ctx, cause, recovery.Location{ByteOffset: offset, Component: "loader"}) == recovery.ActionFail {
		return nil, cause
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.repaired == nil {
		t, err := xref.Repair(ctx, o.data, o.limits)
		if err != nil {
			return nil, err
		}
		o.repaired = t
	}
	return o.repaired, nil
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, ref raw.ObjectRef, objStreamNum int, idx int, depth int) (raw.Object, error) {
	o.mu.Lock()
	objs, ok := o.objstm[objStreamNum]
	o.mu.Unlock()
	if !ok {
		var err error
		objs, err = o.parseObjectStream(ctx, objStreamNum, depth)
		if err != nil {
			return nil, fmt.Errorf("object stream %d: %w", objStreamNum, err)
		}
		o.mu.Lock()
		o.objstm[objStreamNum] = objs
		o.mu.Unlock()
	}
	if obj, ok := objs[ref.Num]; ok {
		return obj, nil
	}
	return nil, fmt.Errorf("%w: %s in object stream %d (index %d)", ErrObjectNotFound, ref, objStreamNum, idx)
}

func (o *objectLoader) parseObjectStream(ctx context.Context, objStreamNum int, depth int) (map[int]raw.Object, error) {
	streamObj, err := o.load(ctx, raw.ObjectRef{Num: objStreamNum}, depth+1)
	if err != nil {
		return nil, err
	}
	st, ok := streamObj.(*raw.StreamObj)
	if !ok {
		return nil, errors.New("object stream is not a stream")
	}
	n, _ := raw.AsInt(st.Dict.Lookup("N"))
	first, _ := raw.AsInt(st.Dict.Lookup("First"))
	data, err := o.pipeline.DecodeStream(ctx, st)
	if err != nil {
		return nil, err
	}
	if first < 0 || first > int64(len(data)) {
		return nil, errors.New("object stream First exceeds length")
	}

	header := scanner.NewObjectReader(scanner.New(data[:first], scanner.Config{}))
	var pairs []int64
	for int64(len(pairs)/2) < n {
		tok, err := header.Next()
		if err != nil {
			break
		}
		if tok.Type == scanner.TokenNumber && tok.IsInt {
			pairs = append(pairs, tok.Int)
		}
	}
	body := data[first:]
	objs := make(map[int]raw.Object, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		num, off := int(pairs[i]), pairs[i+1]
		if off < 0 || off >= int64(len(body)) {
			continue
		}
		rd := scanner.NewObjectReader(scanner.New(body, scanner.Config{Recovery: o.recovery, MaxStringLength: o.limits.MaxStringLength}))
		if err := rd.Seek(off); err != nil {
			continue
		}
		obj, err := rd.ReadObject()
		if err != nil {
			if o.recovery != nil && o.recovery.OnError(ctx, err, recovery.Location{ObjectNum: num, Component: "objstm"}) != recovery.ActionFail {
				continue
			}
			return nil, err
		}
		objs[num] = obj
	}
	return objs, nil
}
