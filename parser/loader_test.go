package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/wudi/pdfmark/internal/pdftest"
	"github.com/wudi/pdfmark/ir/raw"
	"github.com/wudi/pdfmark/xref"
)

type mapCache struct {
	m map[raw.ObjectRef]raw.Object
}

func (c *mapCache) Get(ref raw.ObjectRef) (raw.Object, bool) {
	if c.m == nil {
		return nil, false
	}
	v, ok := c.m[ref]
	return v, ok
}

func (c *mapCache) Put(ref raw.ObjectRef, obj raw.Object) {
	if c.m == nil {
		c.m = make(map[raw.ObjectRef]raw.Object)
	}
	c.m[ref] = obj
}

func TestObjectLoaderCachesObjects(t *testing.T) {
	src := buildClassicPDF()
	cache := &mapCache{}

	resolver := xref.NewResolver(xref.ResolverConfig{})
	table, err := resolver.Resolve(context.Background(), src)
	if err != nil {
		t.Fatalf("resolve xref: %v", err)
	}

	loader, err := (&ObjectLoaderBuilder{}).WithData(src).WithXRef(table).WithCache(cache).Build()
	if err != nil {
		t.Fatalf("build loader: %v", err)
	}

	// First load should parse and cache.
	if _, err := loader.Load(context.Background(), raw.ObjectRef{Num: 1, Gen: 0}); err != nil {
		t.Fatalf("load object: %v", err)
	}

	if _, ok := cache.Get(raw.ObjectRef{Num: 1, Gen: 0}); !ok {
		t.Fatalf("expected object cached after load")
	}
}

func TestObjectLoaderMissingObject(t *testing.T) {
	src := buildClassicPDF()
	table, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), src)
	if err != nil {
		t.Fatalf("resolve xref: %v", err)
	}
	loader, err := (&ObjectLoaderBuilder{}).WithData(src).WithXRef(table).Build()
	if err != nil {
		t.Fatalf("build loader: %v", err)
	}
	if _, err := loader.Load(context.Background(), raw.ObjectRef{Num: 42}); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestObjectLoaderBuilderRequiresInputs(t *testing.T) {
	if _, err := (&ObjectLoaderBuilder{}).Build(); err == nil {
		t.Fatalf("expected error without xref table")
	}
}

func TestDocumentResolveDanglingReference(t *testing.T) {
	doc, err := Open(context.Background(), pdftest.Exam("1. x"), Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer doc.Close()
	obj, err := doc.Resolve(context.Background(), raw.Ref(99, 0))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := obj.(raw.NullObj); !ok {
		t.Fatalf("expected null for dangling reference, got %#v", obj)
	}
}
