// Package writer appends overlay content to an existing PDF as an
// incremental update. The source bytes are copied unchanged; new and
// replaced objects follow them together with a cross-reference section
// that chains to the previous one through /Prev.
package writer

import (
	"bytes"
	"context"
	"io"

	"github.com/wudi/pdfmark/contentstream"
	"github.com/wudi/pdfmark/ir/raw"
	"github.com/wudi/pdfmark/observability"
	"github.com/wudi/pdfmark/parser"
)

// Overlay is drawn on top of one page. Fonts are added to the page's font
// resources under the given names; a name already taken by the page is
// replaced by a fresh one and the overlay's Tf operators follow it.
type Overlay struct {
	Page  int
	Ops   []contentstream.Operation
	Fonts map[string]*raw.DictObj
}

// XRefMode selects the cross-reference format of the appended section.
type XRefMode int

const (
	// XRefMatchSource writes a table when the source uses tables and a
	// stream when it uses streams.
	XRefMatchSource XRefMode = iota
	XRefTable
	XRefStream
)

type Config struct {
	// Uncompressed leaves appended content streams unfiltered.
	Uncompressed bool
	XRef         XRefMode
	Logger       observability.Logger
}

type Writer interface {
	// Append writes the source document followed by the update to out and
	// returns the number of bytes written.
	Append(ctx context.Context, doc *parser.Document, overlays []Overlay, out io.Writer) (int64, error)
}

// Interceptor observes every object written into the update.
type Interceptor interface {
	BeforeWrite(ctx context.Context, ref raw.ObjectRef, obj raw.Object) error
	AfterWrite(ctx context.Context, ref raw.ObjectRef, bytesWritten int64) error
}

type WriterBuilder struct {
	cfg          Config
	interceptors []Interceptor
}

func (b *WriterBuilder) WithConfig(cfg Config) *WriterBuilder {
	b.cfg = cfg
	return b
}

func (b *WriterBuilder) WithInterceptor(i Interceptor) *WriterBuilder {
	b.interceptors = append(b.interceptors, i)
	return b
}

func (b *WriterBuilder) Build() Writer {
	cfg := b.cfg
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &impl{cfg: cfg, interceptors: b.interceptors}
}

// Append is a convenience wrapper returning the updated document bytes.
func Append(ctx context.Context, doc *parser.Document, overlays []Overlay, cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := (&WriterBuilder{}).WithConfig(cfg).Build().Append(ctx, doc, overlays, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
