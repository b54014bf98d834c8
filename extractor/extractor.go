// Package extractor turns page content streams into positioned text runs.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/observability"
	"github.com/wudi/pdfmark/parser"
)

// TextRun is a contiguous piece of text with its page-local bounding box.
// Box coordinates have their origin at the top-left of the visible page,
// with y growing downward.
type TextRun struct {
	Page int
	Box  coords.Box
	Text string
}

// PageRuns is the extraction result for one page.
type PageRuns struct {
	Index  int
	Width  float64
	Height float64
	Runs   []TextRun
}

// ExtractionError reports a document that could not be opened or read.
type ExtractionError struct {
	Op   string
	Page int // -1 when the failure is not page specific
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Page >= 0 {
		return fmt.Sprintf("extract %s (page %d): %v", e.Op, e.Page, e.Err)
	}
	return fmt.Sprintf("extract %s: %v", e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Config controls extraction. The zero value is usable.
type Config struct {
	Parser parser.Config
	// StreamOrder keeps runs in content-stream order instead of sorting
	// them top-to-bottom, left-to-right.
	StreamOrder bool
	Logger      observability.Logger
}

type Extractor struct {
	cfg Config
}

func New(cfg Config) *Extractor {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &Extractor{cfg: cfg}
}

var errStopped = errors.New("iteration stopped")

// Runs returns a lazy sequence of text runs, page by page. Each iteration
// opens its own document handle and releases it before returning, so the
// sequence can be ranged over again. On failure a single ExtractionError is
// yielded and the sequence ends.
func (e *Extractor) Runs(ctx context.Context, data []byte) iter.Seq2[TextRun, error] {
	return func(yield func(TextRun, error) bool) {
		err := e.With(ctx, data, func(doc *parser.Document) error {
			for run, err := range e.DocumentRuns(ctx, doc) {
				if err != nil {
					return err
				}
				if !yield(run, nil) {
					return errStopped
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopped) {
			yield(TextRun{}, err)
		}
	}
}

// Pages extracts every page eagerly.
func (e *Extractor) Pages(ctx context.Context, data []byte) ([]PageRuns, error) {
	var out []PageRuns
	err := e.each(ctx, data, func(pr PageRuns) error {
		out = append(out, pr)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Extractor) each(ctx context.Context, data []byte, fn func(PageRuns) error) error {
	return e.With(ctx, data, func(doc *parser.Document) error {
		return e.Document(ctx, doc, fn)
	})
}

// With opens a document handle scoped to fn. Failures to open, and failures
// of fn that are not already extraction errors, are reported as an
// ExtractionError with Op "open". Context errors pass through unchanged.
func (e *Extractor) With(ctx context.Context, data []byte, fn func(*parser.Document) error) error {
	err := parser.With(ctx, data, e.cfg.Parser, fn)
	if err == nil || errors.Is(err, errStopped) || ctx.Err() != nil {
		return err
	}
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return err
	}
	return &ExtractionError{Op: "open", Page: -1, Err: err}
}

// DocumentRuns is Runs over an open handle. The handle must stay open while
// the sequence is ranged over.
func (e *Extractor) DocumentRuns(ctx context.Context, doc *parser.Document) iter.Seq2[TextRun, error] {
	return func(yield func(TextRun, error) bool) {
		err := e.Document(ctx, doc, func(pr PageRuns) error {
			for _, run := range pr.Runs {
				if !yield(run, nil) {
					return errStopped
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopped) {
			yield(TextRun{}, err)
		}
	}
}

// Document walks the pages of an open handle. Callers that already hold a
// handle use this instead of Runs.
func (e *Extractor) Document(ctx context.Context, doc *parser.Document, fn func(PageRuns) error) error {
	pages, err := doc.Pages(ctx)
	if err != nil {
		return &ExtractionError{Op: "pages", Page: -1, Err: err}
	}
	cache := newFontCache(doc)
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		runs, err := e.page(ctx, doc, cache, page)
		if err != nil {
			return err
		}
		space := page.Space()
		if err := fn(PageRuns{Index: page.Index, Width: space.Width(), Height: space.Height(), Runs: runs}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Extractor) page(ctx context.Context, doc *parser.Document, cache *fontCache, page *parser.Page) ([]TextRun, error) {
	in := newInterpreter(ctx, doc, cache, e.cfg, page)
	frags, err := in.run()
	if err != nil {
		return nil, err
	}
	runs := mergeFragments(frags, page.Index)
	if !e.cfg.StreamOrder {
		runs = readingOrder(runs)
	}
	e.cfg.Logger.Debug("page extracted",
		observability.Int("page", page.Index),
		observability.Int("fragments", len(frags)),
		observability.Int("runs", len(runs)))
	return runs, nil
}
