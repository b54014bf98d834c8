// Package engine builds question templates from exam documents and renders
// marked copies for verdict sets.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/pdfmark/assembler"
	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/extractor"
	"github.com/wudi/pdfmark/ir/raw"
	"github.com/wudi/pdfmark/locator"
	"github.com/wudi/pdfmark/marker"
	"github.com/wudi/pdfmark/observability"
	"github.com/wudi/pdfmark/parser"
	"github.com/wudi/pdfmark/summary"
	"github.com/wudi/pdfmark/writer"
)

// Config wires the pipeline. The zero value renders with the default style
// and layout and logs nothing.
type Config struct {
	Parser parser.Config
	// Rules restricts question detection; empty means every rule.
	Rules  []locator.Rule
	Style  marker.Style
	Layout summary.Layout
	Writer writer.Config
	// StreamOrder keeps extracted runs in content-stream order.
	StreamOrder bool
	// Concurrency bounds RenderBatch; 0 means 4.
	Concurrency int
	Logger      observability.Logger
	Tracer      observability.Tracer
}

// Job is one render request.
type Job struct {
	// ID names the job in logs and results; empty gets a random UUID.
	ID       string
	Verdicts marker.VerdictSet
	Labels   summary.Labels
}

type Engine struct {
	cfg       Config
	extractor *extractor.Extractor
	locator   *locator.Locator
}

func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NopTracer()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Writer.Logger == nil {
		cfg.Writer.Logger = cfg.Logger
	}
	return &Engine{
		cfg: cfg,
		extractor: extractor.New(extractor.Config{
			Parser:      cfg.Parser,
			StreamOrder: cfg.StreamOrder,
			Logger:      cfg.Logger,
		}),
		locator: locator.New(locator.Config{Rules: cfg.Rules, Logger: cfg.Logger}),
	}
}

// BuildTemplate extracts the document once and detects its questions. A
// document without numbering gives an empty template, not an error.
// Unreadable documents fail with an *extractor.ExtractionError.
func (e *Engine) BuildTemplate(ctx context.Context, data []byte) (*locator.Template, error) {
	ctx, span := e.cfg.Tracer.StartSpan(ctx, "pdfmark.build")
	defer span.Finish()
	start := time.Now()

	var tpl *locator.Template
	err := e.extractor.With(ctx, data, func(doc *parser.Document) error {
		pages, err := doc.PageCount(ctx)
		if err != nil {
			return &extractor.ExtractionError{Op: "pages", Page: -1, Err: err}
		}
		tpl, err = e.locator.Build(e.extractor.DocumentRuns(ctx, doc), pages)
		return err
	})
	if err != nil {
		span.SetError(err)
		e.cfg.Logger.Error("template build failed", observability.Error("error", err))
		return nil, err
	}

	span.SetTag("detected", tpl.DetectedCount())
	fields := []observability.Field{
		observability.Int("detected", tpl.DetectedCount()),
		observability.Int("rejected", tpl.Rejected()),
		observability.Int("pages", tpl.Pages()),
		observability.Duration("duration", time.Since(start)),
	}
	if tpl.Empty() {
		e.cfg.Logger.Warn("template empty", fields...)
	} else {
		e.cfg.Logger.Info("template built", fields...)
	}
	return tpl, nil
}

// Render produces a marked copy of data for one job. It never panics and
// never returns partial output: failures come back as a result with
// Generated false and Err holding a *marker.RenderError.
func (e *Engine) Render(ctx context.Context, data []byte, tpl *locator.Template, job Job) (res assembler.RenderResult) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	ctx, span := e.cfg.Tracer.StartSpan(ctx, "pdfmark.render")
	defer span.Finish()
	span.SetTag("job", job.ID)
	start := time.Now()

	var plan *marker.Plan
	defer func() {
		if r := recover(); r != nil {
			e.cfg.Logger.Error("render panic", observability.String("job", job.ID), observability.String("stack", string(debug.Stack())))
			res = assembler.Failed(job.ID, plan, &marker.RenderError{Stage: marker.StagePanic, Job: job.ID, Err: fmt.Errorf("%v", r)})
		}
		res.Duration = time.Since(start)
		if res.Generated {
			e.cfg.Logger.Info("render finished",
				observability.String("job", job.ID),
				observability.Int("matched", res.Matched),
				observability.Int("unmatched", len(res.Unmatched)),
				observability.Int("correct", res.Correct),
				observability.Int("total", res.Total),
				observability.Duration("duration", res.Duration))
			return
		}
		span.SetError(res.Err)
		e.cfg.Logger.Error("render failed", observability.String("job", job.ID), observability.Error("error", res.Err))
	}()

	fail := func(stage marker.Stage, err error) assembler.RenderResult {
		return assembler.Failed(job.ID, plan, &marker.RenderError{Stage: stage, Job: job.ID, Err: err})
	}

	// Each job works on its own handle; nothing is shared with other jobs.
	doc, err := parser.Open(ctx, data, e.cfg.Parser)
	if err != nil {
		return fail(marker.StageOpen, err)
	}
	defer doc.Close()
	pages, err := doc.Pages(ctx)
	if err != nil {
		return fail(marker.StageOpen, err)
	}
	spaces := make([]coords.PageSpace, len(pages))
	for i, p := range pages {
		spaces[i] = p.Space()
	}

	plan, err = marker.NewPlan(tpl, job.Verdicts, spaces, e.cfg.Style)
	if err != nil {
		return fail(marker.StagePlan, err)
	}
	if err := e.cfg.Layout.Validate(); err != nil {
		return fail(marker.StageSummary, err)
	}
	// The summary is drawn first so marks under its box stay visible.
	var overlays []writer.Overlay
	if block, ok := summary.Compose(plan.Correct, plan.Total, job.Labels, spaces[0], e.cfg.Layout); ok {
		overlays = append(overlays, writer.Overlay{
			Page:  0,
			Ops:   block.Ops,
			Fonts: map[string]*raw.DictObj{summary.FontName: block.Font},
		})
	}
	for _, page := range plan.Pages() {
		overlays = append(overlays, writer.Overlay{Page: page, Ops: plan.PageOps(page, spaces[page])})
	}

	w := (&writer.WriterBuilder{}).WithConfig(e.cfg.Writer).WithInterceptor(cancellation{}).Build()
	var out bytes.Buffer
	if _, err := w.Append(ctx, doc, overlays, &out); err != nil {
		return fail(marker.StageWrite, err)
	}
	return assembler.Succeeded(job.ID, plan, out.Bytes())
}

// RenderToFile renders and atomically replaces path with the result. The
// previous file at path survives any failure.
func (e *Engine) RenderToFile(ctx context.Context, data []byte, tpl *locator.Template, job Job, path string) assembler.RenderResult {
	res := e.Render(ctx, data, tpl, job)
	if !res.Generated {
		return res
	}
	if err := assembler.WriteFile(path, res.Bytes, 0o644); err != nil {
		res.Generated = false
		res.Bytes = nil
		res.Err = &marker.RenderError{Stage: marker.StagePersist, Job: res.Job, Err: err}
		e.cfg.Logger.Error("render failed", observability.String("job", res.Job), observability.Error("error", res.Err))
		return res
	}
	res.Path = path
	return res
}

// RenderBatch renders jobs concurrently against one template. Results keep
// the order of jobs. limit bounds parallelism; 0 uses the configured
// concurrency.
func (e *Engine) RenderBatch(ctx context.Context, data []byte, tpl *locator.Template, jobs []Job, limit int) []assembler.RenderResult {
	if limit <= 0 {
		limit = e.cfg.Concurrency
	}
	results := make([]assembler.RenderResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = e.Render(ctx, data, tpl, job)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// IsExtractionError reports whether err came from reading the source document.
func IsExtractionError(err error) bool {
	var ee *extractor.ExtractionError
	return errors.As(err, &ee)
}

// IsRenderError reports whether err is a failed render job.
func IsRenderError(err error) bool {
	var re *marker.RenderError
	return errors.As(err, &re)
}

// cancellation stops a write as soon as the job's context is done.
type cancellation struct{}

func (cancellation) BeforeWrite(ctx context.Context, _ raw.ObjectRef, _ raw.Object) error {
	return ctx.Err()
}

func (cancellation) AfterWrite(context.Context, raw.ObjectRef, int64) error { return nil }
