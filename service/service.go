// Package service orchestrates template builds and submission marking over
// the store collaborators. Templates are built at most once per document
// within a process and cached for reuse.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/wudi/pdfmark/assembler"
	"github.com/wudi/pdfmark/engine"
	"github.com/wudi/pdfmark/locator"
	"github.com/wudi/pdfmark/marker"
	"github.com/wudi/pdfmark/observability"
	"github.com/wudi/pdfmark/store"
	"github.com/wudi/pdfmark/summary"
)

type Config struct {
	Engine    *engine.Engine
	Documents store.DocumentLoader
	Templates store.TemplateStore
	Artifacts store.ArtifactStore
	// Audit is optional.
	Audit store.AuditSink
	// CacheSize bounds the template cache; 0 means 256.
	CacheSize int
	Logger    observability.Logger
	Now       func() time.Time
}

type Service struct {
	cfg    Config
	cache  *lru.Cache[string, *locator.Template]
	builds singleflight.Group
}

func New(cfg Config) (*Service, error) {
	if cfg.Engine == nil || cfg.Documents == nil || cfg.Templates == nil || cfg.Artifacts == nil {
		return nil, errors.New("service needs an engine, a document loader, a template store and an artifact store")
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cache, err := lru.New[string, *locator.Template](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{cfg: cfg, cache: cache}, nil
}

// Submission is one candidate's answer sheet against a source document.
type Submission struct {
	ID         string
	DocumentID string
	Verdicts   marker.VerdictSet
	Labels     summary.Labels
}

// EnsureTemplate returns the document's template, building and saving it
// on first use. Concurrent callers for one document share a single build.
func (s *Service) EnsureTemplate(ctx context.Context, documentID, actor string) (*locator.Template, error) {
	if err := store.CheckID("document_id", documentID); err != nil {
		return nil, err
	}
	if tpl, ok := s.cache.Get(documentID); ok {
		return tpl, nil
	}
	v, err, _ := s.builds.Do(documentID, func() (any, error) {
		if tpl, ok := s.cache.Get(documentID); ok {
			return tpl, nil
		}
		tpl, err := s.cfg.Templates.LoadTemplate(ctx, documentID)
		switch {
		case err == nil:
			s.cache.Add(documentID, tpl)
			return tpl, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("load template %s: %w", documentID, err)
		}
		return s.build(ctx, documentID, actor, store.ActionCreateTemplate)
	})
	if err != nil {
		return nil, err
	}
	return v.(*locator.Template), nil
}

// Rebuild replaces the document's template wholesale, for when the source
// document changed.
func (s *Service) Rebuild(ctx context.Context, documentID, actor string) (*locator.Template, error) {
	if err := store.CheckID("document_id", documentID); err != nil {
		return nil, err
	}
	v, err, _ := s.builds.Do("rebuild/"+documentID, func() (any, error) {
		action := store.ActionUpdateTemplate
		if _, err := s.cfg.Templates.LoadTemplate(ctx, documentID); errors.Is(err, store.ErrNotFound) {
			action = store.ActionCreateTemplate
		}
		s.cache.Remove(documentID)
		return s.build(ctx, documentID, actor, action)
	})
	if err != nil {
		return nil, err
	}
	return v.(*locator.Template), nil
}

func (s *Service) build(ctx context.Context, documentID, actor, action string) (*locator.Template, error) {
	data, err := s.cfg.Documents.Load(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", documentID, err)
	}
	tpl, err := s.cfg.Engine.BuildTemplate(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := s.cfg.Templates.SaveTemplate(ctx, documentID, tpl); err != nil {
		return nil, fmt.Errorf("save template %s: %w", documentID, err)
	}
	s.cache.Add(documentID, tpl)
	s.audit(ctx, actor, action, documentID)
	if tpl.Empty() {
		s.cfg.Logger.Warn("no questions detected, check document formatting",
			observability.String("document", documentID))
	}
	return tpl, nil
}

// MarkSubmission renders the marked copy of a submission, stores the
// artifact and its metadata and records the audit event. A failed render is
// not an error: it comes back as a result with Generated false and is
// recorded in the metadata. Errors are returned only when the template or
// the metadata cannot be obtained or stored.
func (s *Service) MarkSubmission(ctx context.Context, sub Submission, actor string) (assembler.RenderResult, error) {
	if err := store.CheckID("submission_id", sub.ID); err != nil {
		return assembler.RenderResult{}, err
	}
	tpl, err := s.EnsureTemplate(ctx, sub.DocumentID, actor)
	if err != nil {
		return assembler.RenderResult{}, err
	}
	data, err := s.cfg.Documents.Load(ctx, sub.DocumentID)
	if err != nil {
		return assembler.RenderResult{}, fmt.Errorf("load document %s: %w", sub.DocumentID, err)
	}

	now := s.cfg.Now()
	labels := sub.Labels
	if labels.Timestamp.IsZero() {
		labels.Timestamp = now
	}
	res := s.cfg.Engine.Render(ctx, data, tpl, engine.Job{ID: sub.ID, Verdicts: sub.Verdicts, Labels: labels})
	if res.Generated {
		loc, err := s.cfg.Artifacts.SaveArtifact(ctx, sub.ID, assembler.ArtifactName(sub.ID, now), res.Bytes)
		if err != nil {
			res.Generated = false
			res.Bytes = nil
			res.Err = &marker.RenderError{Stage: marker.StagePersist, Job: sub.ID, Err: err}
			s.cfg.Logger.Error("artifact not saved", observability.String("submission", sub.ID), observability.Error("error", err))
		} else {
			res.Path = loc
		}
	}
	if err := s.cfg.Artifacts.SaveMetadata(ctx, sub.ID, res.Metadata()); err != nil {
		return res, fmt.Errorf("save metadata %s: %w", sub.ID, err)
	}
	s.audit(ctx, actor, store.ActionGenerateMarkedPDF, sub.ID)
	return res, nil
}

// ExamStats counts marked and generated artifacts over a set of submissions.
type ExamStats struct {
	Submissions int `json:"submissions"`
	Marked      int `json:"marked"`
	Generated   int `json:"generated"`
	Failed      int `json:"failed"`
	// MeanPercentage averages generated artifacts with at least one question.
	MeanPercentage float64 `json:"mean_percentage"`
}

func (s *Service) ExamStats(ctx context.Context, submissionIDs []string) (ExamStats, error) {
	st := ExamStats{Submissions: len(submissionIDs)}
	var sum float64
	scored := 0
	for _, id := range submissionIDs {
		meta, err := s.cfg.Artifacts.LoadMetadata(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return ExamStats{}, fmt.Errorf("load metadata %s: %w", id, err)
		}
		st.Marked++
		if !meta.IsGenerated {
			st.Failed++
			continue
		}
		st.Generated++
		if meta.TotalQuestions > 0 {
			sum += summary.Percentage(meta.TotalCorrect, meta.TotalQuestions)
			scored++
		}
	}
	if scored > 0 {
		st.MeanPercentage = math.Round(sum/float64(scored)*10) / 10
	}
	return st, nil
}

// audit failures never fail the operation they describe.
func (s *Service) audit(ctx context.Context, actor, action, target string) {
	if s.cfg.Audit == nil {
		return
	}
	if err := s.cfg.Audit.RecordEvent(ctx, store.NewEvent(actor, action, target, s.cfg.Now())); err != nil {
		s.cfg.Logger.Warn("audit event not recorded",
			observability.String("action", action),
			observability.String("target", target),
			observability.Error("error", err))
	}
}
