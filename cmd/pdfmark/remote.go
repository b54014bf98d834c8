package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/wudi/pdfmark/config"
	"github.com/wudi/pdfmark/engine"
	"github.com/wudi/pdfmark/marker"
	"github.com/wudi/pdfmark/observability"
	"github.com/wudi/pdfmark/service"
	"github.com/wudi/pdfmark/store"
	"github.com/wudi/pdfmark/store/azure"
	"github.com/wudi/pdfmark/store/fs"
	"github.com/wudi/pdfmark/store/postgres"
	"github.com/wudi/pdfmark/store/s3"
	"github.com/wudi/pdfmark/summary"
)

type documentStore interface {
	store.DocumentLoader
	PutDocument(ctx context.Context, documentID string, data []byte) error
}

type blobStore interface {
	documentStore
	store.ArtifactStore
}

// backends are the collaborators selected by the environment.
type backends struct {
	documents documentStore
	templates store.TemplateStore
	artifacts store.ArtifactStore
	audit     store.AuditSink
	close     func()
}

// openBackends puts documents and artifacts on the configured blob backend,
// and templates and the audit trail in Postgres when a database URL is set,
// otherwise in the local fs store.
func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{close: func() {}}
	var blobs blobStore
	switch cfg.Artifact.Backend {
	case config.BackendS3:
		s, err := s3.New(cfg.Artifact.S3)
		if err != nil {
			return nil, err
		}
		blobs = s
	case config.BackendAzure:
		s, err := azure.New(cfg.Artifact.Azure)
		if err != nil {
			return nil, err
		}
		blobs = s
	}

	if blobs == nil || cfg.DatabaseURL == "" {
		local, err := fs.New(cfg.Artifact.Dir)
		if err != nil {
			return nil, err
		}
		if blobs == nil {
			blobs = local
		}
		b.templates, b.audit = local, local
	}
	b.documents, b.artifacts = blobs, blobs

	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.templates, b.audit = db, db
		b.close = func() { _ = db.Close() }
	}
	return b, nil
}

func openService(ctx context.Context, env *cliEnv) (*service.Service, *backends, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		env.log.SetLevel(lvl)
	}
	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return nil, nil, err
	}
	b, err := openBackends(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	logger := env.logger().With(observability.String("env", cfg.Env))
	svc, err := service.New(service.Config{
		Engine: engine.New(engine.Config{
			Style:       profile.Style,
			Layout:      profile.Summary,
			Concurrency: cfg.RenderConcurrency,
			Logger:      logger,
		}),
		Documents: b.documents,
		Templates: b.templates,
		Artifacts: b.artifacts,
		Audit:     b.audit,
		CacheSize: cfg.TemplateCacheSize,
		Logger:    logger,
	})
	if err != nil {
		b.close()
		return nil, nil, err
	}
	return svc, b, nil
}

func runUpload(ctx context.Context, env *cliEnv, args []string) error {
	fl := flag.NewFlagSet("upload", flag.ContinueOnError)
	doc := fl.String("document", "", "Document ID")
	if err := parseFlags(fl, args, 1); err != nil {
		return err
	}
	if err := store.CheckID("document_id", *doc); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	data, err := os.ReadFile(fl.Arg(0))
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}
	_, b, err := openService(ctx, env)
	if err != nil {
		return err
	}
	defer b.close()
	return b.documents.PutDocument(ctx, *doc, data)
}

func runSubmit(ctx context.Context, env *cliEnv, args []string) error {
	fl := flag.NewFlagSet("submit", flag.ContinueOnError)
	doc := fl.String("document", "", "Source document ID")
	sub := fl.String("submission", "", "Submission ID")
	verdictsPath := fl.String("verdicts", "", "Verdicts JSON file")
	owner := fl.String("owner", "", "Candidate name for the summary")
	subject := fl.String("subject", "", "Exam name for the summary")
	actor := fl.String("actor", "cli", "Actor recorded in the audit trail")
	if err := parseFlags(fl, args, 0); err != nil {
		return err
	}
	if *doc == "" || *sub == "" || *verdictsPath == "" {
		fl.Usage()
		return fmt.Errorf("%w: -document, -submission and -verdicts are required", errUsage)
	}
	raw, err := os.ReadFile(*verdictsPath)
	if err != nil {
		return fmt.Errorf("read verdicts: %w", err)
	}
	verdicts, err := marker.ParseVerdicts(raw)
	if err != nil {
		return err
	}
	svc, b, err := openService(ctx, env)
	if err != nil {
		return err
	}
	defer b.close()
	res, err := svc.MarkSubmission(ctx, service.Submission{
		ID:         *sub,
		DocumentID: *doc,
		Verdicts:   verdicts,
		Labels:     summary.Labels{Owner: *owner, Subject: *subject},
	}, *actor)
	if err != nil {
		return err
	}
	if err := emitJSON(env.stdout, res); err != nil {
		return err
	}
	return res.Err
}

func runRebuild(ctx context.Context, env *cliEnv, args []string) error {
	fl := flag.NewFlagSet("rebuild", flag.ContinueOnError)
	doc := fl.String("document", "", "Source document ID")
	actor := fl.String("actor", "cli", "Actor recorded in the audit trail")
	if err := parseFlags(fl, args, 0); err != nil {
		return err
	}
	if *doc == "" {
		fl.Usage()
		return fmt.Errorf("%w: -document is required", errUsage)
	}
	svc, b, err := openService(ctx, env)
	if err != nil {
		return err
	}
	defer b.close()
	tpl, err := svc.Rebuild(ctx, *doc, *actor)
	if err != nil {
		return err
	}
	return emitJSON(env.stdout, tpl)
}

func runStats(ctx context.Context, env *cliEnv, args []string) error {
	fl := flag.NewFlagSet("stats", flag.ContinueOnError)
	if err := parseFlags(fl, args, -1); err != nil {
		return err
	}
	if fl.NArg() == 0 {
		return errors.Join(errUsage, errors.New("at least one submission ID is required"))
	}
	svc, b, err := openService(ctx, env)
	if err != nil {
		return err
	}
	defer b.close()
	st, err := svc.ExamStats(ctx, fl.Args())
	if err != nil {
		return err
	}
	return emitJSON(env.stdout, st)
}
