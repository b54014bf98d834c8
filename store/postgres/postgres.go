// Package postgres persists templates, artifacts, metadata, source documents
// and audit events in PostgreSQL through the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/wudi/pdfmark/assembler"
	"github.com/wudi/pdfmark/locator"
	"github.com/wudi/pdfmark/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS pdfmark_documents (
  document_id TEXT PRIMARY KEY,
  content BYTEA NOT NULL,
  updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS pdfmark_templates (
  document_id TEXT PRIMARY KEY,
  template JSONB NOT NULL,
  detected_count INTEGER NOT NULL,
  updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS pdfmark_artifacts (
  submission_id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  content BYTEA NOT NULL DEFAULT ''::bytea,
  total_correct INTEGER NOT NULL DEFAULT 0,
  total_questions INTEGER NOT NULL DEFAULT 0,
  is_generated BOOLEAN NOT NULL DEFAULT FALSE,
  generation_error TEXT,
  has_metadata BOOLEAN NOT NULL DEFAULT FALSE,
  updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS pdfmark_audit_events (
  id TEXT PRIMARY KEY,
  actor TEXT NOT NULL,
  action TEXT NOT NULL,
  target TEXT NOT NULL,
  at TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pdfmark_audit_target ON pdfmark_audit_events (target);
`

type Store struct {
	db         *sql.DB
	schemaOnce sync.Once
	schemaErr  error
}

// Open connects with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db), nil
}

func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("db is nil")
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, schema)
	})
	return s.schemaErr
}

// PutDocument stores source bytes for Load.
func (s *Store) PutDocument(ctx context.Context, documentID string, data []byte) error {
	if err := store.CheckID("document_id", documentID); err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pdfmark_documents (document_id, content, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (document_id)
DO UPDATE SET content=EXCLUDED.content, updated_at=EXCLUDED.updated_at
`, documentID, data, time.Now().UTC())
	return err
}

func (s *Store) Load(ctx context.Context, documentID string) ([]byte, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM pdfmark_documents WHERE document_id=$1`, documentID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", documentID, store.ErrNotFound)
	}
	return content, err
}

// SaveTemplate replaces the document's template. The primary key keeps
// one template per document.
func (s *Store) SaveTemplate(ctx context.Context, documentID string, tpl *locator.Template) error {
	if err := store.CheckID("document_id", documentID); err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	data, err := tpl.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO pdfmark_templates (document_id, template, detected_count, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (document_id)
DO UPDATE SET template=EXCLUDED.template, detected_count=EXCLUDED.detected_count, updated_at=EXCLUDED.updated_at
`, documentID, string(data), tpl.DetectedCount(), time.Now().UTC())
	return err
}

func (s *Store) LoadTemplate(ctx context.Context, documentID string) (*locator.Template, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT template FROM pdfmark_templates WHERE document_id=$1`, documentID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", documentID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return locator.Decode([]byte(data))
}

func (s *Store) SaveArtifact(ctx context.Context, submissionID, name string, data []byte) (string, error) {
	if err := store.CheckID("submission_id", submissionID); err != nil {
		return "", err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return "", err
	}
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pdfmark_artifacts (submission_id, name, content, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (submission_id)
DO UPDATE SET name=EXCLUDED.name, content=EXCLUDED.content, updated_at=EXCLUDED.updated_at
`, submissionID, name, data, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return "postgres://pdfmark_artifacts/" + submissionID, nil
}

func (s *Store) SaveMetadata(ctx context.Context, submissionID string, meta assembler.Metadata) error {
	if err := store.CheckID("submission_id", submissionID); err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	var genErr sql.NullString
	if meta.GenerationError != nil {
		genErr = sql.NullString{String: *meta.GenerationError, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pdfmark_artifacts (submission_id, total_correct, total_questions, is_generated, generation_error, has_metadata, updated_at)
VALUES ($1, $2, $3, $4, $5, TRUE, $6)
ON CONFLICT (submission_id)
DO UPDATE SET total_correct=EXCLUDED.total_correct, total_questions=EXCLUDED.total_questions,
  is_generated=EXCLUDED.is_generated, generation_error=EXCLUDED.generation_error,
  has_metadata=TRUE, updated_at=EXCLUDED.updated_at
`, submissionID, meta.TotalCorrect, meta.TotalQuestions, meta.IsGenerated, genErr, time.Now().UTC())
	return err
}

func (s *Store) LoadMetadata(ctx context.Context, submissionID string) (assembler.Metadata, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return assembler.Metadata{}, err
	}
	var (
		meta   assembler.Metadata
		genErr sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
SELECT total_correct, total_questions, is_generated, generation_error
FROM pdfmark_artifacts WHERE submission_id=$1 AND has_metadata`, submissionID).
		Scan(&meta.TotalCorrect, &meta.TotalQuestions, &meta.IsGenerated, &genErr)
	if errors.Is(err, sql.ErrNoRows) {
		return assembler.Metadata{}, fmt.Errorf("metadata %s: %w", submissionID, store.ErrNotFound)
	}
	if err != nil {
		return assembler.Metadata{}, err
	}
	if genErr.Valid {
		meta.GenerationError = &genErr.String
	}
	return meta, nil
}

func (s *Store) RecordEvent(ctx context.Context, ev store.Event) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pdfmark_audit_events (id, actor, action, target, at)
VALUES ($1, $2, $3, $4, $5)
`, ev.ID, ev.Actor, ev.Action, ev.Target, ev.At)
	return err
}

// Events lists the audit trail for one target, oldest first.
func (s *Store) Events(ctx context.Context, target string) ([]store.Event, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, actor, action, target, at FROM pdfmark_audit_events WHERE target=$1 ORDER BY at, id`, target)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Event
	for rows.Next() {
		var ev store.Event
		if err := rows.Scan(&ev.ID, &ev.Actor, &ev.Action, &ev.Target, &ev.At); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

var (
	_ store.DocumentLoader = (*Store)(nil)
	_ store.TemplateStore  = (*Store)(nil)
	_ store.ArtifactStore  = (*Store)(nil)
	_ store.AuditSink      = (*Store)(nil)
)
