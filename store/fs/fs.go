// Package fs stores documents, templates, artifacts and the audit log under
// a directory tree. Every file is replaced atomically.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/wudi/pdfmark/assembler"
	"github.com/wudi/pdfmark/locator"
	"github.com/wudi/pdfmark/store"
)

// Store layout under root:
//
//	documents/<document>.pdf
//	templates/<document>.json
//	artifacts/<submission>/<name>
//	artifacts/<submission>/metadata.json
//	audit.log
type Store struct {
	root string
	mu   sync.Mutex // serialises audit appends
}

func New(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("fs store root is required")
	}
	for _, dir := range []string{"documents", "templates", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), store.ErrNotFound)
	}
	return data, err
}

// PutDocument copies source bytes into the document area.
func (s *Store) PutDocument(_ context.Context, documentID string, data []byte) error {
	if err := store.CheckID("document_id", documentID); err != nil {
		return err
	}
	return assembler.WriteFile(filepath.Join(s.root, "documents", documentID+".pdf"), data, 0o644)
}

func (s *Store) Load(_ context.Context, documentID string) ([]byte, error) {
	if err := store.CheckID("document_id", documentID); err != nil {
		return nil, err
	}
	return s.read(filepath.Join(s.root, "documents", documentID+".pdf"))
}

func (s *Store) SaveTemplate(_ context.Context, documentID string, tpl *locator.Template) error {
	if err := store.CheckID("document_id", documentID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tpl, "", "  ")
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	return assembler.WriteFile(filepath.Join(s.root, "templates", documentID+".json"), data, 0o644)
}

func (s *Store) LoadTemplate(_ context.Context, documentID string) (*locator.Template, error) {
	if err := store.CheckID("document_id", documentID); err != nil {
		return nil, err
	}
	data, err := s.read(filepath.Join(s.root, "templates", documentID+".json"))
	if err != nil {
		return nil, err
	}
	return locator.Decode(data)
}

func (s *Store) artifactDir(submissionID string) (string, error) {
	if err := store.CheckID("submission_id", submissionID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, "artifacts", submissionID), nil
}

func (s *Store) SaveArtifact(_ context.Context, submissionID, name string, data []byte) (string, error) {
	dir, err := s.artifactDir(submissionID)
	if err != nil {
		return "", err
	}
	if err := store.CheckID("artifact name", name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := assembler.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) SaveMetadata(_ context.Context, submissionID string, meta assembler.Metadata) error {
	dir, err := s.artifactDir(submissionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return assembler.WriteFile(filepath.Join(dir, "metadata.json"), data, 0o644)
}

func (s *Store) LoadMetadata(_ context.Context, submissionID string) (assembler.Metadata, error) {
	dir, err := s.artifactDir(submissionID)
	if err != nil {
		return assembler.Metadata{}, err
	}
	data, err := s.read(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return assembler.Metadata{}, err
	}
	var meta assembler.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return assembler.Metadata{}, fmt.Errorf("decode metadata %s: %w", submissionID, err)
	}
	return meta, nil
}

// RecordEvent appends one JSON line to audit.log.
func (s *Store) RecordEvent(_ context.Context, ev store.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(s.root, "audit.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append audit log: %w", err)
	}
	return f.Close()
}

var (
	_ store.DocumentLoader = (*Store)(nil)
	_ store.TemplateStore  = (*Store)(nil)
	_ store.ArtifactStore  = (*Store)(nil)
	_ store.AuditSink      = (*Store)(nil)
)
