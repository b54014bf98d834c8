// Package memory keeps every store collaborator in process memory. Templates
// go through their persisted JSON form so loads see exactly what a durable
// backend would return.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/wudi/pdfmark/assembler"
	"github.com/wudi/pdfmark/locator"
	"github.com/wudi/pdfmark/store"
)

type Store struct {
	mu        sync.RWMutex
	documents map[string][]byte
	templates map[string][]byte
	artifacts map[string][]byte
	metadata  map[string]assembler.Metadata
	events    []store.Event
}

func New() *Store {
	return &Store{
		documents: make(map[string][]byte),
		templates: make(map[string][]byte),
		artifacts: make(map[string][]byte),
		metadata:  make(map[string]assembler.Metadata),
	}
}

// PutDocument registers source bytes under documentID.
func (s *Store) PutDocument(documentID string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[documentID] = append([]byte(nil), data...)
}

func (s *Store) Load(_ context.Context, documentID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.documents[documentID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", documentID, store.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) SaveTemplate(_ context.Context, documentID string, tpl *locator.Template) error {
	if err := store.CheckID("document_id", documentID); err != nil {
		return err
	}
	data, err := tpl.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[documentID] = data
	return nil
}

func (s *Store) LoadTemplate(_ context.Context, documentID string) (*locator.Template, error) {
	s.mu.RLock()
	data, ok := s.templates[documentID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("template %s: %w", documentID, store.ErrNotFound)
	}
	return locator.Decode(data)
}

func (s *Store) SaveArtifact(_ context.Context, submissionID, name string, data []byte) (string, error) {
	if err := store.CheckID("submission_id", submissionID); err != nil {
		return "", err
	}
	key := store.ObjectKey(submissionID, name)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[key] = append([]byte(nil), data...)
	return "memory://" + key, nil
}

// Artifact returns the bytes saved under a location's key.
func (s *Store) Artifact(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.artifacts[key]
	return data, ok
}

func (s *Store) SaveMetadata(_ context.Context, submissionID string, meta assembler.Metadata) error {
	if err := store.CheckID("submission_id", submissionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[submissionID] = meta
	return nil
}

func (s *Store) LoadMetadata(_ context.Context, submissionID string) (assembler.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.metadata[submissionID]
	if !ok {
		return assembler.Metadata{}, fmt.Errorf("metadata %s: %w", submissionID, store.ErrNotFound)
	}
	return meta, nil
}

func (s *Store) RecordEvent(_ context.Context, ev store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns the recorded audit trail in order.
func (s *Store) Events() []store.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.Event(nil), s.events...)
}

var (
	_ store.DocumentLoader = (*Store)(nil)
	_ store.TemplateStore  = (*Store)(nil)
	_ store.ArtifactStore  = (*Store)(nil)
	_ store.AuditSink      = (*Store)(nil)
)
