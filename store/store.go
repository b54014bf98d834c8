// Package store defines the collaborators the marking service depends on:
// source documents, persisted templates, rendered artifacts and the audit
// trail. Backends live in the sub-packages.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wudi/pdfmark/assembler"
	"github.com/wudi/pdfmark/locator"
)

// ErrNotFound is returned by loaders when the key has no value.
var ErrNotFound = errors.New("not found")

// Audit actions recorded around template builds and renders.
const (
	ActionCreateTemplate    = "create_template"
	ActionUpdateTemplate    = "update_template"
	ActionGenerateMarkedPDF = "generate_marked_pdf"
)

// DocumentLoader fetches the original bytes of a source document.
type DocumentLoader interface {
	Load(ctx context.Context, documentID string) ([]byte, error)
}

// TemplateStore persists one template per source document. LoadTemplate
// returns ErrNotFound when the document has none.
type TemplateStore interface {
	SaveTemplate(ctx context.Context, documentID string, tpl *locator.Template) error
	LoadTemplate(ctx context.Context, documentID string) (*locator.Template, error)
}

// ArtifactStore persists one rendered artifact and its metadata per
// submission. SaveArtifact returns the artifact's location.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, submissionID, name string, data []byte) (string, error)
	SaveMetadata(ctx context.Context, submissionID string, meta assembler.Metadata) error
	LoadMetadata(ctx context.Context, submissionID string) (assembler.Metadata, error)
}

// AuditSink records who did what to which entity.
type AuditSink interface {
	RecordEvent(ctx context.Context, ev Event) error
}

type Event struct {
	ID     string    `json:"id"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	At     time.Time `json:"at"`
}

// NewEvent stamps an event with a random ID.
func NewEvent(actor, action, target string, at time.Time) Event {
	return Event{ID: uuid.NewString(), Actor: actor, Action: action, Target: target, At: at.UTC()}
}

// ObjectKey joins a submission ID and a file name into a blob key.
func ObjectKey(submissionID, name string) string {
	return strings.TrimSpace(submissionID) + "/" + strings.TrimLeft(strings.TrimSpace(name), "/")
}

// MetadataKey is the blob key of a submission's metadata document.
func MetadataKey(submissionID string) string { return ObjectKey(submissionID, "metadata.json") }

// DocumentKey is the blob key of a source document.
func DocumentKey(documentID string) string {
	return "documents/" + strings.TrimSpace(documentID) + ".pdf"
}

// CheckID rejects blank identifiers and ones that would escape a key prefix.
func CheckID(kind, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New(kind + " is required")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return errors.New(kind + " contains a path separator")
	}
	return nil
}
