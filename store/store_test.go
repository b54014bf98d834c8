package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "s1/marked.pdf", ObjectKey(" s1 ", "/marked.pdf"))
	assert.Equal(t, "s1/metadata.json", MetadataKey("s1"))
	assert.Equal(t, "documents/d1.pdf", DocumentKey("d1"))
}

func TestCheckID(t *testing.T) {
	assert.NoError(t, CheckID("submission_id", "abc-1"))
	assert.EqualError(t, CheckID("submission_id", "  "), "submission_id is required")
	assert.Error(t, CheckID("document_id", "../etc"))
	assert.Error(t, CheckID("document_id", `a\b`))
	assert.Error(t, CheckID("document_id", ".."))
}

func TestNewEvent(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	a := NewEvent("alice", ActionCreateTemplate, "doc-1", at)
	b := NewEvent("alice", ActionCreateTemplate, "doc-1", at)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, time.UTC, a.At.Location())
	assert.True(t, a.At.Equal(at))
	assert.Equal(t, "create_template", a.Action)
}
