package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfmark/assembler"
	"github.com/wudi/pdfmark/locator"
	"github.com/wudi/pdfmark/store"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PDFMARK_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PDFMARK_TEST_DATABASE_URL not set")
	}
	s, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), " ")
	assert.Error(t, err)
}

func TestTemplateUpsert(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	doc := "doc-" + uuid.NewString()

	_, err := s.LoadTemplate(ctx, doc)
	assert.ErrorIs(t, err, store.ErrNotFound)

	first, err := locator.NewTemplate([]locator.Anchor{{Number: 1, X: 50, Y: 100, Text: "1. a"}}, 0, 1)
	require.NoError(t, err)
	require.NoError(t, s.SaveTemplate(ctx, doc, first))
	second, err := locator.NewTemplate([]locator.Anchor{{Number: 1, X: 50, Y: 100}, {Number: 2, X: 50, Y: 150}}, 1, 1)
	require.NoError(t, err)
	require.NoError(t, s.SaveTemplate(ctx, doc, second))

	got, err := s.LoadTemplate(ctx, doc)
	require.NoError(t, err)
	assert.True(t, second.Equal(got))
}

func TestArtifactMetadataAndEvents(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	sub := "sub-" + uuid.NewString()

	_, err := s.LoadMetadata(ctx, sub)
	assert.ErrorIs(t, err, store.ErrNotFound)

	loc, err := s.SaveArtifact(ctx, sub, "marked.pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Contains(t, loc, sub)
	// An artifact row without metadata is not reported as marked.
	_, err = s.LoadMetadata(ctx, sub)
	assert.ErrorIs(t, err, store.ErrNotFound)

	msg := "render job x: write: boom"
	require.NoError(t, s.SaveMetadata(ctx, sub, assembler.Metadata{TotalQuestions: 2, GenerationError: &msg}))
	meta, err := s.LoadMetadata(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.TotalQuestions)
	require.NotNil(t, meta.GenerationError)
	assert.Equal(t, msg, *meta.GenerationError)

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.RecordEvent(ctx, store.NewEvent("admin", store.ActionGenerateMarkedPDF, sub, at)))
	events, err := s.Events(ctx, sub)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "admin", events[0].Actor)

	require.NoError(t, s.PutDocument(ctx, sub, []byte("%PDF-1.7")))
	data, err := s.Load(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))
}
