package s3

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfmark/assembler"
	"github.com/wudi/pdfmark/store"
)

func TestNewValidatesConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"endpoint", Config{}, "s3 endpoint is required"},
		{"keys", Config{Endpoint: "localhost:9000", AccessKey: "a"}, "s3 access key and secret key are required"},
		{"bucket", Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"}, "s3 bucket is required"},
	}
	for _, tc := range cases {
		_, err := New(tc.cfg)
		assert.EqualError(t, err, tc.want, tc.name)
	}

	s, err := New(Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "marks"})
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", s.region)
}

func TestRejectsBadIDsWithoutNetwork(t *testing.T) {
	s, err := New(Config{Endpoint: "localhost:1", AccessKey: "a", SecretKey: "b", Bucket: "marks"})
	require.NoError(t, err)
	_, err = s.SaveArtifact(context.Background(), "", "x.pdf", nil)
	assert.Error(t, err)
	_, err = s.Load(context.Background(), "a/b")
	assert.Error(t, err)
}

func TestMinioRoundTrip(t *testing.T) {
	endpoint := os.Getenv("PDFMARK_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("PDFMARK_TEST_S3_ENDPOINT not set")
	}
	s, err := New(Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("PDFMARK_TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("PDFMARK_TEST_S3_SECRET_KEY"),
		Bucket:    "pdfmark-test",
	})
	require.NoError(t, err)
	ctx := context.Background()
	sub := uuid.NewString()

	_, err = s.LoadMetadata(ctx, sub)
	assert.ErrorIs(t, err, store.ErrNotFound)

	loc, err := s.SaveArtifact(ctx, sub, "marked.pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "s3://pdfmark-test/"+sub+"/marked.pdf", loc)

	meta := assembler.Metadata{TotalCorrect: 1, TotalQuestions: 1, IsGenerated: true}
	require.NoError(t, s.SaveMetadata(ctx, sub, meta))
	got, err := s.LoadMetadata(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	require.NoError(t, s.PutDocument(ctx, sub, []byte("%PDF-1.7")))
	data, err := s.Load(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))
}
