// Package s3 keeps source documents, rendered artifacts and their metadata
// in an S3-compatible bucket through minio-go.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/wudi/pdfmark/assembler"
	"github.com/wudi/pdfmark/store"
)

type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Store struct {
	client   *minio.Client
	bucket   string
	region   string
	initOnce sync.Once
	initErr  error
}

func New(cfg Config) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &Store{client: client, bucket: bucket, region: region}, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	if s.initErr != nil {
		return fmt.Errorf("ensure bucket: %w", s.initErr)
	}
	return nil
}

func (s *Store) put(ctx context.Context, key, contentType string, data []byte) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, store.ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

// PutDocument uploads source bytes for Load.
func (s *Store) PutDocument(ctx context.Context, documentID string, data []byte) error {
	if err := store.CheckID("document_id", documentID); err != nil {
		return err
	}
	return s.put(ctx, store.DocumentKey(documentID), "application/pdf", data)
}

func (s *Store) Load(ctx context.Context, documentID string) ([]byte, error) {
	if err := store.CheckID("document_id", documentID); err != nil {
		return nil, err
	}
	return s.get(ctx, store.DocumentKey(documentID))
}

func (s *Store) SaveArtifact(ctx context.Context, submissionID, name string, data []byte) (string, error) {
	if err := store.CheckID("submission_id", submissionID); err != nil {
		return "", err
	}
	key := store.ObjectKey(submissionID, name)
	if err := s.put(ctx, key, "application/pdf", data); err != nil {
		return "", err
	}
	return "s3://" + s.bucket + "/" + key, nil
}

func (s *Store) SaveMetadata(ctx context.Context, submissionID string, meta assembler.Metadata) error {
	if err := store.CheckID("submission_id", submissionID); err != nil {
		return err
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.put(ctx, store.MetadataKey(submissionID), "application/json", data)
}

func (s *Store) LoadMetadata(ctx context.Context, submissionID string) (assembler.Metadata, error) {
	if err := store.CheckID("submission_id", submissionID); err != nil {
		return assembler.Metadata{}, err
	}
	data, err := s.get(ctx, store.MetadataKey(submissionID))
	if err != nil {
		return assembler.Metadata{}, err
	}
	var meta assembler.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return assembler.Metadata{}, fmt.Errorf("decode metadata %s: %w", submissionID, err)
	}
	return meta, nil
}

var (
	_ store.DocumentLoader = (*Store)(nil)
	_ store.ArtifactStore  = (*Store)(nil)
)
