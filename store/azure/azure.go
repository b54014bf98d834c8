// Package azure keeps source documents, rendered artifacts and their
// metadata in an Azure Blob Storage container.
package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/wudi/pdfmark/assembler"
	"github.com/wudi/pdfmark/store"
)

type Config struct {
	Account   string
	Key       string
	Container string
	// ServiceURL overrides https://<account>.blob.core.windows.net, e.g. for Azurite.
	ServiceURL string
}

type Store struct {
	client    *azblob.Client
	container string
	initOnce  sync.Once
	initErr   error
}

func New(cfg Config) (*Store, error) {
	account := strings.TrimSpace(cfg.Account)
	key := strings.TrimSpace(cfg.Key)
	if account == "" || key == "" {
		return nil, fmt.Errorf("azure storage account and key are required")
	}
	container := strings.TrimSpace(cfg.Container)
	if container == "" {
		return nil, fmt.Errorf("azure storage container is required")
	}
	credential, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL(cfg), credential, nil)
	if err != nil {
		return nil, fmt.Errorf("init azure client: %w", err)
	}
	return &Store{client: client, container: container}, nil
}

func serviceURL(cfg Config) string {
	if u := strings.TrimSpace(cfg.ServiceURL); u != "" {
		return strings.TrimRight(u, "/") + "/"
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", strings.TrimSpace(cfg.Account))
}

func (s *Store) ensureContainer(ctx context.Context) error {
	s.initOnce.Do(func() {
		_, err := s.client.CreateContainer(ctx, s.container, nil)
		if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			s.initErr = err
		}
	})
	if s.initErr != nil {
		return fmt.Errorf("ensure container: %w", s.initErr)
	}
	return nil
}

func (s *Store) put(ctx context.Context, blob string, data []byte) error {
	if err := s.ensureContainer(ctx); err != nil {
		return err
	}
	_, err := s.client.UploadBuffer(ctx, s.container, blob, data, nil)
	return err
}

func (s *Store) get(ctx context.Context, blob string) ([]byte, error) {
	if err := s.ensureContainer(ctx); err != nil {
		return nil, err
	}
	resp, err := s.client.DownloadStream(ctx, s.container, blob, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("%s: %w", blob, store.ErrNotFound)
		}
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// PutDocument uploads source bytes for Load.
func (s *Store) PutDocument(ctx context.Context, documentID string, data []byte) error {
	if err := store.CheckID("document_id", documentID); err != nil {
		return err
	}
	return s.put(ctx, store.DocumentKey(documentID), data)
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
	blob := store.ObjectKey(submissionID, name)
	if err := s.put(ctx, blob, data); err != nil {
		return "", err
	}
	return s.client.URL() + s.container + "/" + blob, nil
}

func (s *Store) SaveMetadata(ctx context.Context, submissionID string, meta assembler.Metadata) error {
	if err := store.CheckID("submission_id", submissionID); err != nil {
		return err
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.put(ctx, store.MetadataKey(submissionID), data)
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
