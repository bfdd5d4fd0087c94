package evidence

import (
	"context"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"livecheck/pkg/platform/sentinel"
)

// Store persists evidence bytes and returns the opaque reference to them.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Blob is a stored object held by MemoryStore.
type Blob struct {
	ContentType string
	Data        []byte
}

// MemoryStore keeps blobs in process. Used in tests and single-node runs.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]Blob)}
}

func (s *MemoryStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[key] = Blob{ContentType: contentType, Data: cp}
	return "mem://" + key, nil
}

// Get returns a stored blob by key.
func (s *MemoryStore) Get(key string) (Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	if !ok {
		return Blob{}, sentinel.ErrNotFound
	}
	return b, nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// uploader is the subset of *azblob.Client used by AzureStore.
type uploader interface {
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

// AzureStore writes evidence to an Azure Blob Storage container.
type AzureStore struct {
	client    uploader
	container string
}

// NewAzureStore connects using a storage account connection string.
func NewAzureStore(connectionString, container string) (*AzureStore, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure blob client: %w", err)
	}
	return &AzureStore{client: client, container: container}, nil
}

func (s *AzureStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := s.client.UploadBuffer(ctx, s.container, key, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", fmt.Errorf("upload evidence %s: %w", key, err)
	}
	return fmt.Sprintf("azblob://%s/%s", s.container, key), nil
}
