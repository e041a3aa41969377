package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/lullabyte/lullabyte-backend/internal/platform/apierr"
	"github.com/lullabyte/lullabyte-backend/internal/platform/gcp"
)

// MediaStore holds rendered artifacts keyed sessionID/segmentID.{mp3,png}.
// PublicURL returns "" when the artifact has no directly-fetchable URL and
// must be served through the backend's proxy endpoints instead.
type MediaStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
	PublicURL(key string) string
}

// AudioKey and ImageKey derive the canonical artifact keys for a segment.
func AudioKey(sessionID, segmentID string) string {
	return sessionID + "/" + segmentID + ".mp3"
}

func ImageKey(sessionID, segmentID string) string {
	return sessionID + "/" + segmentID + ".png"
}

type gcsMediaStore struct {
	bucket gcp.BucketService
}

func NewGCSMediaStore(bucket gcp.BucketService) MediaStore {
	return &gcsMediaStore{bucket: bucket}
}

func (ms *gcsMediaStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ms.bucket.UploadFile(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return apierr.Storage(err)
	}
	return nil
}

func (ms *gcsMediaStore) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	attrs, err := ms.bucket.GetObjectAttrs(ctx, key)
	if err != nil {
		return nil, "", apierr.Storage(err)
	}
	rc, err := ms.bucket.DownloadFile(ctx, key)
	if err != nil {
		return nil, "", apierr.Storage(err)
	}
	return rc, attrs.ContentType, nil
}

func (ms *gcsMediaStore) PublicURL(key string) string {
	return ms.bucket.GetPublicURL(key)
}

// memoryMediaStore serves tests and keyless local development.
type memoryMediaStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

func NewMemoryMediaStore() MediaStore {
	return &memoryMediaStore{objects: map[string]memoryObject{}}
}

func (ms *memoryMediaStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	if strings.TrimSpace(key) == "" {
		return apierr.Storage(fmt.Errorf("object key required"))
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	ms.mu.Lock()
	ms.objects[key] = memoryObject{data: cp, contentType: contentType}
	ms.mu.Unlock()
	return nil
}

func (ms *memoryMediaStore) Open(_ context.Context, key string) (io.ReadCloser, string, error) {
	ms.mu.RLock()
	obj, ok := ms.objects[key]
	ms.mu.RUnlock()
	if !ok {
		return nil, "", apierr.Storage(fmt.Errorf("object %q not found", key))
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.contentType, nil
}

func (ms *memoryMediaStore) PublicURL(string) string { return "" }
