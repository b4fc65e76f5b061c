package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"clinical-dictation-service/internal/platform"
)

type memObject struct {
	blob    platform.Blob
	deleted bool
}

// Memory implements Store in process. Signed URLs use the memory:// scheme.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]*memObject
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]*memObject)}
}

func (m *Memory) Upload(ctx context.Context, bucket, path string, blob *platform.Blob) (string, error) {
	if blob.Size() == 0 {
		return "", fmt.Errorf("upload: empty blob")
	}
	m.mu.Lock()
	m.objects[bucket+"/"+path] = &memObject{blob: platform.Blob{
		Data:     append([]byte(nil), blob.Data...),
		MIMEType: blob.MIMEType,
	}}
	m.mu.Unlock()
	return path, nil
}

func (m *Memory) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	if _, err := m.Get(bucket, path); err != nil {
		return "", err
	}
	return fmt.Sprintf("memory://%s/%s?expires=%d", bucket, path, time.Now().Add(ttl).Unix()), nil
}

func (m *Memory) Delete(ctx context.Context, bucket, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[bucket+"/"+path]
	if !ok {
		return ErrNotFound
	}
	obj.deleted = true
	return nil
}

// Get returns a live object.
func (m *Memory) Get(bucket, path string) (*platform.Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[bucket+"/"+path]
	if !ok || obj.deleted {
		return nil, ErrNotFound
	}
	b := obj.blob
	return &b, nil
}
