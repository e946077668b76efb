package blob

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBucket is an in-process Bucket for local mode and tests.
type MemoryBucket struct {
	name string

	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

func NewMemoryBucket(name string) *MemoryBucket {
	return &MemoryBucket{
		name:    name,
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *MemoryBucket) Name() string { return m.name }

func (m *MemoryBucket) Upload(_ context.Context, data []byte, path, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[path] = buf
	m.types[path] = contentType
	return MakeURI(m.name, path), nil
}

func (m *MemoryBucket) Download(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, path)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryBucket) Exists(_ context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[path]
	return ok, nil
}

func (m *MemoryBucket) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	delete(m.types, path)
	return nil
}

// ContentType returns the stored content type, for assertions in tests.
func (m *MemoryBucket) ContentType(path string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.types[path]
}
