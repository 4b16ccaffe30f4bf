package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore writes artifacts under a root directory, mirroring the object
// key as a relative path. Metadata lands in a sibling .meta.json file so
// local artifacts stay self-describing.
type FileStore struct {
	root string
}

// NewFileStore creates the local artifact backend.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// Put implements ObjectStore.
func (s *FileStore) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if len(metadata) > 0 {
		meta, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal artifact metadata: %w", err)
		}
		if err := os.WriteFile(path+".meta.json", meta, 0o644); err != nil {
			return fmt.Errorf("write artifact metadata: %w", err)
		}
	}
	return nil
}

// MemoryStore keeps artifacts in memory for tests.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]StoredObject
}

// StoredObject is one artifact held by MemoryStore.
type StoredObject struct {
	Data     []byte
	Metadata map[string]string
}

// NewMemoryStore creates the in-memory artifact backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]StoredObject)}
}

// Put implements ObjectStore.
func (s *MemoryStore) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[key] = StoredObject{Data: cp, Metadata: metadata}
	return nil
}

// Objects returns a snapshot of all stored artifacts keyed by object key.
func (s *MemoryStore) Objects() map[string]StoredObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]StoredObject, len(s.objects))
	for k, v := range s.objects {
		out[k] = v
	}
	return out
}
