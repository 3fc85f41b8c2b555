package artifact

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, snapshotID, path string, content []byte) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	id, p, err := normalize(snapshotID, path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id+"/"+p] = append([]byte(nil), content...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, snapshotID, path string) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	id, p, err := normalize(snapshotID, path)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.data[id+"/"+p]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), raw...), nil
}

func (s *MemoryStore) List(_ context.Context, snapshotID string) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	id, err := normalizeID(snapshotID)
	if err != nil {
		return nil, err
	}
	prefix := id + "/"
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, 16)
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			out = append(out, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(out)
	return out, nil
}

// GetURL has nothing to link to for in-memory content.
func (s *MemoryStore) GetURL(context.Context, string, string) (string, error) {
	return "", nil
}
