package store

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/zhouzirui/tofu-tavern/backend/internal/model/chat"
)

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]chat.Snapshot
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: map[string]chat.Snapshot{}}
}

func (s *MemoryStore) Save(_ context.Context, snapshot chat.Snapshot) error {
	if strings.TrimSpace(snapshot.ID) == "" {
		return errors.New("memory store: empty snapshot id")
	}
	s.mu.Lock()
	s.snapshots[snapshot.ID] = cloneSnapshot(snapshot)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (chat.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.snapshots[id]
	if !ok {
		return chat.Snapshot{}, ErrNotFound
	}
	return cloneSnapshot(snapshot), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[id]; !ok {
		return ErrNotFound
	}
	delete(s.snapshots, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
