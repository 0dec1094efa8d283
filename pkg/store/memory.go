package store

import (
	"context"
	"sync"

	"github.com/openresponses/gateway/pkg/protocol"
)

// MemoryStore keeps responses in a process-local map. The default store for
// dev and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	response protocol.Response
	items    []protocol.InputItem
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

func (s *MemoryStore) Store(ctx context.Context, response *protocol.Response, inputItems []protocol.InputItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[response.ID] = memoryRecord{
		response: *response,
		items:    ensureItemIDs(inputItems),
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*protocol.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[id]
	if !exists {
		return nil, protocol.NewError(protocol.ErrNotFound, "response "+id+" not found")
	}
	response := record.response
	return &response, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

func (s *MemoryStore) ListInputItems(ctx context.Context, id string, opts protocol.ListInputItemsOptions) (*protocol.InputItemList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[id]
	if !exists {
		return nil, protocol.NewError(protocol.ErrNotFound, "response "+id+" not found")
	}
	return pageItems(record.items, opts), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
