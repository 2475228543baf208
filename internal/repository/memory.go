package repository

import (
	"context"
	"sync"
)

// MemoryStore keeps records for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]*Record)}
}

// Save implements Repository.
func (s *MemoryStore) Save(ctx context.Context, r *Record) error {
	prepare(r)
	cp := *r

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.Network] = append(s.records[r.Network], &cp)
	return nil
}

// Latest implements Repository.
func (s *MemoryStore) Latest(ctx context.Context, network, contract string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.records[network]
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].ContractName == contract {
			cp := *records[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// List implements Repository.
func (s *MemoryStore) List(ctx context.Context, network string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.records[network]
	out := make([]*Record, 0, len(records))
	for _, r := range records {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

// Close implements Repository.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Repository = (*MemoryStore)(nil)
