package trust

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory trust store for demo/development mode.
type MemoryStore struct {
	stats    map[string]*Stats
	outcomes map[string]struct{} // tradeID|userID|outcome
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory trust store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stats:    make(map[string]*Stats),
		outcomes: make(map[string]struct{}),
	}
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.stats[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, s *Stats) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.stats[s.UserID] = &cp
	return nil
}

func (m *MemoryStore) RecordOutcome(ctx context.Context, tradeID, userID string, outcome Outcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tradeID + "|" + userID + "|" + string(outcome)
	if _, ok := m.outcomes[key]; ok {
		return true, nil
	}
	m.outcomes[key] = struct{}{}
	return false, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
