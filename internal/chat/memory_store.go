package chat

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory message store for demo/development mode.
type MemoryStore struct {
	logs map[string][]*Message // tradeID -> messages ordered by seq
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory message store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]*Message)}
}

func (m *MemoryStore) Append(ctx context.Context, msg *Message) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.logs[msg.TradeID]
	seq := int64(len(log)) + 1
	cp := *msg
	cp.Seq = seq
	m.logs[msg.TradeID] = append(log, &cp)
	return seq, nil
}

func (m *MemoryStore) Since(ctx context.Context, tradeID string, afterSeq int64, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.logs[tradeID]
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(log)) {
		return nil, nil
	}

	var result []*Message
	for _, msg := range log[afterSeq:] {
		cp := *msg
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) Count(ctx context.Context, tradeID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.logs[tradeID])), nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
