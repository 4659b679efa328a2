package users

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory user store for demo/development mode.
type MemoryStore struct {
	users map[string]*User
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*User)}
}

func (m *MemoryStore) Create(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[u.ID]; ok {
		return ErrUserExists
	}
	m.users[u.ID] = copyUser(u)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(u), nil
}

func (m *MemoryStore) Update(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[u.ID]; !ok {
		return ErrUserNotFound
	}
	m.users[u.ID] = copyUser(u)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*User
	for _, u := range m.users {
		result = append(result, copyUser(u))
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// copyUser returns a deep copy so callers never share the stored slice
// backing array for BlockedUsers.
func copyUser(u *User) *User {
	cp := *u
	if u.BlockedUsers != nil {
		cp.BlockedUsers = make([]string, len(u.BlockedUsers))
		copy(cp.BlockedUsers, u.BlockedUsers)
	}
	return &cp
}
