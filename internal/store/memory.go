package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Accounts implementation used for tests and
// single-node development deployments.
type Memory struct {
	mu    sync.RWMutex
	users map[string]*User
	nowFn func() time.Time
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]*User),
		nowFn: time.Now,
	}
}

func (m *Memory) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *Memory) GetUsers(_ context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateUser(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[user.ID]; exists {
		return ErrDuplicate
	}
	stored := cloneUser(user)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.nowFn()
	}
	m.users[user.ID] = stored
	user.CreatedAt = stored.CreatedAt
	return nil
}

func (m *Memory) UpdateUser(_ context.Context, id string, upd Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	if upd.TrustedPeers != nil {
		u.TrustedPeers = append([]string(nil), upd.TrustedPeers...)
	}
	return nil
}
