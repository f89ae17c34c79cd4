package roster

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory roster for tests and single-node
// development runs.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]map[string]*User // tenant -> user -> entry
}

// NewMemoryStore creates an empty in-memory roster.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]map[string]*User)}
}

func (m *MemoryStore) Upsert(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant, ok := m.users[u.TenantID]
	if !ok {
		tenant = make(map[string]*User)
		m.users[u.TenantID] = tenant
	}
	if existing, ok := tenant[u.UserID]; ok {
		existing.UserKind = u.UserKind
		existing.Active = true
		existing.UpdatedAt = u.UpdatedAt
		return nil
	}
	cp := *u
	cp.Active = true
	tenant[u.UserID] = &cp
	return nil
}

func (m *MemoryStore) Deactivate(ctx context.Context, tenantID, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[tenantID][userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Active = false
	u.UpdatedAt = at
	return nil
}

func (m *MemoryStore) ListActive(ctx context.Context, tenantID string) ([]*User, error) {
	return m.list(tenantID, true), nil
}

func (m *MemoryStore) List(ctx context.Context, tenantID string) ([]*User, error) {
	return m.list(tenantID, false), nil
}

func (m *MemoryStore) list(tenantID string, activeOnly bool) []*User {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*User, 0, len(m.users[tenantID]))
	for _, u := range m.users[tenantID] {
		if activeOnly && !u.Active {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
