// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu    sync.RWMutex
	links map[string]*ThreadLink // keyed by local ID

	// Err, when set, is returned by every method. Tests use it to simulate
	// an unavailable database.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		links: make(map[string]*ThreadLink),
	}
}

// CreateLink stores a new link.
func (m *MockStore) CreateLink(ctx context.Context, link *ThreadLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.links[link.LocalID]; ok {
		return ErrDuplicateLink
	}
	if m.conflictLocked(link) {
		return ErrDuplicateLink
	}

	// Make a copy to avoid external modification
	l := *link
	m.links[l.LocalID] = &l
	return nil
}

// conflictLocked reports whether another link already holds link's
// external or registry id.
func (m *MockStore) conflictLocked(link *ThreadLink) bool {
	for id, other := range m.links {
		if id == link.LocalID {
			continue
		}
		if link.ExternalID != "" && other.ExternalID == link.ExternalID {
			return true
		}
		if link.RegistryID != "" && other.RegistryID == link.RegistryID {
			return true
		}
	}
	return false
}

// GetLink retrieves a link by local ID.
func (m *MockStore) GetLink(ctx context.Context, localID string) (*ThreadLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	l, ok := m.links[localID]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *l
	return &result, nil
}

// GetLinkByExternalID retrieves the link holding a durable ID.
func (m *MockStore) GetLinkByExternalID(ctx context.Context, externalID string) (*ThreadLink, error) {
	return m.find(func(l *ThreadLink) bool { return externalID != "" && l.ExternalID == externalID })
}

// GetLinkByRegistryID retrieves the link holding a registry ID.
func (m *MockStore) GetLinkByRegistryID(ctx context.Context, registryID string) (*ThreadLink, error) {
	return m.find(func(l *ThreadLink) bool { return registryID != "" && l.RegistryID == registryID })
}

func (m *MockStore) find(match func(*ThreadLink) bool) (*ThreadLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	for _, l := range m.links {
		if match(l) {
			result := *l
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateLink updates an existing link.
func (m *MockStore) UpdateLink(ctx context.Context, link *ThreadLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	existing, ok := m.links[link.LocalID]
	if !ok {
		return ErrNotFound
	}
	if m.conflictLocked(link) {
		return ErrDuplicateLink
	}

	l := *link
	l.CreatedAt = existing.CreatedAt
	m.links[l.LocalID] = &l
	return nil
}

// ListLinks returns links ordered by UpdatedAt descending.
func (m *MockStore) ListLinks(ctx context.Context, limit int) ([]*ThreadLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if limit <= 0 {
		limit = 100
	}

	result := make([]*ThreadLink, 0, len(m.links))
	for _, l := range m.links {
		c := *l
		result = append(result, &c)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].LocalID < result[j].LocalID
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// DeleteLink removes a link.
func (m *MockStore) DeleteLink(ctx context.Context, localID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.links[localID]; !ok {
		return ErrNotFound
	}
	delete(m.links, localID)
	return nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
