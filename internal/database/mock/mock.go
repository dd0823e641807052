// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// MockStore is an in-memory implementation of database.Store
type MockStore struct {
	mu         sync.RWMutex
	identities []database.StoredIdentity
	events     []database.StoredEvent

	// Error injection
	ListError   error
	AppendError error
	LatestError error
	HasError    error
	RecentError error
	PingError   error
	UpsertError error

	// Call counters
	AppendCalls int
	Closed      bool
}

// NewMockStore creates a new mock store
func NewMockStore() *MockStore {
	return &MockStore{}
}

// AddIdentity adds an identity to the mock store
func (m *MockStore) AddIdentity(identity database.StoredIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities = append(m.identities, identity)
}

// SetIdentities replaces all identities
func (m *MockStore) SetIdentities(identities []database.StoredIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities = slices.Clone(identities)
}

// AddEvent adds an event without going through AppendEvent (no counters, no errors)
func (m *MockStore) AddEvent(event database.StoredEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events returns a copy of all stored events in insertion order
func (m *MockStore) Events() []database.StoredEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events)
}

// ListIdentities returns all identities ordered by id
func (m *MockStore) ListIdentities(ctx context.Context) ([]database.StoredIdentity, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.identities)
	slices.SortStableFunc(out, func(a, b database.StoredIdentity) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

// AppendEvent stores an event
func (m *MockStore) AppendEvent(ctx context.Context, event *database.StoredEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendCalls++
	if m.AppendError != nil {
		return m.AppendError
	}
	m.events = append(m.events, *event)
	return nil
}

// LatestEventTimes returns the newest event per identity since the given time
func (m *MockStore) LatestEventTimes(ctx context.Context, since time.Time) (map[string]time.Time, error) {
	if m.LatestError != nil {
		return nil, m.LatestError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	latest := make(map[string]time.Time)
	for _, e := range m.events {
		if e.Timestamp.Before(since) {
			continue
		}
		if cur, ok := latest[e.IdentityID]; !ok || e.Timestamp.After(cur) {
			latest[e.IdentityID] = e.Timestamp
		}
	}
	return latest, nil
}

// HasEventSince reports whether the identity has an event at or after since
func (m *MockStore) HasEventSince(ctx context.Context, identityID string, since time.Time) (bool, error) {
	if m.HasError != nil {
		return false, m.HasError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.events {
		if e.IdentityID == identityID && !e.Timestamp.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// RecentEvents returns up to limit events, newest first
func (m *MockStore) RecentEvents(ctx context.Context, limit int) ([]database.StoredEvent, error) {
	if m.RecentError != nil {
		return nil, m.RecentError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.events)
	slices.SortStableFunc(out, func(a, b database.StoredEvent) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping returns PingError
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingError
}

// Close marks the store closed
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// UpsertIdentity replaces the identity with the same id or appends it
func (m *MockStore) UpsertIdentity(ctx context.Context, identity database.StoredIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertError != nil {
		return m.UpsertError
	}
	for i := range m.identities {
		if m.identities[i].ID == identity.ID {
			m.identities[i] = identity
			return nil
		}
	}
	m.identities = append(m.identities, identity)
	return nil
}

var (
	_ database.Store          = (*MockStore)(nil)
	_ database.IdentityWriter = (*MockStore)(nil)
)
