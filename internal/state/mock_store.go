package state

import (
	"sort"
	"sync"

	"github.com/TheMichaelB/secretsync/internal/models"
)

// MockStore is an in-memory Store for tests.
type MockStore struct {
	mu     sync.RWMutex
	states map[string]*models.SyncState

	// SaveErr, when set, is returned by every Save.
	SaveErr error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a mock state store.
func NewMockStore() *MockStore {
	return &MockStore{
		states: make(map[string]*models.SyncState),
	}
}

// Load returns a copy of the stored state.
func (m *MockStore) Load(id string) (*models.SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if st, ok := m.states[id]; ok {
		return st.Clone(), nil
	}
	return nil, ErrStateNotFound
}

// Save stores a copy of st.
func (m *MockStore) Save(st *models.SyncState) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	if err := validateForSave(st); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[st.ID] = st.Clone()
	return nil
}

// Reset removes sync state.
func (m *MockStore) Reset(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, id)
	return nil
}

// List returns all state IDs with stored state.
func (m *MockStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close closes the store (no-op for mock).
func (m *MockStore) Close() error {
	return nil
}
