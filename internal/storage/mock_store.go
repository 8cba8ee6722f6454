package storage

import (
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
)

// MockStore provides an in-memory BlobStore for testing.
type MockStore struct {
	mu    sync.RWMutex
	files map[string][]byte
	modes map[string]os.FileMode

	// WriteErrors makes Write fail for the given paths.
	WriteErrors map[string]error
}

var _ BlobStore = (*MockStore)(nil)

// NewMockStore creates a mock blob store.
func NewMockStore() *MockStore {
	return &MockStore{
		files:       make(map[string][]byte),
		modes:       make(map[string]os.FileMode),
		WriteErrors: make(map[string]error),
	}
}

// Base returns a fixed fake base directory.
func (m *MockStore) Base() string {
	return "/mock"
}

// Write saves data to a file.
func (m *MockStore) Write(path string, data []byte, mode os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.WriteErrors[path]; ok {
		return err
	}

	m.files[path] = append([]byte(nil), data...)
	m.modes[path] = mode
	return nil
}

// Read retrieves file contents.
func (m *MockStore) Read(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if data, ok := m.files[path]; ok {
		return append([]byte(nil), data...), nil
	}

	return nil, fmt.Errorf("read %s: %w", path, fs.ErrNotExist)
}

// Delete removes a file.
func (m *MockStore) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.files, path)
	delete(m.modes, path)
	return nil
}

// Exists checks if a file exists.
func (m *MockStore) Exists(path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.files[path]
	return exists, nil
}

// List returns stored paths ending in suffix, sorted.
func (m *MockStore) List(suffix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var files []string
	for path := range m.files {
		if strings.HasSuffix(path, suffix) {
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files, nil
}

// DeleteMatching removes stored paths ending in suffix.
func (m *MockStore) DeleteMatching(suffix string) (int, error) {
	files, _ := m.List(suffix)
	for _, f := range files {
		_ = m.Delete(f)
	}
	return len(files), nil
}

// Helper methods for testing

// FileExists checks if a file exists (helper for tests).
func (m *MockStore) FileExists(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.files[path]
	return exists
}

// Mode returns the mode a file was written with.
func (m *MockStore) Mode(path string) os.FileMode {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.modes[path]
}

// Clear removes all files.
func (m *MockStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files = make(map[string][]byte)
	m.modes = make(map[string]os.FileMode)
}
