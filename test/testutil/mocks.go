package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/TheMichaelB/secretsync/internal/crypto"
	"github.com/TheMichaelB/secretsync/internal/models"
)

// MockRepository mocks the remote side of a sync.
type MockRepository struct {
	mock.Mock

	mu      sync.Mutex
	written []models.Artifact
	cleaned int
}

// NewMockRepository creates a repository mock.
func NewMockRepository() *MockRepository {
	return &MockRepository{}
}

func (m *MockRepository) PullEncryptedArtifacts(ctx context.Context, branch string) ([]models.Artifact, error) {
	args := m.Called(ctx, branch)

	if artifacts := args.Get(0); artifacts != nil {
		return artifacts.([]models.Artifact), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) PrepareRepository(ctx context.Context, branch string) error {
	return m.Called(ctx, branch).Error(0)
}

func (m *MockRepository) WriteEncryptedArtifacts(artifacts []models.Artifact) error {
	m.mu.Lock()
	m.written = append(m.written, artifacts...)
	m.mu.Unlock()

	return m.Called(artifacts).Error(0)
}

func (m *MockRepository) CommitAndPush(ctx context.Context, message, branch string) (bool, error) {
	args := m.Called(ctx, message, branch)
	return args.Bool(0), args.Error(1)
}

// Cleanup is not scripted; it only counts calls.
func (m *MockRepository) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleaned++
	return nil
}

// Written returns every artifact passed to WriteEncryptedArtifacts.
func (m *MockRepository) Written() []models.Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Artifact(nil), m.written...)
}

// CleanupCalls returns how many times Cleanup ran.
func (m *MockRepository) CleanupCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleaned
}

// ErrMockEncrypt is returned by FailingCrypto for configured inputs.
var ErrMockEncrypt = errors.New("mock encrypt failure")

// FailingCrypto wraps a real engine and fails Encrypt for chosen plaintexts.
type FailingCrypto struct {
	crypto.Engine
	FailOn map[string]bool
}

func (f *FailingCrypto) Encrypt(plaintext []byte) (string, error) {
	if f.FailOn[string(plaintext)] {
		return "", models.NewCryptoError("encrypt", "cipher failure", ErrMockEncrypt)
	}
	return f.Engine.Encrypt(plaintext)
}

// AssertMockExpectations verifies all mock expectations.
func AssertMockExpectations(t mock.TestingT, mocks ...interface{}) {
	for _, m := range mocks {
		if mockObj, ok := m.(interface{ AssertExpectations(mock.TestingT) bool }); ok {
			mockObj.AssertExpectations(t)
		}
	}
}
