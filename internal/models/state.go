package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Operation names recorded in sync state.
const (
	OperationPull = "pull"
	OperationPush = "push"
)

// SyncState tracks the last successful sync of a secrets directory.
type SyncState struct {
	ID           string            `json:"id"`
	Repository   string            `json:"repository"`
	Branch       string            `json:"branch"`
	SecretsDir   string            `json:"secrets_dir"`
	Operation    string            `json:"operation"`
	Files        map[string]string `json:"files"` // Relative path -> plaintext SHA-256
	LastSyncTime time.Time         `json:"last_sync_time"`
	LastError    string            `json:"last_error,omitempty"`
}

// StateID derives the state key for a repository, branch and secrets directory.
func StateID(repository, branch, secretsDir string) string {
	abs, err := filepath.Abs(secretsDir)
	if err != nil {
		abs = secretsDir
	}
	sum := sha256.Sum256([]byte(repository + "\x00" + branch + "\x00" + filepath.ToSlash(abs)))
	return hex.EncodeToString(sum[:8])
}

// NewSyncState creates an empty sync state.
func NewSyncState(repository, branch, secretsDir string) *SyncState {
	return &SyncState{
		ID:         StateID(repository, branch, secretsDir),
		Repository: repository,
		Branch:     branch,
		SecretsDir: secretsDir,
		Files:      make(map[string]string),
	}
}

// UpdateFile adds or updates a file in the sync state.
func (s *SyncState) UpdateFile(path, hash string) {
	if s.Files == nil {
		s.Files = make(map[string]string)
	}
	s.Files[path] = hash
}

// RemoveFile removes a file from the sync state.
func (s *SyncState) RemoveFile(path string) {
	if s.Files != nil {
		delete(s.Files, path)
	}
}

// HasFile checks if a file exists in the sync state.
func (s *SyncState) HasFile(path string) bool {
	if s.Files == nil {
		return false
	}
	_, exists := s.Files[path]
	return exists
}

// GetFileHash returns the hash for a file, or empty string if not found.
func (s *SyncState) GetFileHash(path string) string {
	if s.Files == nil {
		return ""
	}
	return s.Files[path]
}

// FileCount returns the number of files in the sync state.
func (s *SyncState) FileCount() int {
	return len(s.Files)
}

// MarkSynced records a completed operation.
func (s *SyncState) MarkSynced(operation string, at time.Time) {
	s.Operation = operation
	s.LastSyncTime = at
}

// SetError sets the last error message.
func (s *SyncState) SetError(err error) {
	if err != nil {
		s.LastError = err.Error()
	} else {
		s.LastError = ""
	}
}

// HasError returns true if there's a stored error.
func (s *SyncState) HasError() bool {
	return strings.TrimSpace(s.LastError) != ""
}

// Validate validates the sync state structure.
func (s *SyncState) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("state ID is required")
	}

	if s.Operation != "" && s.Operation != OperationPull && s.Operation != OperationPush {
		return fmt.Errorf("unknown operation: %s", s.Operation)
	}

	if s.Files == nil {
		return fmt.Errorf("files map cannot be nil")
	}

	for path, hash := range s.Files {
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("file path cannot be empty")
		}

		// SHA-256 hex digest
		if len(hash) != sha256.Size*2 {
			return fmt.Errorf("file hash has invalid length for path %s: %d", path, len(hash))
		}
	}

	return nil
}

// Clone creates a deep copy of the sync state.
func (s *SyncState) Clone() *SyncState {
	clone := *s
	clone.Files = make(map[string]string, len(s.Files))
	for path, hash := range s.Files {
		clone.Files[path] = hash
	}
	return &clone
}

// HashContent returns the hex SHA-256 used for file hashes in sync state.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
