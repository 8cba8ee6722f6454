package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/secretsync/internal/events"
	"github.com/TheMichaelB/secretsync/internal/models"
)

// JSONStore keeps one checksummed JSON file per state, plus the previous
// version as a .backup used when the current file is corrupt.
type JSONStore struct {
	baseDir string
	logger  *events.Logger

	mu sync.RWMutex
}

// NewJSONStore creates a JSON-based state store.
func NewJSONStore(baseDir string, logger *events.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, models.NewFileSystemError("create state directory", baseDir, err)
	}

	return &JSONStore{
		baseDir: baseDir,
		logger:  logger.WithField("component", "json_state_store"),
	}, nil
}

// Load reads state from JSON file.
func (s *JSONStore) Load(id string) (*models.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.statePath(id)

	s.logger.WithFields(map[string]interface{}{
		"state_id": id,
		"path":     path,
	}).Debug("Loading state")

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, models.NewFileSystemError("read state", path, err)
	}

	st, err := decodeState(data)
	if err != nil {
		s.logger.WithError(err).WithField("state_id", id).Warn("State file unreadable, trying backup")

		backup, backupErr := s.loadBackup(id)
		if backupErr != nil {
			return nil, fmt.Errorf("%w: %s", ErrStateCorrupt, path)
		}
		s.logger.Warn("Loaded state from backup due to corruption")
		return backup, nil
	}

	return st, nil
}

// Save writes state to JSON file atomically, keeping the previous file as
// a backup.
func (s *JSONStore) Save(st *models.SyncState) error {
	if err := validateForSave(st); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.statePath(st.ID)

	s.logger.WithFields(map[string]interface{}{
		"state_id":  st.ID,
		"operation": st.Operation,
		"files":     len(st.Files),
	}).Debug("Saving state")

	data, err := encodeState(st, time.Now().UTC())
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, s.backupPath(st.ID)); err != nil {
			s.logger.WithError(err).Warn("Failed to create backup")
		}
	}

	tmp, err := os.CreateTemp(s.baseDir, ".state-*.tmp")
	if err != nil {
		return models.NewFileSystemError("save state", s.baseDir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return models.NewFileSystemError("save state", tmpPath, err)
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return models.NewFileSystemError("save state", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return models.NewFileSystemError("save state", path, err)
	}

	return nil
}

// Reset removes state and its backup.
func (s *JSONStore) Reset(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.WithField("state_id", id).Info("Resetting state")

	for _, path := range []string{s.statePath(id), s.backupPath(id)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return models.NewFileSystemError("reset state", path, err)
		}
	}
	return nil
}

// List returns all state IDs.
func (s *JSONStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, models.NewFileSystemError("list states", s.baseDir, err)
	}

	ids := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name := entry.Name(); filepath.Ext(name) == ".json" {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// Close releases resources.
func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) statePath(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

func (s *JSONStore) backupPath(id string) string {
	return s.statePath(id) + ".backup"
}

func (s *JSONStore) loadBackup(id string) (*models.SyncState, error) {
	data, err := os.ReadFile(s.backupPath(id))
	if err != nil {
		return nil, err
	}
	return decodeState(data)
}

// encodeState wraps st with metadata and a checksum over the wrapper
// without the checksum field.
func encodeState(st *models.SyncState, now time.Time) ([]byte, error) {
	wrapper := SyncState{
		SyncState:     st,
		SchemaVersion: CurrentSchemaVersion,
		CreatedAt:     now,
	}

	sum, err := checksum(wrapper)
	if err != nil {
		return nil, err
	}
	wrapper.Checksum = sum

	data, err := json.MarshalIndent(wrapper, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (*models.SyncState, error) {
	var wrapper SyncState
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	if wrapper.SyncState == nil {
		return nil, errors.New("state body missing")
	}

	if wrapper.Checksum != "" {
		expected := wrapper.Checksum
		wrapper.Checksum = ""
		actual, err := checksum(wrapper)
		if err != nil {
			return nil, err
		}
		if actual != expected {
			return nil, fmt.Errorf("checksum mismatch: expected %s, got %s", expected, actual)
		}
	}

	if wrapper.SchemaVersion > CurrentSchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %d", wrapper.SchemaVersion)
	}

	st := wrapper.SyncState
	if st.Files == nil {
		st.Files = make(map[string]string)
	}
	return st, nil
}

func checksum(wrapper SyncState) (string, error) {
	wrapper.Checksum = ""
	data, err := json.Marshal(wrapper)
	if err != nil {
		return "", fmt.Errorf("marshal state for checksum: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0600)
}
