// Package state persists the file hashes recorded after each pull or push,
// which status reports diff against.
package state

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/TheMichaelB/secretsync/internal/config"
	"github.com/TheMichaelB/secretsync/internal/events"
	"github.com/TheMichaelB/secretsync/internal/models"
)

// Store manages sync state persistence. States are keyed by
// models.StateID.
type Store interface {
	// Load retrieves a sync state.
	Load(id string) (*models.SyncState, error)

	// Save persists a sync state under its ID.
	Save(state *models.SyncState) error

	// Reset removes a sync state. Missing states are not an error.
	Reset(id string) error

	// List returns all known state IDs, sorted.
	List() ([]string, error)

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrStateNotFound = errors.New("state not found")
	ErrStateCorrupt  = errors.New("state file is corrupt")
)

// SyncState extends the model with store metadata.
type SyncState struct {
	*models.SyncState

	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	Checksum      string    `json:"checksum,omitempty"`
}

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// SQLiteFile is the database name used by the sqlite driver.
const SQLiteFile = "state.db"

// Open creates the store selected by cfg.Driver.
func Open(cfg config.StateConfig, logger *events.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "json":
		return NewJSONStore(cfg.Dir, logger)
	case "sqlite":
		return NewSQLiteStore(filepath.Join(cfg.Dir, SQLiteFile), logger)
	default:
		return nil, models.NewValidationError("open state", cfg.Driver, "unknown state driver")
	}
}

// Migrate copies every state from src into dst. States that fail to load
// are skipped and reported together after the copy.
func Migrate(src, dst Store, logger *events.Logger) (int, error) {
	ids, err := src.List()
	if err != nil {
		return 0, fmt.Errorf("list states: %w", err)
	}

	logger.WithField("count", len(ids)).Info("Migrating states")

	var skipped []error
	migrated := 0
	for _, id := range ids {
		st, err := src.Load(id)
		if err != nil {
			logger.WithError(err).WithField("state_id", id).Warn("Skipping unreadable state")
			skipped = append(skipped, fmt.Errorf("load %s: %w", id, err))
			continue
		}

		if err := dst.Save(st); err != nil {
			return migrated, fmt.Errorf("save state %s: %w", id, err)
		}
		migrated++
	}

	return migrated, errors.Join(skipped...)
}

func validateForSave(st *models.SyncState) error {
	if st == nil {
		return models.NewValidationError("save state", "", "state is nil")
	}
	if err := st.Validate(); err != nil {
		return models.NewValidationError("save state", st.ID, err.Error())
	}
	return nil
}
