package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/secretsync/internal/events"
	"github.com/TheMichaelB/secretsync/internal/models"
)

// SQLiteStore implements SQLite-based state storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore creates a SQLite state store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, models.NewFileSystemError("create state directory", filepath.Dir(dbPath), err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps the foreign_keys pragma and serializes writers
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_state_store"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS sync_states (
        id TEXT PRIMARY KEY,
        repository TEXT NOT NULL DEFAULT '',
        branch TEXT NOT NULL DEFAULT '',
        secrets_dir TEXT NOT NULL DEFAULT '',
        operation TEXT NOT NULL DEFAULT '',
        last_sync_time TIMESTAMP,
        last_error TEXT,
        created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS sync_files (
        state_id TEXT NOT NULL,
        path TEXT NOT NULL,
        hash TEXT NOT NULL,
        PRIMARY KEY (state_id, path),
        FOREIGN KEY (state_id) REFERENCES sync_states(id) ON DELETE CASCADE
    );

    CREATE INDEX IF NOT EXISTS idx_sync_files_state ON sync_files(state_id);

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := s.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Load retrieves state from database.
func (s *SQLiteStore) Load(id string) (*models.SyncState, error) {
	s.logger.WithField("state_id", id).Debug("Loading state from SQLite")

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	st := models.SyncState{ID: id}
	var lastSyncTime sql.NullTime
	var lastError sql.NullString

	err = tx.QueryRow(`
        SELECT repository, branch, secrets_dir, operation, last_sync_time, last_error
        FROM sync_states
        WHERE id = ?
    `, id).Scan(&st.Repository, &st.Branch, &st.SecretsDir, &st.Operation, &lastSyncTime, &lastError)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}

	if lastSyncTime.Valid {
		st.LastSyncTime = lastSyncTime.Time
	}
	if lastError.Valid {
		st.LastError = lastError.String
	}

	st.Files = make(map[string]string)

	rows, err := tx.Query(`
        SELECT path, hash
        FROM sync_files
        WHERE state_id = ?
    `, id)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		st.Files[path] = hash
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}

	return &st, nil
}

// Save persists state in a single transaction.
func (s *SQLiteStore) Save(st *models.SyncState) error {
	if err := validateForSave(st); err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"state_id":  st.ID,
		"operation": st.Operation,
		"files":     len(st.Files),
	}).Debug("Saving state to SQLite")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lastSync interface{}
	if !st.LastSyncTime.IsZero() {
		lastSync = st.LastSyncTime.UTC()
	}

	_, err = tx.Exec(`
        INSERT INTO sync_states (id, repository, branch, secrets_dir, operation, last_sync_time, last_error, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(id) DO UPDATE SET
            repository = excluded.repository,
            branch = excluded.branch,
            secrets_dir = excluded.secrets_dir,
            operation = excluded.operation,
            last_sync_time = excluded.last_sync_time,
            last_error = excluded.last_error,
            updated_at = CURRENT_TIMESTAMP
    `, st.ID, st.Repository, st.Branch, st.SecretsDir, st.Operation, lastSync, st.LastError)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM sync_files WHERE state_id = ?", st.ID); err != nil {
		return fmt.Errorf("delete old files: %w", err)
	}

	stmt, err := tx.Prepare(`
        INSERT INTO sync_files (state_id, path, hash)
        VALUES (?, ?, ?)
    `)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for path, hash := range st.Files {
		if _, err := stmt.Exec(st.ID, path, hash); err != nil {
			return fmt.Errorf("insert file %s: %w", path, err)
		}
	}

	return tx.Commit()
}

// Reset removes state; files go with it through the cascade.
func (s *SQLiteStore) Reset(id string) error {
	s.logger.WithField("state_id", id).Info("Resetting state in SQLite")

	if _, err := s.db.Exec("DELETE FROM sync_states WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}

	return nil
}

// List returns all state IDs.
func (s *SQLiteStore) List() ([]string, error) {
	rows, err := s.db.Query("SELECT id FROM sync_states ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan state ID: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
