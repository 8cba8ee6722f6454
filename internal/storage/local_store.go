package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/TheMichaelB/secretsync/internal/events"
	"github.com/TheMichaelB/secretsync/internal/models"
)

// skipDirs are never descended into by List.
var skipDirs = map[string]bool{
	".git": true,
}

// LocalStore implements BlobStore on the local file system.
type LocalStore struct {
	baseDir string
	logger  *events.Logger

	// Security settings
	maxPathLength int
	dirMode       os.FileMode
}

// NewLocalStore creates a local file store, creating baseDir if needed.
func NewLocalStore(baseDir string, logger *events.Logger) (*LocalStore, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, models.NewFileSystemError("resolve base directory", baseDir, err)
	}

	if err := os.MkdirAll(absPath, 0700); err != nil {
		return nil, models.NewFileSystemError("create base directory", absPath, err)
	}

	if logger == nil {
		logger = events.NewNopLogger()
	}

	return &LocalStore{
		baseDir:       absPath,
		logger:        logger.WithField("component", "local_store"),
		maxPathLength: 4096,
		dirMode:       0700,
	}, nil
}

// Base returns the absolute base directory.
func (s *LocalStore) Base() string {
	return s.baseDir
}

// Write saves data to a file atomically: a temp file in the target
// directory is synced and renamed over the destination.
func (s *LocalStore) Write(path string, data []byte, mode os.FileMode) error {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"path": path,
		"size": len(data),
	}).Debug("Writing file")

	parentDir := filepath.Dir(safePath)
	if err := os.MkdirAll(parentDir, s.dirMode); err != nil {
		return models.NewFileSystemError("create parent directory", parentDir, err)
	}

	tempFile, err := os.CreateTemp(parentDir, "."+filepath.Base(safePath)+".tmp-*")
	if err != nil {
		return models.NewFileSystemError("create temp file", safePath, err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tempFile.Close()
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return models.NewFileSystemError("write temp file", safePath, err)
	}

	if err := tempFile.Chmod(mode); err != nil {
		return models.NewFileSystemError("chmod temp file", safePath, err)
	}

	if err := tempFile.Sync(); err != nil {
		return models.NewFileSystemError("sync file", safePath, err)
	}

	if err := tempFile.Close(); err != nil {
		return models.NewFileSystemError("close temp file", safePath, err)
	}

	if err := os.Rename(tempPath, safePath); err != nil {
		return models.NewFileSystemError("rename temp file", safePath, err)
	}

	success = true
	return nil
}

// Read retrieves file contents. Symlinks are refused.
func (s *LocalStore) Read(path string) ([]byte, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return nil, err
	}

	stat, err := os.Lstat(safePath)
	if err != nil {
		return nil, models.NewFileSystemError("read", path, err)
	}
	if stat.Mode()&os.ModeSymlink != 0 {
		return nil, models.NewValidationError("read", path, "symlinks not allowed")
	}

	data, err := os.ReadFile(safePath)
	if err != nil {
		return nil, models.NewFileSystemError("read", path, err)
	}

	return data, nil
}

// Delete removes a file and any parent directories it leaves empty.
func (s *LocalStore) Delete(path string) error {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return err
	}

	s.logger.WithField("path", path).Debug("Deleting file")

	if err := os.Remove(safePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return models.NewFileSystemError("delete", path, err)
	}

	s.cleanEmptyDirs(filepath.Dir(safePath))

	return nil
}

// Exists checks if a file exists.
func (s *LocalStore) Exists(path string) (bool, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(safePath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, models.NewFileSystemError("stat", path, err)
}

// List returns every regular file below the base whose name ends in
// suffix, as sorted forward-slash relative paths.
func (s *LocalStore) List(suffix string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if p != s.baseDir && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}

		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, models.NewFileSystemError("list", s.baseDir, err)
	}

	sort.Strings(files)
	return files, nil
}

// DeleteMatching removes every file ending in suffix anywhere below the
// base and returns how many were removed.
func (s *LocalStore) DeleteMatching(suffix string) (int, error) {
	files, err := s.List(suffix)
	if err != nil {
		return 0, err
	}

	for _, f := range files {
		if err := s.Delete(f); err != nil {
			return 0, err
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"suffix": suffix,
		"count":  len(files),
	}).Debug("Deleted matching files")

	return len(files), nil
}

// Helper methods

// sanitizePath validates a relative path and resolves it under the base.
func (s *LocalStore) sanitizePath(path string) (string, error) {
	if path == "" {
		return "", models.NewValidationError("sanitize path", path, "empty path")
	}

	if strings.ContainsRune(path, 0) {
		return "", models.NewValidationError("sanitize path", path, "path contains null bytes")
	}

	normalized := filepath.FromSlash(strings.ReplaceAll(path, "\\", "/"))
	if filepath.IsAbs(normalized) {
		return "", models.NewValidationError("sanitize path", path, "absolute paths not allowed")
	}

	cleaned := filepath.Clean(normalized)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", models.NewValidationError("sanitize path", path, "path escapes base directory")
	}

	fullPath := filepath.Join(s.baseDir, cleaned)

	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", models.NewValidationError("sanitize path", path, "path escapes base directory")
	}

	if len(fullPath) > s.maxPathLength {
		return "", models.NewValidationError("sanitize path", path, "path too long")
	}

	if err := validatePlatformPath(cleaned); err != nil {
		return "", err
	}

	return fullPath, nil
}

// validatePlatformPath checks platform-specific path restrictions.
func validatePlatformPath(path string) error {
	if runtime.GOOS != "windows" {
		return nil
	}

	reserved := map[string]bool{
		"CON": true, "PRN": true, "AUX": true, "NUL": true,
		"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
		"COM6": true, "COM7": true, "COM8": true, "COM9": true,
		"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
		"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
	}

	for _, part := range strings.Split(path, string(filepath.Separator)) {
		baseName := strings.ToUpper(strings.TrimSuffix(part, filepath.Ext(part)))
		if reserved[baseName] {
			return models.NewValidationError("sanitize path", path, "contains reserved name "+part)
		}

		if strings.ContainsAny(part, `<>:"|?*`) {
			return models.NewValidationError("sanitize path", path, "contains invalid character")
		}
	}

	return nil
}

// cleanEmptyDirs removes empty parent directories up to the base.
func (s *LocalStore) cleanEmptyDirs(dirPath string) {
	for dirPath != s.baseDir && strings.HasPrefix(dirPath, s.baseDir) {
		entries, err := os.ReadDir(dirPath)
		if err != nil || len(entries) > 0 {
			break
		}

		if err := os.Remove(dirPath); err != nil {
			break
		}

		dirPath = filepath.Dir(dirPath)
	}
}
