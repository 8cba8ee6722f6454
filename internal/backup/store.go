// Package backup snapshots the local secrets directory before destructive
// operations and restores it on demand.
package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/TheMichaelB/secretsync/internal/events"
	"github.com/TheMichaelB/secretsync/internal/models"
)

// TimestampFormat is the UTC second-resolution suffix of backup names.
const TimestampFormat = "20060102_150405"

const backupInfix = "_backup_"

// Store creates and rotates sibling backups of a directory.
type Store struct {
	count  int
	logger *events.Logger
	now    func() time.Time
}

// NewStore creates a store retaining count backups. Zero or negative
// disables snapshots.
func NewStore(count int, logger *events.Logger) *Store {
	if count < 0 {
		count = 0
	}
	if logger == nil {
		logger = events.NewNopLogger()
	}

	return &Store{
		count:  count,
		logger: logger.WithField("component", "backup"),
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Count returns the retention count.
func (s *Store) Count() int {
	return s.count
}

// Snapshot copies dir to <dir>_backup_<timestamp> and evicts old backups.
// It returns "" without error when backups are disabled or dir is missing.
func (s *Store) Snapshot(dir string) (string, error) {
	if s.count <= 0 {
		return "", nil
	}

	dir, err := absDir("snapshot", dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.WithField("dir", dir).Debug("Nothing to back up")
		return "", nil
	}
	if err != nil {
		return "", models.NewFileSystemError("snapshot", dir, err)
	}
	if !info.IsDir() {
		return "", models.NewFileSystemError("snapshot", dir, errors.New("not a directory"))
	}

	target, err := s.nextName(dir)
	if err != nil {
		return "", err
	}

	if err := copyTree(dir, target); err != nil {
		_ = os.RemoveAll(target)
		return "", models.NewFileSystemError("snapshot", target, err)
	}

	s.logger.WithField("backup", target).Info("Created backup")

	// The new snapshot stays even if rotation fails
	s.evict(dir)

	return target, nil
}

// nextName picks an unused backup path for the current second.
func (s *Store) nextName(dir string) (string, error) {
	base := backupPrefix(dir) + s.now().UTC().Format(TimestampFormat)

	candidate := base
	for seq := 1; ; seq++ {
		_, err := os.Lstat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", models.NewFileSystemError("snapshot", candidate, err)
		}
		candidate = fmt.Sprintf("%s_%d", base, seq)
	}
}

func (s *Store) evict(dir string) {
	backups, err := s.List(dir)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to list backups for rotation")
		return
	}

	for _, old := range backups[min(s.count, len(backups)):] {
		if err := os.RemoveAll(old); err != nil {
			s.logger.WithError(err).WithField("backup", old).Warn("Failed to remove old backup")
			continue
		}
		s.logger.WithField("backup", old).Debug("Removed old backup")
	}
}

// List returns the backups of dir, newest first.
func (s *Store) List(dir string) ([]string, error) {
	dir, err := absDir("list backups", dir)
	if err != nil {
		return nil, err
	}
	parent := filepath.Dir(dir)
	prefix := filepath.Base(dir) + backupInfix

	entries, err := os.ReadDir(parent)
	if err != nil {
		return nil, models.NewFileSystemError("list backups", parent, err)
	}

	var found []backupEntry
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		found = append(found, parseEntry(filepath.Join(parent, entry.Name()), strings.TrimPrefix(entry.Name(), prefix)))
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].newerThan(found[j])
	})

	paths := make([]string, len(found))
	for i, b := range found {
		paths[i] = b.path
	}
	return paths, nil
}

// Restore replaces targetDir with the contents of backupPath. Nothing is
// merged: files absent from the backup are gone afterwards.
func (s *Store) Restore(backupPath, targetDir string) error {
	backupPath, err := absDir("restore", backupPath)
	if err != nil {
		return err
	}
	targetDir, err = absDir("restore", targetDir)
	if err != nil {
		return err
	}

	info, err := os.Stat(backupPath)
	if err != nil {
		return models.NewFileSystemError("restore", backupPath, err)
	}
	if !info.IsDir() {
		return models.NewFileSystemError("restore", backupPath, errors.New("backup is not a directory"))
	}
	if backupPath == targetDir {
		return models.NewValidationError("restore", backupPath, "backup and target are the same directory")
	}

	if err := os.RemoveAll(targetDir); err != nil {
		return models.NewFileSystemError("restore", targetDir, err)
	}

	if err := copyTree(backupPath, targetDir); err != nil {
		return models.NewFileSystemError("restore", targetDir, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"backup": backupPath,
		"target": targetDir,
	}).Info("Restored backup")

	return nil
}

// absDir resolves dir so that "." and friends have a real base name and
// parent.
func absDir(op, dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", models.NewFileSystemError(op, dir, err)
	}
	return abs, nil
}

func backupPrefix(dir string) string {
	return filepath.Join(filepath.Dir(dir), filepath.Base(dir)+backupInfix)
}

// backupEntry orders names like 20240101_120000 and 20240101_120000_2.
type backupEntry struct {
	path  string
	stamp string
	seq   int
	valid bool
}

func parseEntry(path, suffix string) backupEntry {
	entry := backupEntry{path: path}

	stamp, seqPart := suffix, ""
	if len(suffix) > len(TimestampFormat) {
		stamp, seqPart = suffix[:len(TimestampFormat)], suffix[len(TimestampFormat):]
	}

	if _, err := time.Parse(TimestampFormat, stamp); err != nil {
		return entry
	}

	if seqPart != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(seqPart, "_"))
		if err != nil || !strings.HasPrefix(seqPart, "_") {
			return entry
		}
		entry.seq = n
	}

	entry.stamp = stamp
	entry.valid = true
	return entry
}

func (b backupEntry) newerThan(other backupEntry) bool {
	if b.valid != other.valid {
		// Unrecognized names sort last and are evicted first
		return b.valid
	}
	if !b.valid {
		return b.path > other.path
	}
	if b.stamp != other.stamp {
		return b.stamp > other.stamp
	}
	return b.seq > other.seq
}

// copyTree deep-copies src into dst, which must not exist. Modes are kept
// and symlinks are recreated rather than followed.
func copyTree(src, dst string) error {
	// Copying a tree into itself never terminates
	if rel, err := filepath.Rel(src, dst); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("destination %s is inside %s", dst, src)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			// Sockets, devices and pipes have no place in a secrets tree
			return nil
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
