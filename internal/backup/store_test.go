package backup_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/secretsync/internal/backup"
	"github.com/TheMichaelB/secretsync/internal/models"
)

// tickingClock advances one second per call.
func tickingClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		now := current
		current = current.Add(time.Second)
		return now
	}
}

func setupSecrets(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "secrets")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ios"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{"a":1}`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ios", "dist.p12"), []byte{0x30, 0x01}, 0600))
	return dir
}

func TestSnapshot_CopiesTree(t *testing.T) {
	dir := setupSecrets(t)
	store := backup.NewStore(5, nil)
	store.SetClock(func() time.Time { return time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC) })

	path, err := store.Snapshot(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(dir), "secrets_backup_20240309_140507"), path)

	data, err := os.ReadFile(filepath.Join(path, "ios", "dist.p12"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x30, 0x01}, data)

	info, err := os.Stat(filepath.Join(path, "a.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// The snapshot is independent of the source
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte("changed"), 0600))
	data, err = os.ReadFile(filepath.Join(path, "a.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}

func TestSnapshot_Rotation(t *testing.T) {
	tests := []struct {
		name      string
		retention int
		snapshots int
		want      int
	}{
		{"fewer than retention", 5, 3, 3},
		{"equal to retention", 3, 3, 3},
		{"more than retention", 3, 6, 3},
		{"retention one", 1, 4, 1},
		{"disabled", 0, 4, 0},
		{"negative", -2, 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupSecrets(t)
			store := backup.NewStore(tt.retention, nil)
			store.SetClock(tickingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

			var created []string
			for i := 0; i < tt.snapshots; i++ {
				path, err := store.Snapshot(dir)
				require.NoError(t, err)
				if tt.retention <= 0 {
					assert.Empty(t, path)
				}
				created = append(created, path)
			}

			backups, err := store.List(dir)
			require.NoError(t, err)
			assert.Len(t, backups, tt.want)

			// Newest survive, newest first
			for i, path := range backups {
				assert.Equal(t, created[len(created)-1-i], path)
			}
		})
	}
}

func TestSnapshot_SameSecond(t *testing.T) {
	dir := setupSecrets(t)
	store := backup.NewStore(5, nil)
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return fixed })

	first, err := store.Snapshot(dir)
	require.NoError(t, err)
	second, err := store.Snapshot(dir)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, first+"_1", second)

	backups, err := store.List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{second, first}, backups)
}

func TestSnapshot_MissingDir(t *testing.T) {
	store := backup.NewStore(3, nil)

	path, err := store.Snapshot(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestSnapshot_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "secrets")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))

	_, err := backup.NewStore(3, nil).Snapshot(file)
	assert.ErrorIs(t, err, models.ErrFileSystem)
}

func TestList_IgnoresUnrelatedEntries(t *testing.T) {
	dir := setupSecrets(t)
	parent := filepath.Dir(dir)

	require.NoError(t, os.Mkdir(filepath.Join(parent, "other_backup_20240101_000000"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secrets_backup_20240101_000000"), []byte("file"), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(parent, "secrets_backup_20230101_000000"), 0755))

	backups, err := backup.NewStore(3, nil).List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(parent, "secrets_backup_20230101_000000")}, backups)
}

func TestRestore(t *testing.T) {
	dir := setupSecrets(t)
	store := backup.NewStore(2, nil)

	path, err := store.Snapshot(dir)
	require.NoError(t, err)

	// Diverge the live tree
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte("broken"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.pem"), []byte("new"), 0600))

	require.NoError(t, store.Restore(path, dir))

	data, err := os.ReadFile(filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
	assert.NoFileExists(t, filepath.Join(dir, "extra.pem"))
	assert.FileExists(t, filepath.Join(dir, "ios", "dist.p12"))

	// The backup itself is untouched
	assert.DirExists(t, path)
}

func TestRestore_Invalid(t *testing.T) {
	dir := setupSecrets(t)
	store := backup.NewStore(2, nil)

	err := store.Restore(filepath.Join(t.TempDir(), "missing"), dir)
	assert.ErrorIs(t, err, models.ErrFileSystem)
	assert.FileExists(t, filepath.Join(dir, "a.json"))

	err = store.Restore(filepath.Join(dir, "a.json"), dir)
	assert.ErrorIs(t, err, models.ErrFileSystem)

	err = store.Restore(dir, dir)
	assert.ErrorIs(t, err, models.ErrValidation)

	// A target inside the backup would be copied into itself
	err = store.Restore(dir, filepath.Join(dir, "ios", "restored"))
	assert.ErrorIs(t, err, models.ErrFileSystem)
	assert.NoDirExists(t, filepath.Join(dir, "ios", "restored"))
}

func TestSnapshot_RelativeDir(t *testing.T) {
	dir := setupSecrets(t)
	dir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	store := backup.NewStore(2, nil)
	store.SetClock(tickingClock(time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)))

	path, err := store.Snapshot(".")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(dir), "secrets_backup_20240309_140507"), path)
	assert.FileExists(t, filepath.Join(path, "ios", "dist.p12"))

	// Nothing was written inside the directory being copied
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	backups, err := store.List(".")
	require.NoError(t, err)
	assert.Equal(t, []string{path}, backups)

	require.NoError(t, os.WriteFile("a.json", []byte("changed"), 0600))
	require.NoError(t, store.Restore(path, "."))
	data, err := os.ReadFile(filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}
