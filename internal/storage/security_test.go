package storage_test

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/secretsync/internal/models"
)

func TestPathSanitization(t *testing.T) {
	store, _ := newStore(t)

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "normal path", path: "ios/cert.p12"},
		{name: "path with dots", path: "ios/./cert.p12"},
		{name: "backslashes", path: `android\keystore.json`},
		{name: "parent directory traversal", path: "../etc/passwd", wantErr: true},
		{name: "embedded parent traversal", path: "ios/../../etc/passwd", wantErr: true},
		{name: "absolute path", path: "/etc/passwd", wantErr: true},
		{name: "empty path", path: "", wantErr: true},
		{name: "base itself", path: ".", wantErr: true},
		{name: "null bytes", path: "test\x00.json", wantErr: true},
		{name: "very long path", path: strings.Repeat("a", 5000) + "/file.json", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Write(tt.path, []byte("test"), 0600)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, models.ErrValidation)
				return
			}

			require.NoError(t, err)
			exists, err := store.Exists(tt.path)
			require.NoError(t, err)
			assert.True(t, exists)

			require.NoError(t, store.Delete(tt.path))
		})
	}
}

func TestWindowsReservedNames(t *testing.T) {
	if runtime.GOOS != "windows" {
		t.Skip("Windows-specific test")
	}

	store, _ := newStore(t)

	for _, name := range []string{"CON", "PRN", "AUX", "NUL", "COM1", "LPT1"} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, store.Write(name+".txt", []byte("test"), 0600))
			assert.Error(t, store.Write("folder/"+name+".txt", []byte("test"), 0600))
		})
	}

	for _, char := range `<>:"|?*` {
		path := fmt.Sprintf("file%c.txt", char)
		assert.Error(t, store.Write(path, []byte("test"), 0600))
	}
}

func TestSymlinkHandling(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Symlink test requires Unix-like OS")
	}

	store, tmpDir := newStore(t)

	externalPath := filepath.Join(t.TempDir(), "external.txt")
	require.NoError(t, os.WriteFile(externalPath, []byte("external"), 0600))

	require.NoError(t, os.Symlink(externalPath, filepath.Join(tmpDir, "link.enc")))

	// Store should not follow symlinks
	_, err := store.Read("link.enc")
	assert.ErrorIs(t, err, models.ErrValidation)

	files, err := store.List(".enc")
	require.NoError(t, err)
	assert.Empty(t, files)
}
