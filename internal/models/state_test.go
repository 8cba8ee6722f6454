package models_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/secretsync/internal/models"
)

const testRepo = "git@github.com:acme/secrets.git"

func TestNewSyncState(t *testing.T) {
	got := models.NewSyncState(testRepo, "main", "/tmp/secrets")

	assert.Equal(t, testRepo, got.Repository)
	assert.Equal(t, "main", got.Branch)
	assert.Equal(t, "/tmp/secrets", got.SecretsDir)
	assert.Equal(t, models.StateID(testRepo, "main", "/tmp/secrets"), got.ID)
	assert.NotNil(t, got.Files)
	assert.Empty(t, got.Files)
}

func TestStateID(t *testing.T) {
	a := models.StateID(testRepo, "main", "/tmp/secrets")

	assert.Len(t, a, 16)
	assert.Equal(t, a, models.StateID(testRepo, "main", "/tmp/secrets"))
	assert.NotEqual(t, a, models.StateID(testRepo, "develop", "/tmp/secrets"))
	assert.NotEqual(t, a, models.StateID(testRepo, "main", "/tmp/other"))
	assert.NotEqual(t, a, models.StateID("git@github.com:acme/other.git", "main", "/tmp/secrets"))
}

func TestSyncState_FileOperations(t *testing.T) {
	state := models.NewSyncState(testRepo, "main", "/tmp/secrets")
	hash := models.HashContent([]byte("content"))

	assert.False(t, state.HasFile("a.json"))
	assert.Equal(t, "", state.GetFileHash("a.json"))

	state.UpdateFile("a.json", hash)
	assert.True(t, state.HasFile("a.json"))
	assert.Equal(t, hash, state.GetFileHash("a.json"))
	assert.Equal(t, 1, state.FileCount())

	state.RemoveFile("a.json")
	assert.False(t, state.HasFile("a.json"))
	assert.Equal(t, 0, state.FileCount())
}

func TestSyncState_NilFilesMap(t *testing.T) {
	state := &models.SyncState{ID: "x"}

	assert.False(t, state.HasFile("a"))
	assert.Equal(t, 0, state.FileCount())
	state.RemoveFile("a")

	state.UpdateFile("a", "h")
	assert.True(t, state.HasFile("a"))
}

func TestSyncState_ErrorHandling(t *testing.T) {
	state := models.NewSyncState(testRepo, "main", "/tmp/secrets")

	state.SetError(errors.New("push rejected"))
	assert.True(t, state.HasError())
	assert.Equal(t, "push rejected", state.LastError)

	state.SetError(nil)
	assert.False(t, state.HasError())

	state.LastError = "   "
	assert.False(t, state.HasError())
}

func TestSyncState_MarkSynced(t *testing.T) {
	state := models.NewSyncState(testRepo, "main", "/tmp/secrets")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	state.MarkSynced(models.OperationPush, now)

	assert.Equal(t, models.OperationPush, state.Operation)
	assert.Equal(t, now, state.LastSyncTime)
}

func TestSyncState_Validate(t *testing.T) {
	validHash := models.HashContent([]byte("x"))

	tests := []struct {
		name    string
		modify  func(*models.SyncState)
		wantErr string
	}{
		{
			name:   "valid state",
			modify: func(s *models.SyncState) { s.UpdateFile("a.json", validHash) },
		},
		{
			name:    "empty ID",
			modify:  func(s *models.SyncState) { s.ID = " " },
			wantErr: "state ID is required",
		},
		{
			name:    "unknown operation",
			modify:  func(s *models.SyncState) { s.Operation = "merge" },
			wantErr: "unknown operation",
		},
		{
			name:    "nil files",
			modify:  func(s *models.SyncState) { s.Files = nil },
			wantErr: "files map cannot be nil",
		},
		{
			name:    "empty path",
			modify:  func(s *models.SyncState) { s.Files[""] = validHash },
			wantErr: "file path cannot be empty",
		},
		{
			name:    "short hash",
			modify:  func(s *models.SyncState) { s.Files["a.json"] = "abc" },
			wantErr: "invalid length",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := models.NewSyncState(testRepo, "main", "/tmp/secrets")
			tt.modify(state)

			err := state.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.True(t, strings.Contains(err.Error(), tt.wantErr), err.Error())
			}
		})
	}
}

func TestSyncState_Clone(t *testing.T) {
	original := models.NewSyncState(testRepo, "main", "/tmp/secrets")
	original.UpdateFile("a.json", models.HashContent([]byte("a")))

	clone := original.Clone()
	clone.UpdateFile("b.json", models.HashContent([]byte("b")))

	assert.Equal(t, 1, original.FileCount())
	assert.Equal(t, 2, clone.FileCount())
	assert.Equal(t, original.ID, clone.ID)
}

func TestHashContent(t *testing.T) {
	// SHA-256 of the empty string
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", models.HashContent(nil))
}
