package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/secretsync/internal/config"
	"github.com/TheMichaelB/secretsync/internal/models"
)

func TestExitCode(t *testing.T) {
	batch := &models.BatchError{Op: "pull", Total: 2}
	batch.Add("a.json", models.NewCryptoError("decrypt", "bad tag", nil))

	tests := []struct {
		err  error
		want int
	}{
		{errors.New("plain"), 1},
		{models.NewValidationError("config", "repository.url", "required"), 2},
		{batch, 3},
		{fmt.Errorf("wrapped: %w", batch), 3},
		{models.NewCryptoError("decrypt", "bad tag", nil), 4},
		{models.NewGitError("push", "rejected", "! [rejected]", nil), 5},
		{models.NewFileSystemError("read", "x", context.Canceled), 6},
		{silent(models.NewCryptoError("verify", "1 of 2", nil)), 4},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), tt.err.Error())
	}
}

func TestTrimNewline(t *testing.T) {
	assert.Equal(t, "blob", string(trimNewline([]byte("blob\r\n\n"))))
	assert.Equal(t, "", string(trimNewline([]byte("\n"))))
}

func TestPlural(t *testing.T) {
	assert.Equal(t, "1 file", plural(1, "file"))
	assert.Equal(t, "3 files", plural(3, "file"))
	assert.Equal(t, "0 backups", plural(0, "backup"))
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"pull"}, {"push"}, {"status"}, {"verify"},
		{"backup", "list"}, {"backup", "restore"},
		{"encrypt"}, {"decrypt"}, {"init-config"},
		{"state", "list"}, {"state", "reset"}, {"state", "migrate"},
	} {
		cmd, _, err := rootCmd.Find(path)
		assert.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestEmptyMessage(t *testing.T) {
	c := config.DefaultConfig()
	c.Repository.URL = "git@example.com:team/secrets.git"
	c.Repository.Branch = "release"
	c.Secrets.Dir = "/home/dev/secrets"

	pull := emptyMessage(models.OperationPull, c)
	assert.Contains(t, pull, "release")
	assert.Contains(t, pull, c.Repository.URL)
	assert.NotContains(t, pull, c.Secrets.Dir)

	push := emptyMessage(models.OperationPush, c)
	assert.Contains(t, push, c.Secrets.Dir)
}
