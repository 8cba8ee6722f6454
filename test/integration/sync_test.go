//go:build integration
// +build integration

package integration_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/secretsync/internal/client"
	"github.com/TheMichaelB/secretsync/internal/models"
	syncpkg "github.com/TheMichaelB/secretsync/internal/services/sync"
	"github.com/TheMichaelB/secretsync/test/testutil"
)

// machine is one checkout of the shared secrets repository.
type machine struct {
	client *client.Client
	dir    string
}

func newMachine(t *testing.T, remote *testutil.FakeGitRunner, password string, driver string) *machine {
	t.Helper()

	cfg := testutil.TestConfigWithDir(t.TempDir())
	cfg.Auth.Password = password
	cfg.State.Driver = driver

	c, err := client.New(context.Background(), cfg, testutil.NewTestLogger(), client.Options{GitRunner: remote})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return &machine{client: c, dir: cfg.Secrets.Dir}
}

func TestTwoMachineRoundTrip(t *testing.T) {
	testutil.SkipIfShort(t, "integration test")

	remote := testutil.NewFakeGitRunner()
	laptop := newMachine(t, remote, testutil.TestPassword, "json")
	ci := newMachine(t, remote, testutil.TestPassword, "sqlite")
	ctx := context.Background()

	secrets := testutil.SampleSecrets()
	require.NoError(t, testutil.WriteTree(laptop.dir, secrets, 0644))

	pushed, err := laptop.client.Sync.Push(ctx)
	require.NoError(t, err)
	assert.True(t, pushed.Changed)

	pulled, err := ci.client.Sync.Pull(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, pushed.Files, pulled.Files)
	testutil.AssertTree(t, ci.dir, secrets)

	status, err := ci.client.Sync.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Clean())

	// CI rotates a key and removes a stale file
	rotated := []byte(`{"type": "service_account", "project_id": "demo", "rotated": true}`)
	require.NoError(t, os.WriteFile(filepath.Join(ci.dir, "google", "service-account.json"), rotated, 0600))
	require.NoError(t, os.Remove(filepath.Join(ci.dir, "notes.txt")))

	_, err = ci.client.Sync.Push(ctx)
	require.NoError(t, err)
	assert.NotContains(t, remote.RemoteFiles("main"), "notes.txt.enc")

	// Pull writes the remote set but leaves local-only files alone
	pulled, err = laptop.client.Sync.Pull(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, pulled.Backup)
	assert.Len(t, pulled.Files, len(secrets)-1)

	got := testutil.ReadTree(t, laptop.dir)
	assert.Equal(t, string(rotated), string(got["google/service-account.json"]))
	assert.Equal(t, string(secrets["notes.txt"]), string(got["notes.txt"]))

	// The pre-pull snapshot still holds the old key
	old := testutil.ReadTree(t, pulled.Backup)
	assert.Equal(t, string(secrets["google/service-account.json"]), string(old["google/service-account.json"]))
}

func TestWrongPasswordMachine(t *testing.T) {
	testutil.SkipIfShort(t, "integration test")

	remote := testutil.NewFakeGitRunner()
	owner := newMachine(t, remote, "correct horse battery", "json")
	intruder := newMachine(t, remote, "wrong password 123", "json")
	ctx := context.Background()

	require.NoError(t, testutil.WriteTree(owner.dir, map[string][]byte{
		"app.json": []byte("hello secrets"),
	}, 0600))
	_, err := owner.client.Sync.Push(ctx)
	require.NoError(t, err)

	report, err := intruder.client.Sync.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, report.Artifacts, 1)
	result := report.Artifacts[0].Result
	assert.True(t, result.StructureValid)
	assert.False(t, result.DecryptionValid)
	assert.Empty(t, result.Error)

	pulled, err := intruder.client.Sync.Pull(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrCrypto)
	assert.Empty(t, pulled.Files)
	assert.NoFileExists(t, filepath.Join(intruder.dir, "app.json"))
}

func TestEventsStream(t *testing.T) {
	testutil.SkipIfShort(t, "integration test")

	remote := testutil.NewFakeGitRunner()
	m := newMachine(t, remote, testutil.TestPassword, "json")
	require.NoError(t, testutil.WriteTree(m.dir, testutil.SampleSecrets(), 0600))

	events := m.client.Sync.Events()
	collected := make(chan []syncpkg.EventType, 1)
	go func() {
		var types []syncpkg.EventType
		for ev := range events {
			types = append(types, ev.Type)
		}
		collected <- types
	}()

	_, err := m.client.Sync.Push(context.Background())
	require.NoError(t, err)

	types := <-collected
	require.NotEmpty(t, types)
	assert.Equal(t, syncpkg.EventStarted, types[0])
	assert.Equal(t, syncpkg.EventCompleted, types[len(types)-1])
}
