package testutil

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/secretsync/internal/crypto"
	"github.com/TheMichaelB/secretsync/internal/events"
	"github.com/TheMichaelB/secretsync/internal/models"
)

// TestPassword is the shared password used by fixtures.
const TestPassword = "fixture-password-42"

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// SampleSecrets returns a representative secrets tree: certificates, a
// PKCS#12 bundle, JSON service-account keys and nested directories.
func SampleSecrets() map[string][]byte {
	return map[string][]byte{
		"certs/dev.cer": []byte("-----BEGIN CERTIFICATE-----\nMIIBszCCAVmgAwIBAgIUZmFrZQ==\n-----END CERTIFICATE-----\n"),
		"certs/dist.p12": {
			0x30, 0x82, 0x0a, 0x1d, 0x02, 0x01, 0x03, 0x30,
			0x82, 0x09, 0xe3, 0x06, 0x09, 0x2a, 0x86, 0x48,
			0x86, 0xf7, 0x0d, 0x01, 0x07, 0x01, 0xa0, 0x82,
		},
		"google/service-account.json":        []byte(`{"type": "service_account", "project_id": "demo"}`),
		"profiles/App Store.mobileprovision": []byte("0\x82\x1d\x9a\x06\t*\x86H\x86\xf7\r\x01\x07\x02<?xml version=\"1.0\"?><plist></plist>"),
		"notes.txt":                          []byte("rotation due next quarter\n"),
	}
}

// SampleSyncState returns a pushed state for secretsDir tracking
// certs/dev.cer ("dev") and notes.txt ("notes").
func SampleSyncState(repository, secretsDir string) *models.SyncState {
	state := models.NewSyncState(repository, "main", secretsDir)
	state.UpdateFile("certs/dev.cer", models.HashContent([]byte("dev")))
	state.UpdateFile("notes.txt", models.HashContent([]byte("notes")))
	state.MarkSynced(models.OperationPush, time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC))
	return state
}

// EncryptArtifacts encrypts plaintext files into repository artifacts.
func EncryptArtifacts(t *testing.T, password string, files map[string][]byte) map[string][]byte {
	t.Helper()

	provider, err := crypto.NewProvider(password)
	require.NoError(t, err)

	artifacts := make(map[string][]byte, len(files))
	for name, content := range files {
		blob, err := provider.Encrypt(content)
		require.NoError(t, err)
		artifacts[name+".enc"] = []byte(blob)
	}
	return artifacts
}
