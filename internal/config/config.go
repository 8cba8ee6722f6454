package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/TheMichaelB/secretsync/internal/models"
)

// Config holds all application configuration.
type Config struct {
	// Remote repository holding the encrypted artifacts
	Repository RepositoryConfig `mapstructure:"repository" json:"repository"`

	// Local plaintext tree
	Secrets SecretsConfig `mapstructure:"secrets" json:"secrets"`

	// Pre-pull snapshots
	Backup BackupConfig `mapstructure:"backup" json:"backup"`

	// SSH credential overrides for git
	SSH SSHConfig `mapstructure:"ssh" json:"ssh"`

	// Git behavior
	Git GitConfig `mapstructure:"git" json:"git"`

	// Password sources
	Auth AuthConfig `mapstructure:"auth" json:"auth"`

	// Sync state persistence
	State StateConfig `mapstructure:"state" json:"state"`

	// Logging
	Log LogConfig `mapstructure:"log" json:"log"`
}

// RepositoryConfig identifies the remote.
type RepositoryConfig struct {
	URL    string `mapstructure:"url" json:"url"`
	Branch string `mapstructure:"branch" json:"branch"`
}

// SecretsConfig for the local secrets directory.
type SecretsConfig struct {
	Dir     string   `mapstructure:"dir" json:"dir"`
	Exclude []string `mapstructure:"exclude" json:"exclude,omitempty"` // doublestar globs, relative to Dir
}

// BackupConfig for snapshot retention.
type BackupConfig struct {
	Count int `mapstructure:"count" json:"count"` // 0 disables backups
}

// SSHConfig selects the key git uses. At most one source wins.
type SSHConfig struct {
	KeyPath    string `mapstructure:"key_path" json:"key_path,omitempty"`
	PrivateKey string `mapstructure:"private_key" json:"private_key,omitempty"`
	PublicKey  string `mapstructure:"public_key" json:"public_key,omitempty"`
}

// GitConfig for the git subprocess.
type GitConfig struct {
	Binary        string `mapstructure:"binary" json:"binary"`
	FullClone     bool   `mapstructure:"full_clone" json:"full_clone"`
	CommitMessage string `mapstructure:"commit_message" json:"commit_message"`
	CloneRetries  int    `mapstructure:"clone_retries" json:"clone_retries"` // Network failures only
}

// AuthConfig for encryption password sources.
type AuthConfig struct {
	// Inline password (prefer the environment over the config file)
	Password string `mapstructure:"password" json:"password,omitempty"`

	// JSON file with a default password or a per-repository map
	CredentialsFile string `mapstructure:"credentials_file" json:"credentials_file,omitempty"`

	// AWS Secrets Manager secret holding the same JSON document
	SecretID     string `mapstructure:"secret_id" json:"secret_id,omitempty"`
	SecretRegion string `mapstructure:"secret_region" json:"secret_region,omitempty"`
}

// StateConfig for sync state storage.
type StateConfig struct {
	Driver string `mapstructure:"driver" json:"driver"` // json, sqlite
	Dir    string `mapstructure:"dir" json:"dir"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // text, json
	File   string `mapstructure:"file" json:"file"`     // Log file path (empty = stderr)
	Color  bool   `mapstructure:"color" json:"color"`   // Colored levels on terminals
}

// Defaults shared with the CLI help text.
const (
	DefaultBranch        = "main"
	DefaultSecretsDir    = "secrets"
	DefaultBackupCount   = 5
	DefaultCommitMessage = "Update encrypted secrets"
	DefaultStateDriver   = "json"
	DefaultCloneRetries  = 2
)

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".secretsync"

	return &Config{
		Repository: RepositoryConfig{
			Branch: DefaultBranch,
		},
		Secrets: SecretsConfig{
			Dir: DefaultSecretsDir,
		},
		Backup: BackupConfig{
			Count: DefaultBackupCount,
		},
		Git: GitConfig{
			Binary:        "git",
			CommitMessage: DefaultCommitMessage,
			CloneRetries:  DefaultCloneRetries,
		},
		State: StateConfig{
			Driver: DefaultStateDriver,
			Dir:    filepath.Join(dataDir, "state"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Color:  true,
		},
	}
}

// Validate checks configuration validity. The repository URL format is
// checked by the git manager, which owns that rule.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Repository.Branch) == "" {
		return models.NewValidationError("config", "repository.branch", "branch is required")
	}

	if strings.TrimSpace(c.Secrets.Dir) == "" {
		return models.NewValidationError("config", "secrets.dir", "secrets directory is required")
	}

	// Negative retention behaves like zero
	if c.Backup.Count < 0 {
		c.Backup.Count = 0
	}
	if c.Git.CloneRetries < 0 {
		c.Git.CloneRetries = 0
	}

	if strings.TrimSpace(c.Git.Binary) == "" {
		return models.NewValidationError("config", "git.binary", "git binary is required")
	}

	validDrivers := map[string]bool{"json": true, "sqlite": true}
	if !validDrivers[c.State.Driver] {
		return models.NewValidationError("config", "state.driver",
			fmt.Sprintf("invalid state driver: %s", c.State.Driver))
	}

	if c.SSH.KeyPath == "" && c.SSH.PrivateKey == "" && c.SSH.PublicKey != "" {
		return models.NewValidationError("config", "ssh.public_key", "public key given without a private key")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return models.NewValidationError("config", "log.level",
			fmt.Sprintf("invalid log level: %s", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return models.NewValidationError("config", "log.format",
			fmt.Sprintf("invalid log format: %s", c.Log.Format))
	}

	return nil
}

// RequireRepository checks the settings a remote operation needs.
func (c *Config) RequireRepository() error {
	if strings.TrimSpace(c.Repository.URL) == "" {
		return models.NewValidationError("config", "repository.url", "repository URL is required")
	}
	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.State.Dir}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return models.NewFileSystemError("create directory", dir, err)
		}
	}

	return nil
}
