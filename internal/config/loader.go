package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, with dots in keys
// replaced by underscores: ssh.key_path becomes SECRETSYNC_SSH_KEY_PATH.
const EnvPrefix = "SECRETSYNC"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a config loader. An empty path searches the default
// locations.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		v:          viper.New(),
	}
}

// Load reads configuration from defaults, file and environment, in
// increasing precedence.
func (l *Loader) Load() (*Config, error) {
	v := l.v
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configPath == "" {
		for _, path := range l.defaultPaths() {
			if _, err := os.Stat(path); err == nil {
				l.configPath = path
				break
			}
		}
	}

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", l.configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ConfigFile returns the file Load read, or "" when none was used.
func (l *Loader) ConfigFile() string {
	return l.configPath
}

// defaultPaths returns default config file locations.
func (l *Loader) defaultPaths() []string {
	paths := []string{
		"secretsync.yaml",
		".secretsync.yaml",
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".config", "secretsync", "config.yaml"),
		)
	}

	return paths
}

// setDefaults registers every key so environment overrides reach Unmarshal
// even when no config file mentions them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("repository.url", d.Repository.URL)
	v.SetDefault("repository.branch", d.Repository.Branch)

	v.SetDefault("secrets.dir", d.Secrets.Dir)
	v.SetDefault("secrets.exclude", d.Secrets.Exclude)

	v.SetDefault("backup.count", d.Backup.Count)

	v.SetDefault("ssh.key_path", d.SSH.KeyPath)
	v.SetDefault("ssh.private_key", d.SSH.PrivateKey)
	v.SetDefault("ssh.public_key", d.SSH.PublicKey)

	v.SetDefault("git.binary", d.Git.Binary)
	v.SetDefault("git.full_clone", d.Git.FullClone)
	v.SetDefault("git.commit_message", d.Git.CommitMessage)
	v.SetDefault("git.clone_retries", d.Git.CloneRetries)

	v.SetDefault("auth.password", d.Auth.Password)
	v.SetDefault("auth.credentials_file", d.Auth.CredentialsFile)
	v.SetDefault("auth.secret_id", d.Auth.SecretID)
	v.SetDefault("auth.secret_region", d.Auth.SecretRegion)

	v.SetDefault("state.driver", d.State.Driver)
	v.SetDefault("state.dir", d.State.Dir)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.color", d.Log.Color)
}

// ErrConfigExists is returned by SaveExample when the target exists and
// overwrite is false.
var ErrConfigExists = errors.New("config file already exists")

// SaveExample writes an example config file. The format follows the file
// extension (yaml, json or toml).
func SaveExample(path string, overwrite bool) error {
	if filepath.Ext(path) == "" {
		return fmt.Errorf("config path %s needs an extension", path)
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}

	cfg := DefaultConfig()
	cfg.Repository.URL = "git@github.com:example/secrets.git"

	v := viper.New()
	setDefaults(v, cfg)

	// Secret material never belongs in the example
	for _, key := range []string{"auth.password", "ssh.private_key", "ssh.public_key"} {
		v.SetDefault(key, nil)
	}

	v.SetConfigPermissions(0600)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
