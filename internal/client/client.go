package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/TheMichaelB/secretsync/internal/config"
	"github.com/TheMichaelB/secretsync/internal/creds"
	"github.com/TheMichaelB/secretsync/internal/crypto"
	"github.com/TheMichaelB/secretsync/internal/events"
	"github.com/TheMichaelB/secretsync/internal/git"
	"github.com/TheMichaelB/secretsync/internal/models"
	"github.com/TheMichaelB/secretsync/internal/services/sync"
	"github.com/TheMichaelB/secretsync/internal/state"
)

// ErrNoPassword is returned when no password source produced a value.
var ErrNoPassword = errors.New("no encryption password available")

// PasswordSource names where the encryption password came from.
type PasswordSource string

const (
	SourceFlag        PasswordSource = "flag"
	SourceConfig      PasswordSource = "config"
	SourceCredentials PasswordSource = "credentials_file"
	SourceSecret      PasswordSource = "secrets_manager"
	SourcePrompt      PasswordSource = "prompt"
)

// Options are the inputs that do not live in config.
type Options struct {
	// Password from the command line; wins over every other source
	Password string

	// Prompt asks the user for the password as the last resort. Nil
	// disables prompting.
	Prompt func() (string, error)

	// SecretLoader replaces the AWS Secrets Manager lookup.
	SecretLoader func(ctx context.Context, secretID, region string) (*creds.Credentials, error)

	// GitRunner replaces the git subprocess.
	GitRunner git.Runner

	// Offline skips password resolution. Only local operations (status,
	// backups, state) work; anything needing the password fails with a
	// crypto error.
	Offline bool
}

// Client provides the high-level API for secretsync operations.
type Client struct {
	Sync   *sync.Service
	State  StateManager
	Crypto *crypto.Provider

	config         *config.Config
	logger         *events.Logger
	store          state.Store
	passwordSource PasswordSource
}

// StateManager provides state management operations.
type StateManager interface {
	ListStates() ([]*models.SyncState, error)
	LoadState(id string) (*models.SyncState, error)
	Reset(id string) error
}

// New creates a client for the configured repository. Close releases the
// state store and wipes the password.
func New(ctx context.Context, cfg *config.Config, logger *events.Logger, opts Options) (*Client, error) {
	if logger == nil {
		logger = events.NewNopLogger()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	var (
		engine   crypto.Engine = offlineCrypto{}
		provider *crypto.Provider
		source   PasswordSource
	)
	if !opts.Offline {
		var err error
		provider, source, err = NewCrypto(ctx, cfg, logger, opts)
		if err != nil {
			return nil, err
		}
		engine = provider
	}

	stateStore, err := state.Open(cfg.State, logger)
	if err != nil {
		wipe(provider)
		return nil, err
	}

	var serviceOpts []sync.ServiceOption
	if opts.GitRunner != nil {
		serviceOpts = append(serviceOpts, sync.WithGitRunner(opts.GitRunner))
	}

	syncService, err := sync.NewService(cfg, engine, stateStore, logger, serviceOpts...)
	if err != nil {
		wipe(provider)
		_ = stateStore.Close()
		return nil, err
	}

	return &Client{
		Sync:           syncService,
		State:          &stateManager{store: stateStore},
		Crypto:         provider,
		config:         cfg,
		logger:         logger,
		store:          stateStore,
		passwordSource: source,
	}, nil
}

// NewCrypto resolves the password and builds a crypto provider without
// touching the repository or state.
func NewCrypto(ctx context.Context, cfg *config.Config, logger *events.Logger, opts Options) (*crypto.Provider, PasswordSource, error) {
	password, source, err := ResolvePassword(ctx, cfg, opts)
	if err != nil {
		return nil, "", err
	}
	if logger != nil {
		logger.WithField("source", string(source)).Debug("Resolved encryption password")
	}

	provider, err := crypto.NewProvider(password)
	if err != nil {
		return nil, "", err
	}
	return provider, source, nil
}

// ResolvePassword walks the password sources in priority order: flag,
// config or environment, credentials file, Secrets Manager, prompt.
func ResolvePassword(ctx context.Context, cfg *config.Config, opts Options) (string, PasswordSource, error) {
	if opts.Password != "" {
		return opts.Password, SourceFlag, nil
	}
	if cfg.Auth.Password != "" {
		return cfg.Auth.Password, SourceConfig, nil
	}

	if path := expandHome(cfg.Auth.CredentialsFile); path != "" {
		c, err := creds.LoadFromFile(path)
		if err != nil {
			return "", "", err
		}
		if pw := c.PasswordFor(cfg.Repository.URL); pw != "" {
			return pw, SourceCredentials, nil
		}
	}

	if cfg.Auth.SecretID != "" {
		load := opts.SecretLoader
		if load == nil {
			load = creds.LoadFromSecret
		}
		c, err := load(ctx, cfg.Auth.SecretID, cfg.Auth.SecretRegion)
		if err != nil {
			if models.KindOf(err) == 0 {
				err = models.NewFileSystemError("load secret", cfg.Auth.SecretID, err)
			}
			return "", "", err
		}
		if pw := c.PasswordFor(cfg.Repository.URL); pw != "" {
			return pw, SourceSecret, nil
		}
	}

	if opts.Prompt != nil {
		pw, err := opts.Prompt()
		if err != nil {
			return "", "", models.NewFileSystemError("read password", "stdin", err)
		}
		if pw != "" {
			return pw, SourcePrompt, nil
		}
	}

	return "", "", &models.Error{
		Kind:    models.KindValidation,
		Op:      "resolve password",
		Message: "set --password, SECRETSYNC_AUTH_PASSWORD, auth.credentials_file or auth.secret_id",
		Err:     ErrNoPassword,
	}
}

// PasswordSource reports where the password came from.
func (c *Client) PasswordSource() PasswordSource {
	return c.passwordSource
}

// Config returns the configuration the client was built from.
func (c *Client) Config() *config.Config {
	return c.config
}

// MigrateState copies every state into a store using another driver.
func (c *Client) MigrateState(driver string) (int, error) {
	target := c.config.State
	target.Driver = driver
	if target.Driver == c.config.State.Driver {
		return 0, models.NewValidationError("migrate state", "state.driver", "source and target driver are the same")
	}

	dst, err := state.Open(target, c.logger)
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	return state.Migrate(c.store, dst, c.logger)
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	wipe(c.Crypto)
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

func wipe(p *crypto.Provider) {
	if p != nil {
		p.Wipe()
	}
}

var errOffline = models.NewCryptoError("offline", "encryption password was not loaded", nil)

// offlineCrypto stands in for the provider when no password was resolved.
type offlineCrypto struct{}

func (offlineCrypto) Encrypt([]byte) (string, error) { return "", errOffline }
func (offlineCrypto) Decrypt(string) ([]byte, error) { return nil, errOffline }
func (offlineCrypto) VerifyStructure(encoded string) bool {
	return crypto.VerifyStructure(encoded)
}
func (offlineCrypto) VerifyDetailed(encoded string) crypto.VerifyResult {
	return crypto.VerifyResult{StructureValid: crypto.VerifyStructure(encoded), Error: errOffline.Error()}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// stateManager implements StateManager interface.
type stateManager struct {
	store state.Store
}

// ListStates skips states that cannot be loaded.
func (sm *stateManager) ListStates() ([]*models.SyncState, error) {
	ids, err := sm.store.List()
	if err != nil {
		return nil, err
	}

	var states []*models.SyncState
	for _, id := range ids {
		st, err := sm.store.Load(id)
		if err != nil {
			continue
		}
		states = append(states, st)
	}

	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
	return states, nil
}

func (sm *stateManager) LoadState(id string) (*models.SyncState, error) {
	return sm.store.Load(id)
}

func (sm *stateManager) Reset(id string) error {
	return sm.store.Reset(id)
}
