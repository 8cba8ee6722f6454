package sync

import (
	"context"
	"os"
	"path/filepath"

	"github.com/TheMichaelB/secretsync/internal/backup"
	"github.com/TheMichaelB/secretsync/internal/config"
	"github.com/TheMichaelB/secretsync/internal/crypto"
	"github.com/TheMichaelB/secretsync/internal/events"
	"github.com/TheMichaelB/secretsync/internal/git"
	"github.com/TheMichaelB/secretsync/internal/models"
	"github.com/TheMichaelB/secretsync/internal/state"
)

// GitRepositoryFactory opens a new git.Manager per operation. The manager
// logs through the operation's context logger.
func GitRepositoryFactory(opts git.Options) RepositoryFactory {
	return func(ctx context.Context) (Repository, error) {
		o := opts
		o.Logger = events.FromContext(ctx)

		mgr, err := git.NewManager(ctx, o)
		if err != nil {
			return nil, err
		}
		return mgr, nil
	}
}

// GitOptions maps configuration onto git manager options.
func GitOptions(cfg *config.Config) git.Options {
	return git.Options{
		URL: cfg.Repository.URL,
		SSH: git.SSHOptions{
			KeyPath:    cfg.SSH.KeyPath,
			PrivateKey: cfg.SSH.PrivateKey,
			PublicKey:  cfg.SSH.PublicKey,
		},
		FullClone: cfg.Git.FullClone,
		Retries:   cfg.Git.CloneRetries,
		Binary:    cfg.Git.Binary,
	}
}

// Service provides high-level sync operations for one configured
// repository and secrets directory.
type Service struct {
	engine     *Engine
	backups    *backup.Store
	secretsDir string
	logger     *events.Logger
}

// ServiceOption customizes a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	runner  git.Runner
	factory RepositoryFactory
}

// WithGitRunner replaces the git subprocess runner.
func WithGitRunner(r git.Runner) ServiceOption {
	return func(o *serviceOptions) { o.runner = r }
}

// WithRepositoryFactory replaces the git-backed repository entirely.
func WithRepositoryFactory(f RepositoryFactory) ServiceOption {
	return func(o *serviceOptions) { o.factory = f }
}

// NewService creates a sync service from configuration. stateStore may be
// nil.
func NewService(
	cfg *config.Config,
	cryptoEngine crypto.Engine,
	stateStore state.Store,
	logger *events.Logger,
	opts ...ServiceOption,
) (*Service, error) {
	if cryptoEngine == nil {
		return nil, models.NewValidationError("new service", "", "crypto engine is required")
	}
	if logger == nil {
		logger = events.NewNopLogger()
	}

	var so serviceOptions
	for _, opt := range opts {
		opt(&so)
	}

	factory := so.factory
	if factory == nil {
		gitOpts := GitOptions(cfg)
		gitOpts.Runner = so.runner
		factory = GitRepositoryFactory(gitOpts)
	}

	backups := backup.NewStore(cfg.Backup.Count, logger)
	engine := NewEngine(cryptoEngine, factory, backups, stateStore, Options{
		RepositoryURL: cfg.Repository.URL,
		Branch:        cfg.Repository.Branch,
		SecretsDir:    cfg.Secrets.Dir,
		Excludes:      cfg.Secrets.Exclude,
		CommitMessage: cfg.Git.CommitMessage,
	}, logger)

	return &Service{
		engine:     engine,
		backups:    backups,
		secretsDir: cfg.Secrets.Dir,
		logger:     logger.WithField("service", "sync"),
	}, nil
}

// Pull decrypts the remote branch into the secrets directory.
func (s *Service) Pull(ctx context.Context) (*Result, error) {
	return s.engine.Pull(ctx)
}

// Push encrypts the secrets directory onto the remote branch.
func (s *Service) Push(ctx context.Context) (*Result, error) {
	return s.engine.Push(ctx)
}

// Status reports local changes since the last sync.
func (s *Service) Status(ctx context.Context) (*StatusReport, error) {
	return s.engine.Status(ctx)
}

// Verify checks every remote artifact against the password.
func (s *Service) Verify(ctx context.Context) (*VerifyReport, error) {
	return s.engine.Verify(ctx)
}

// ListBackups returns the snapshots of the secrets directory, newest first.
// A missing parent directory means there are none.
func (s *Service) ListBackups() ([]string, error) {
	backups, err := s.backups.List(s.secretsDir)
	if err != nil {
		abs, absErr := filepath.Abs(s.secretsDir)
		if absErr != nil {
			return nil, err
		}
		if _, statErr := os.Stat(filepath.Dir(abs)); os.IsNotExist(statErr) {
			return []string{}, nil
		}
		return nil, err
	}
	return backups, nil
}

// RestoreBackup replaces the secrets directory with a snapshot. name may be
// a path from ListBackups or its base name; "" restores the newest.
func (s *Service) RestoreBackup(name string) (string, error) {
	backups, err := s.ListBackups()
	if err != nil {
		return "", err
	}

	byPath, _ := filepath.Abs(name)

	var chosen string
	switch {
	case name == "" && len(backups) == 0:
		return "", models.NewFileSystemError("restore", s.secretsDir, os.ErrNotExist)
	case name == "":
		chosen = backups[0]
	default:
		for _, b := range backups {
			if b == byPath || filepath.Base(b) == name {
				chosen = b
				break
			}
		}
		if chosen == "" {
			return "", models.NewFileSystemError("restore", name, os.ErrNotExist)
		}
	}

	s.logger.WithField("backup", chosen).Info("Restoring backup")
	if err := s.backups.Restore(chosen, s.secretsDir); err != nil {
		return "", err
	}
	return chosen, nil
}

// StateID returns the key sync state is recorded under.
func (s *Service) StateID() string {
	return s.engine.StateID()
}

// GetProgress returns sync progress.
func (s *Service) GetProgress() *Progress {
	return s.engine.GetProgress()
}

// Events returns the event channel.
func (s *Service) Events() <-chan Event {
	return s.engine.Events()
}

// Cancel stops an ongoing sync.
func (s *Service) Cancel() {
	s.engine.Cancel()
}
