// Package git drives the git executable to keep a disposable working tree
// of the secrets repository in sync with its remote branch.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/TheMichaelB/secretsync/internal/events"
	"github.com/TheMichaelB/secretsync/internal/models"
	"github.com/TheMichaelB/secretsync/internal/storage"
)

// ArtifactSuffix marks encrypted files inside the working tree.
const ArtifactSuffix = ".enc"

// urlPattern accepts SSH-style remotes: user@host:path.git
var urlPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:[A-Za-z0-9._/~-]+\.git$`)

// ValidateURL checks that url is an SSH-style repository address.
func ValidateURL(url string) error {
	if url == "" {
		return models.NewRepositoryError("validate url", "repository URL is required", nil)
	}
	if !urlPattern.MatchString(url) {
		return models.NewRepositoryError("validate url",
			fmt.Sprintf("invalid repository URL %q: expected user@host:path.git", url), nil)
	}
	return nil
}

// State is the lifecycle position of a Manager.
type State int

const (
	StateUninitialized State = iota
	StateCloned
	StateBranchReady
	StateSynced
	StateStaged
	StateCommitted
	StatePushed
	StateCleaned
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCloned:
		return "cloned"
	case StateBranchReady:
		return "branch_ready"
	case StateSynced:
		return "synced"
	case StateStaged:
		return "staged"
	case StateCommitted:
		return "committed"
	case StatePushed:
		return "pushed"
	case StateCleaned:
		return "cleaned"
	default:
		return "unknown"
	}
}

// Options configures a Manager.
type Options struct {
	URL       string
	SSH       SSHOptions
	FullClone bool

	// Retries is how often a clone failing with a network error is
	// retried; RetryDelay is the first backoff and doubles each time.
	Retries    int
	RetryDelay time.Duration

	// Runner defaults to an ExecRunner for Binary.
	Runner Runner
	Binary string

	// TempDir is the parent of the working tree; "" uses the OS default.
	TempDir string

	Logger *events.Logger
}

// Manager owns one working tree for one pull or push. It is not safe for
// concurrent use and must not be reused after Cleanup.
type Manager struct {
	url        string
	fullClone  bool
	retries    int
	retryDelay time.Duration
	tempDir    string
	runner     Runner
	creds      *sshCredentials
	logger     *events.Logger

	state   State
	workDir string
	repoDir string
	shallow bool
	tree    storage.BlobStore
}

// NewManager validates the URL, checks that git runs and resolves SSH
// credentials. Call Cleanup when done, even after errors from later calls.
func NewManager(ctx context.Context, opts Options) (*Manager, error) {
	if err := ValidateURL(opts.URL); err != nil {
		return nil, err
	}

	runner := opts.Runner
	if runner == nil {
		runner = NewExecRunner(opts.Binary)
	}

	logger := opts.Logger
	if logger == nil {
		logger = events.NewNopLogger()
	}
	logger = logger.WithField("component", "git")

	res, err := runner.Run(ctx, Command{Args: []string{"--version"}})
	if err != nil {
		return nil, models.NewGitError("init", "git executable not available", res.Stderr, err)
	}
	logger.WithField("version", strings.TrimSpace(res.Stdout)).Debug("Found git")

	creds, err := resolveSSH(opts.SSH)
	if err != nil {
		return nil, err
	}
	logger.WithField("ssh_source", creds.source.String()).Debug("Resolved SSH credentials")

	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &Manager{
		url:        opts.URL,
		fullClone:  opts.FullClone,
		retries:    max(opts.Retries, 0),
		retryDelay: retryDelay,
		tempDir:    opts.TempDir,
		runner:     runner,
		creds:      creds,
		logger:     logger,
		state:      StateUninitialized,
	}, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return m.state
}

// WorkTree returns the working tree path, or "" before cloning.
func (m *Manager) WorkTree() string {
	return m.repoDir
}

// CredentialSource reports which SSH source was resolved.
func (m *Manager) CredentialSource() CredentialSource {
	return m.creds.source
}

// PullEncryptedArtifacts syncs branch and returns every artifact in the
// working tree, sorted by name.
func (m *Manager) PullEncryptedArtifacts(ctx context.Context, branch string) ([]models.Artifact, error) {
	if err := m.sync(ctx, branch); err != nil {
		return nil, err
	}

	names, err := m.tree.List(ArtifactSuffix)
	if err != nil {
		return nil, models.NewRepositoryError("list artifacts", "failed to enumerate encrypted files", err)
	}

	artifacts := make([]models.Artifact, 0, len(names))
	for _, name := range names {
		content, err := m.tree.Read(name)
		if err != nil {
			return nil, models.NewRepositoryError("read artifact", name, err)
		}
		artifacts = append(artifacts, models.Artifact{Name: name, Content: content})
	}

	m.logger.WithFields(map[string]interface{}{
		"branch": branch,
		"count":  len(artifacts),
	}).Info("Fetched encrypted artifacts")

	return artifacts, nil
}

// PrepareRepository syncs branch ahead of a push.
func (m *Manager) PrepareRepository(ctx context.Context, branch string) error {
	return m.sync(ctx, branch)
}

// WriteEncryptedArtifacts replaces the artifact set of the working tree.
// Every existing artifact is removed first, wherever it lives, so files
// deleted locally disappear from the remote.
func (m *Manager) WriteEncryptedArtifacts(artifacts []models.Artifact) error {
	if err := m.require(StateSynced, "write artifacts"); err != nil {
		return err
	}

	removed, err := m.tree.DeleteMatching(ArtifactSuffix)
	if err != nil {
		return models.NewRepositoryError("write artifacts", "failed to remove existing artifacts", err)
	}

	for _, a := range artifacts {
		if !strings.HasSuffix(a.Name, ArtifactSuffix) {
			return models.NewRepositoryError("write artifacts",
				fmt.Sprintf("artifact %q lacks the %s suffix", a.Name, ArtifactSuffix), nil)
		}
		if err := m.tree.Write(a.Name, a.Content, 0644); err != nil {
			return models.NewRepositoryError("write artifacts", "failed to write "+a.Name, err)
		}
	}

	m.logger.WithFields(map[string]interface{}{
		"removed": removed,
		"written": len(artifacts),
	}).Debug("Wrote encrypted artifacts")

	return nil
}

// CommitAndPush stages everything, commits and pushes to origin/branch.
// It reports false without committing when the tree is clean.
func (m *Manager) CommitAndPush(ctx context.Context, message, branch string) (bool, error) {
	if err := m.require(StateSynced, "commit"); err != nil {
		return false, err
	}
	if err := validateBranch(branch); err != nil {
		return false, err
	}

	if res, err := m.git(ctx, m.repoDir, "add", "-A"); err != nil {
		return false, models.NewGitError("stage", "git add failed", res.Stderr, err)
	}
	m.state = StateStaged

	res, err := m.git(ctx, m.repoDir, "status", "--porcelain")
	if err != nil {
		return false, models.NewGitError("status", "git status failed", res.Stderr, err)
	}
	if strings.TrimSpace(res.Stdout) == "" {
		m.logger.Info("No changes to commit")
		return false, nil
	}

	if err := m.checkIdentity(ctx); err != nil {
		return false, err
	}

	if res, err := m.git(ctx, m.repoDir, "commit", "-m", message); err != nil {
		return false, models.NewGitError("commit", "git commit failed", res.Stderr, err)
	}
	m.state = StateCommitted

	if res, err := m.git(ctx, m.repoDir, "push", "origin", branch); err != nil {
		return false, models.NewGitError("push", "git push failed", res.Stderr, err)
	}
	m.state = StatePushed

	m.logger.WithField("branch", branch).Info("Pushed encrypted artifacts")
	return true, nil
}

// checkIdentity refuses to commit under a defaulted author.
func (m *Manager) checkIdentity(ctx context.Context) error {
	for _, key := range []string{"user.name", "user.email"} {
		res, err := m.git(ctx, m.repoDir, "config", "--get", key)
		if err != nil || strings.TrimSpace(res.Stdout) == "" {
			return models.NewGitError("commit",
				fmt.Sprintf("git %s is not configured; run: git config --global %s <value>", key, key),
				res.Stderr, err)
		}
	}
	return nil
}

// Cleanup removes the working tree and temporary key material. Safe to
// call repeatedly and in any state.
func (m *Manager) Cleanup() error {
	if m.state == StateCleaned {
		return nil
	}

	var errs []error
	if m.workDir != "" {
		if err := os.RemoveAll(m.workDir); err != nil {
			errs = append(errs, models.NewFileSystemError("remove working tree", m.workDir, err))
		}
	}
	if err := m.creds.cleanup(); err != nil {
		errs = append(errs, err)
	}

	m.workDir = ""
	m.repoDir = ""
	m.tree = nil
	m.state = StateCleaned

	m.logger.Debug("Cleaned up working tree")
	return errors.Join(errs...)
}

// sync runs clone, branch resolution and fast-forward.
func (m *Manager) sync(ctx context.Context, branch string) error {
	if err := m.require(StateUninitialized, "sync"); err != nil {
		return err
	}
	if err := validateBranch(branch); err != nil {
		return err
	}

	if err := m.clone(ctx); err != nil {
		return err
	}
	if err := m.checkoutBranch(ctx, branch); err != nil {
		return err
	}
	if err := m.fastForward(ctx, branch); err != nil {
		return err
	}

	tree, err := storage.NewLocalStore(m.repoDir, m.logger)
	if err != nil {
		return models.NewRepositoryError("sync", "open working tree", err)
	}
	m.tree = tree
	m.state = StateSynced
	return nil
}

func (m *Manager) clone(ctx context.Context) error {
	workDir, err := os.MkdirTemp(m.tempDir, "secretsync-*")
	if err != nil {
		return models.NewRepositoryError("clone", "create temporary directory", err)
	}
	m.workDir = workDir
	m.repoDir = filepath.Join(workDir, "repo")

	args := []string{"clone"}
	if !m.fullClone {
		// All remote branches stay fetchable so non-default branches resolve
		args = append(args, "--depth", "1", "--no-single-branch")
	}
	args = append(args, "--", m.url, m.repoDir)

	m.logger.WithField("shallow", !m.fullClone).Info("Cloning repository")

	stderr, err := m.retry(ctx, "clone", func() (string, error) {
		// A failed attempt can leave a partial checkout behind
		if err := os.RemoveAll(m.repoDir); err != nil {
			return "", err
		}
		res, err := m.git(ctx, workDir, args...)
		return res.Stderr, err
	})
	if err != nil {
		return models.NewGitError("clone", "failed to clone "+m.url, stderr, err)
	}

	m.shallow = !m.fullClone
	m.state = StateCloned
	return nil
}

func (m *Manager) checkoutBranch(ctx context.Context, branch string) error {
	if _, err := m.git(ctx, m.repoDir, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch); err == nil {
		if res, err := m.git(ctx, m.repoDir, "checkout", branch); err != nil {
			return models.NewGitError("checkout", "failed to check out "+branch, res.Stderr, err)
		}
		m.state = StateBranchReady
		return nil
	}

	remoteRef := "origin/" + branch
	if _, err := m.git(ctx, m.repoDir, "rev-parse", "--verify", "--quiet", "refs/remotes/"+remoteRef); err != nil {
		return models.NewRepositoryError("checkout",
			fmt.Sprintf("branch %q does not exist on the remote", branch), err)
	}

	if res, err := m.git(ctx, m.repoDir, "checkout", "-b", branch, "--track", remoteRef); err != nil {
		return models.NewGitError("checkout", "failed to create tracking branch "+branch, res.Stderr, err)
	}

	m.state = StateBranchReady
	return nil
}

// fastForward fetches and fast-forwards. A shallow clone gets one
// unshallow-and-retry before the failure is final.
func (m *Manager) fastForward(ctx context.Context, branch string) error {
	if res, err := m.git(ctx, m.repoDir, "fetch", "origin", branch); err != nil {
		return models.NewGitError("fetch", "failed to fetch "+branch, res.Stderr, err)
	}

	res, err := m.git(ctx, m.repoDir, "pull", "--ff-only", "origin", branch)
	if err == nil {
		return nil
	}

	if !m.shallow {
		return models.NewGitError("pull", "fast-forward failed", res.Stderr, err)
	}

	m.logger.WithField("branch", branch).Warn("Fast-forward failed on shallow clone, fetching full history")

	if res, err := m.git(ctx, m.repoDir, "fetch", "--unshallow", "origin"); err != nil {
		return models.NewGitError("fetch", "failed to unshallow repository", res.Stderr, err)
	}
	m.shallow = false

	if res, err := m.git(ctx, m.repoDir, "pull", "--ff-only", "origin", branch); err != nil {
		return models.NewGitError("pull", "fast-forward failed after unshallow", res.Stderr, err)
	}

	return nil
}

func (m *Manager) require(want State, op string) error {
	if m.state == StateCleaned {
		return models.NewRepositoryError(op, "manager already cleaned up", nil)
	}
	if m.state != want {
		return models.NewRepositoryError(op,
			fmt.Sprintf("invalid state %s, expected %s", m.state, want), nil)
	}
	return nil
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) (Result, error) {
	cmd := Command{
		Args: args,
		Dir:  dir,
		Env:  m.creds.env(),
	}

	m.logger.WithField("cmd", cmd.String()).Debug("Running git")
	return m.runner.Run(ctx, cmd)
}

func validateBranch(branch string) error {
	if strings.TrimSpace(branch) == "" {
		return models.NewValidationError("branch", branch, "branch name is required")
	}
	if strings.HasPrefix(branch, "-") || strings.ContainsAny(branch, " \t\n~^:?*[\\") || strings.Contains(branch, "..") {
		return models.NewValidationError("branch", branch, "invalid branch name")
	}
	return nil
}
