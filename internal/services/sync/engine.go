package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheMichaelB/secretsync/internal/backup"
	"github.com/TheMichaelB/secretsync/internal/crypto"
	"github.com/TheMichaelB/secretsync/internal/events"
	"github.com/TheMichaelB/secretsync/internal/models"
	"github.com/TheMichaelB/secretsync/internal/secrets"
	"github.com/TheMichaelB/secretsync/internal/state"
	"github.com/TheMichaelB/secretsync/internal/storage"
)

// ErrOperationInProgress is returned when an engine is already running a
// pull, push or verify.
var ErrOperationInProgress = errors.New("another sync operation is in progress")

// plaintextMode is the permission of every pulled secret file.
const plaintextMode = 0600

// Repository is the remote side of a sync: one disposable working tree.
// *git.Manager implements it.
type Repository interface {
	PullEncryptedArtifacts(ctx context.Context, branch string) ([]models.Artifact, error)
	PrepareRepository(ctx context.Context, branch string) error
	WriteEncryptedArtifacts(artifacts []models.Artifact) error
	CommitAndPush(ctx context.Context, message, branch string) (bool, error)
	Cleanup() error
}

// RepositoryFactory opens a fresh Repository for one operation.
type RepositoryFactory func(ctx context.Context) (Repository, error)

// Options describes what the engine syncs.
type Options struct {
	RepositoryURL string
	Branch        string
	SecretsDir    string
	Excludes      []string
	CommitMessage string

	// OpenLocal opens the store pulled plaintext is written to. Defaults
	// to a storage.LocalStore rooted at SecretsDir.
	OpenLocal func(dir string, logger *events.Logger) (storage.BlobStore, error)
}

// Engine implements the pull and push workflows.
type Engine struct {
	crypto  crypto.Engine
	newRepo RepositoryFactory
	backups *backup.Store
	state   state.Store
	opts    Options
	logger  *events.Logger
	now     func() time.Time

	// Progress tracking
	progress atomic.Value // *Progress
	events   chan Event

	mu           sync.Mutex
	running      bool
	cancelFn     context.CancelFunc
	eventsClosed bool
}

// Progress tracks operation progress.
type Progress struct {
	Operation      string
	Phase          string
	TotalFiles     int
	ProcessedFiles int
	FailedFiles    int
	CurrentFile    string
	StartTime      time.Time
}

// Event represents a sync event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	File      *models.FileItem
	Error     error
	Progress  *Progress
}

// EventType defines sync event types.
type EventType string

const (
	EventStarted      EventType = "started"
	EventFileComplete EventType = "file_complete"
	EventFileError    EventType = "file_error"
	EventCompleted    EventType = "completed"
	EventFailed       EventType = "failed"
)

// Result summarizes a pull or push.
type Result struct {
	Operation string
	// Files are the relative paths written (pull) or encrypted (push).
	Files    []string
	Failed   []models.FileFailure
	Backup   string
	Changed  bool
	Duration time.Duration
}

// NewEngine creates a sync engine. stateStore may be nil to skip recording
// sync state.
func NewEngine(
	cryptoEngine crypto.Engine,
	newRepo RepositoryFactory,
	backups *backup.Store,
	stateStore state.Store,
	opts Options,
	logger *events.Logger,
) *Engine {
	if logger == nil {
		logger = events.NewNopLogger()
	}
	if backups == nil {
		backups = backup.NewStore(0, logger)
	}
	if opts.OpenLocal == nil {
		opts.OpenLocal = openLocalStore
	}

	return &Engine{
		crypto:  cryptoEngine,
		newRepo: newRepo,
		backups: backups,
		state:   stateStore,
		opts:    opts,
		logger:  logger.WithField("component", "sync_engine"),
		now:     time.Now,
		events:  make(chan Event, 100),
	}
}

// Events returns the event channel. It is closed when the running
// operation ends; the next operation opens a new one.
func (e *Engine) Events() <-chan Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events
}

// GetProgress returns current progress.
func (e *Engine) GetProgress() *Progress {
	if p := e.progress.Load(); p != nil {
		return p.(*Progress)
	}
	return nil
}

// Cancel stops an ongoing operation.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancelFn != nil {
		e.logger.Info("Cancelling operation")
		e.cancelFn()
	}
}

func openLocalStore(dir string, logger *events.Logger) (storage.BlobStore, error) {
	return storage.NewLocalStore(dir, logger)
}

// StateID returns the key this engine records sync state under.
func (e *Engine) StateID() string {
	return models.StateID(e.opts.RepositoryURL, e.opts.Branch, e.opts.SecretsDir)
}

// Pull replaces local plaintext with the decrypted remote artifacts. The
// local directory is snapshotted first and left untouched if the fetch
// fails. A bad artifact does not stop the others; failures come back
// together as a *models.BatchError after every artifact was tried.
func (e *Engine) Pull(ctx context.Context) (result *Result, err error) {
	ctx, logger, finish, err := e.begin(ctx, models.OperationPull)
	if err != nil {
		return nil, err
	}
	result = &Result{Operation: models.OperationPull}
	defer func() { finish(result, err) }()

	e.setPhase("backup")
	result.Backup, err = e.backups.Snapshot(e.opts.SecretsDir)
	if err != nil {
		return nil, err
	}

	repo, err := e.openRepository(ctx)
	if err != nil {
		return nil, err
	}
	defer e.cleanup(repo, logger)

	e.setPhase("fetching")
	artifacts, err := repo.PullEncryptedArtifacts(ctx, e.opts.Branch)
	if err != nil {
		return nil, err
	}

	local, err := e.opts.OpenLocal(e.opts.SecretsDir, logger)
	if err != nil {
		return nil, err
	}

	st := e.loadState(logger)
	pulled := make(map[string]string, len(artifacts))
	batch := &models.BatchError{Op: models.OperationPull, Total: len(artifacts)}

	e.updateProgress(func(p *Progress) {
		p.Phase = "decrypting"
		p.TotalFiles = len(artifacts)
	})

	for _, artifact := range artifacts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("pull interrupted: %w", err)
		}

		rel, data, ferr := e.decryptArtifact(artifact)
		if ferr == nil {
			ferr = local.Write(rel, data, plaintextMode)
		}
		if ferr != nil {
			name := rel
			if name == "" {
				name = artifact.Name
			}
			batch.Add(name, ferr)
			e.fileFailed(name, ferr)
			logger.WithError(ferr).WithField("artifact", artifact.Name).Warn("Failed to pull secret")

			// Keep the last known hash so status still tracks the file
			if old := st.GetFileHash(rel); old != "" {
				pulled[rel] = old
			}
			continue
		}

		hash := models.HashContent(data)
		pulled[rel] = hash
		result.Files = append(result.Files, rel)
		e.fileDone(&models.FileItem{Path: rel, Hash: hash, Size: int64(len(data))})
	}

	result.Failed = batch.Failures
	err = batch.ErrOrNil()

	st.Files = pulled
	e.saveState(st, models.OperationPull, err, logger)

	logger.WithFields(map[string]interface{}{
		"written": len(result.Files),
		"failed":  len(result.Failed),
	}).Info("Pull finished")

	return result, err
}

// Push encrypts every local secret file and replaces the remote artifact
// set with them. Nothing remote is touched unless every file encrypted.
// An empty secrets directory is a no-op.
func (e *Engine) Push(ctx context.Context) (result *Result, err error) {
	ctx, logger, finish, err := e.begin(ctx, models.OperationPush)
	if err != nil {
		return nil, err
	}
	result = &Result{Operation: models.OperationPush}
	defer func() { finish(result, err) }()

	index, err := secrets.NewIndex(e.opts.SecretsDir, e.opts.Excludes, logger)
	if err != nil {
		return nil, err
	}

	e.setPhase("collecting")
	files, err := index.Collect()
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		logger.WithField("dir", e.opts.SecretsDir).Warn("No secret files to push")
		return result, nil
	}

	e.updateProgress(func(p *Progress) {
		p.Phase = "encrypting"
		p.TotalFiles = len(files)
	})

	artifacts := make([]models.Artifact, 0, len(files))
	hashes := make(map[string]string, len(files))
	batch := &models.BatchError{Op: models.OperationPush, Total: len(files)}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("push interrupted: %w", err)
		}

		rel, artifact, hash, ferr := e.encryptFile(file, logger)
		if ferr != nil {
			name := rel
			if name == "" {
				name = file
			}
			batch.Add(name, ferr)
			e.fileFailed(name, ferr)
			continue
		}

		artifacts = append(artifacts, artifact)
		hashes[rel] = hash
		result.Files = append(result.Files, rel)
		e.fileDone(&models.FileItem{Path: rel, Hash: hash})
	}

	if err := batch.ErrOrNil(); err != nil {
		result.Failed = batch.Failures
		result.Files = nil
		return result, err
	}

	repo, err := e.openRepository(ctx)
	if err != nil {
		return nil, err
	}
	defer e.cleanup(repo, logger)

	e.setPhase("preparing")
	if err = repo.PrepareRepository(ctx, e.opts.Branch); err != nil {
		return nil, err
	}
	if err = repo.WriteEncryptedArtifacts(artifacts); err != nil {
		return nil, err
	}

	e.setPhase("pushing")
	result.Changed, err = repo.CommitAndPush(ctx, e.commitMessage(), e.opts.Branch)
	if err != nil {
		return nil, err
	}

	st := e.loadState(logger)
	st.Files = hashes
	e.saveState(st, models.OperationPush, nil, logger)

	logger.WithFields(map[string]interface{}{
		"files":   len(result.Files),
		"changed": result.Changed,
	}).Info("Push finished")

	return result, nil
}

func (e *Engine) decryptArtifact(artifact models.Artifact) (string, []byte, error) {
	rel, err := secrets.PlainName(artifact.Name)
	if err != nil {
		return "", nil, err
	}

	encoded := string(artifact.Content)
	if !e.crypto.VerifyStructure(encoded) {
		return rel, nil, models.NewCryptoError("verify", "malformed encrypted data", nil)
	}

	data, err := e.crypto.Decrypt(encoded)
	if err != nil {
		return rel, nil, err
	}
	return rel, data, nil
}

func (e *Engine) encryptFile(file string, logger *events.Logger) (string, models.Artifact, string, error) {
	rel, err := secrets.RelativePath(file, e.opts.SecretsDir)
	if err != nil {
		return "", models.Artifact{}, "", err
	}

	content, err := os.ReadFile(file)
	if err != nil {
		return rel, models.Artifact{}, "", models.NewFileSystemError("read secret", file, err)
	}

	if check := secrets.CheckFileType(rel, content); !check.Plausible {
		logger.WithFields(map[string]interface{}{
			"path":   rel,
			"kind":   check.Kind,
			"reason": check.Reason,
		}).Warn("File content does not match its extension")
	}

	name, err := secrets.ArtifactName(rel)
	if err != nil {
		return rel, models.Artifact{}, "", err
	}

	blob, err := e.crypto.Encrypt(content)
	if err != nil {
		return rel, models.Artifact{}, "", err
	}

	return rel, models.Artifact{Name: name, Content: []byte(blob)}, models.HashContent(content), nil
}

func (e *Engine) commitMessage() string {
	if e.opts.CommitMessage != "" {
		return e.opts.CommitMessage
	}
	return "Update encrypted secrets"
}

// begin claims the engine for one operation and returns the tagged
// context plus a finish func that emits the final event and releases it.
func (e *Engine) begin(ctx context.Context, operation string) (context.Context, *events.Logger, func(*Result, error), error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, nil, nil, ErrOperationInProgress
	}
	e.running = true

	if e.eventsClosed {
		e.events = make(chan Event, 100)
		e.eventsClosed = false
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancelFn = cancel
	e.mu.Unlock()

	ctx = events.WithOperationID(ctx)
	logger := e.logger.WithFields(map[string]interface{}{
		"op_id":     events.GetOperationID(ctx),
		"operation": operation,
		"branch":    e.opts.Branch,
	})
	ctx = events.WithRepository(events.WithLogger(ctx, logger), e.opts.RepositoryURL)
	logger = events.FromContext(ctx)

	progress := &Progress{
		Operation: operation,
		Phase:     "initializing",
		StartTime: e.now(),
	}
	e.progress.Store(progress)

	logger.WithField("dir", e.opts.SecretsDir).Info("Starting " + operation)
	e.emitEvent(Event{Type: EventStarted, Timestamp: e.now(), Progress: progress})

	finish := func(result *Result, err error) {
		final := *e.GetProgress()
		final.Phase = "completed"
		eventType := EventCompleted
		if err != nil {
			final.Phase = "failed"
			eventType = EventFailed
			logger.WithError(err).Error(operation + " failed")
		}
		e.progress.Store(&final)

		if result != nil {
			result.Duration = e.now().Sub(final.StartTime)
		}
		e.emitEvent(Event{Type: eventType, Timestamp: e.now(), Error: err, Progress: &final})

		e.mu.Lock()
		cancel()
		e.running = false
		e.cancelFn = nil
		if !e.eventsClosed {
			close(e.events)
			e.eventsClosed = true
		}
		e.mu.Unlock()
	}

	return ctx, logger, finish, nil
}

func (e *Engine) openRepository(ctx context.Context) (Repository, error) {
	if e.newRepo == nil {
		return nil, models.NewRepositoryError("open", "no repository configured", nil)
	}
	return e.newRepo(ctx)
}

func (e *Engine) cleanup(repo Repository, logger *events.Logger) {
	if err := repo.Cleanup(); err != nil {
		logger.WithError(err).Warn("Failed to clean up working tree")
	}
}

func (e *Engine) loadState(logger *events.Logger) *models.SyncState {
	fresh := models.NewSyncState(e.opts.RepositoryURL, e.opts.Branch, e.opts.SecretsDir)
	if e.state == nil {
		return fresh
	}

	st, err := e.state.Load(fresh.ID)
	if err != nil {
		if !errors.Is(err, state.ErrStateNotFound) {
			logger.WithError(err).Warn("Ignoring unreadable sync state")
		}
		return fresh
	}
	return st
}

// saveState records the outcome. State is advisory, so a failed save is
// logged rather than failing an operation whose remote side succeeded.
func (e *Engine) saveState(st *models.SyncState, operation string, opErr error, logger *events.Logger) {
	if e.state == nil {
		return
	}

	st.MarkSynced(operation, e.now().UTC())
	st.SetError(opErr)

	if err := e.state.Save(st); err != nil {
		logger.WithError(err).Warn("Failed to save sync state")
	}
}

func (e *Engine) setPhase(phase string) {
	e.updateProgress(func(p *Progress) { p.Phase = phase })
}

// updateProgress swaps in a modified copy so readers never see a torn value.
func (e *Engine) updateProgress(fn func(*Progress)) *Progress {
	current := e.GetProgress()
	if current == nil {
		return nil
	}
	next := *current
	fn(&next)
	e.progress.Store(&next)
	return &next
}

func (e *Engine) fileDone(item *models.FileItem) {
	p := e.updateProgress(func(p *Progress) {
		p.ProcessedFiles++
		p.CurrentFile = item.Path
	})
	e.emitEvent(Event{Type: EventFileComplete, Timestamp: e.now(), File: item, Progress: p})
}

func (e *Engine) fileFailed(path string, err error) {
	p := e.updateProgress(func(p *Progress) {
		p.ProcessedFiles++
		p.FailedFiles++
		p.CurrentFile = path
	})
	e.emitEvent(Event{Type: EventFileError, Timestamp: e.now(), File: &models.FileItem{Path: path}, Error: err, Progress: p})
}

func (e *Engine) emitEvent(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.eventsClosed {
		return
	}

	select {
	case e.events <- event:
	default:
		// Channel full, drop event
		e.logger.Debug("Event channel full, dropping event")
	}
}
