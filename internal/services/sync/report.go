package sync

import (
	"context"
	"errors"
	"os"
	"sort"
	"time"

	"github.com/TheMichaelB/secretsync/internal/crypto"
	"github.com/TheMichaelB/secretsync/internal/models"
	"github.com/TheMichaelB/secretsync/internal/secrets"
	"github.com/TheMichaelB/secretsync/internal/state"
)

// OperationVerify names the verify workflow in events and logs.
const OperationVerify = "verify"

// FileStatus is one line of a status report.
type FileStatus struct {
	Path   string            `json:"path"`
	Change models.FileChange `json:"change"`
	Type   secrets.TypeCheck `json:"type"`
}

// StatusReport compares the local secrets directory with the last sync.
type StatusReport struct {
	StateID       string       `json:"state_id"`
	Repository    string       `json:"repository"`
	Branch        string       `json:"branch"`
	SecretsDir    string       `json:"secrets_dir"`
	DirExists     bool         `json:"dir_exists"`
	Synced        bool         `json:"synced"`
	LastOperation string       `json:"last_operation,omitempty"`
	LastSyncTime  time.Time    `json:"last_sync_time,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
	Files         []FileStatus `json:"files"`
	Backups       []string     `json:"backups"`
}

// Counts tallies files per change kind.
func (r *StatusReport) Counts() map[models.FileChange]int {
	counts := make(map[models.FileChange]int)
	for _, f := range r.Files {
		counts[f.Change]++
	}
	return counts
}

// Clean reports whether nothing changed since the last sync.
func (r *StatusReport) Clean() bool {
	for _, f := range r.Files {
		if f.Change != models.ChangeUnchanged {
			return false
		}
	}
	return true
}

// Status compares local files with the recorded state. It never contacts
// the remote.
func (e *Engine) Status(ctx context.Context) (*StatusReport, error) {
	report := &StatusReport{
		StateID:    e.StateID(),
		Repository: e.opts.RepositoryURL,
		Branch:     e.opts.Branch,
		SecretsDir: e.opts.SecretsDir,
		Files:      []FileStatus{},
	}

	tracked := map[string]string{}
	if e.state != nil {
		st, err := e.state.Load(report.StateID)
		switch {
		case err == nil:
			report.Synced = true
			report.LastOperation = st.Operation
			report.LastSyncTime = st.LastSyncTime
			report.LastError = st.LastError
			tracked = st.Files
		case errors.Is(err, state.ErrStateNotFound):
		default:
			return nil, err
		}
	}

	index, err := secrets.NewIndex(e.opts.SecretsDir, e.opts.Excludes, e.logger)
	if err != nil {
		return nil, err
	}

	var files []string
	if _, statErr := os.Stat(e.opts.SecretsDir); statErr == nil {
		report.DirExists = true
		if files, err = index.Collect(); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]bool, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rel, err := secrets.RelativePath(file, e.opts.SecretsDir)
		if err != nil {
			return nil, err
		}
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, models.NewFileSystemError("status", file, err)
		}
		seen[rel] = true

		change := models.ChangeUnchanged
		switch old, ok := tracked[rel]; {
		case !ok:
			change = models.ChangeAdded
		case old != models.HashContent(content):
			change = models.ChangeModified
		}

		report.Files = append(report.Files, FileStatus{
			Path:   rel,
			Change: change,
			Type:   secrets.CheckFileType(rel, content),
		})
	}

	for rel := range tracked {
		if !seen[rel] {
			report.Files = append(report.Files, FileStatus{Path: rel, Change: models.ChangeDeleted})
		}
	}
	sort.Slice(report.Files, func(i, j int) bool { return report.Files[i].Path < report.Files[j].Path })

	report.Backups = []string{}
	backups, err := e.backups.List(e.opts.SecretsDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	report.Backups = append(report.Backups, backups...)

	return report, nil
}

// ArtifactCheck is the verification outcome for one remote artifact.
type ArtifactCheck struct {
	Name   string              `json:"name"`
	Result crypto.VerifyResult `json:"result"`
}

// VerifyReport lists every artifact on the branch with its verdict.
type VerifyReport struct {
	Branch    string          `json:"branch"`
	Artifacts []ArtifactCheck `json:"artifacts"`
}

// Valid reports whether every artifact decrypted.
func (r *VerifyReport) Valid() bool {
	for _, a := range r.Artifacts {
		if !a.Result.Valid {
			return false
		}
	}
	return true
}

// Invalid returns the artifacts that failed.
func (r *VerifyReport) Invalid() []ArtifactCheck {
	var bad []ArtifactCheck
	for _, a := range r.Artifacts {
		if !a.Result.Valid {
			bad = append(bad, a)
		}
	}
	return bad
}

// Verify fetches the branch and checks every artifact against the
// password without writing anything locally.
func (e *Engine) Verify(ctx context.Context) (report *VerifyReport, err error) {
	ctx, logger, finish, err := e.begin(ctx, OperationVerify)
	if err != nil {
		return nil, err
	}
	defer func() { finish(nil, err) }()

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

	e.updateProgress(func(p *Progress) {
		p.Phase = "verifying"
		p.TotalFiles = len(artifacts)
	})

	report = &VerifyReport{
		Branch:    e.opts.Branch,
		Artifacts: make([]ArtifactCheck, 0, len(artifacts)),
	}
	for _, artifact := range artifacts {
		result := e.crypto.VerifyDetailed(string(artifact.Content))
		report.Artifacts = append(report.Artifacts, ArtifactCheck{Name: artifact.Name, Result: result})

		if result.Valid {
			e.fileDone(&models.FileItem{Path: artifact.Name})
			continue
		}

		reason := result.Error
		if reason == "" {
			reason = "incorrect password or corrupted data"
		}
		e.fileFailed(artifact.Name, models.NewCryptoError("verify", reason, nil))
	}

	logger.WithFields(map[string]interface{}{
		"artifacts": len(report.Artifacts),
		"invalid":   len(report.Invalid()),
	}).Info("Verify finished")

	return report, nil
}
