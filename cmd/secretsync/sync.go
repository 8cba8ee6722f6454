package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/secretsync/internal/config"
	"github.com/TheMichaelB/secretsync/internal/models"
	"github.com/TheMichaelB/secretsync/internal/services/sync"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Decrypt the remote branch into the secrets directory",
	Long: `Pull backs up the secrets directory, fetches the branch and decrypts
every .enc artifact into place. Files that fail to decrypt are reported
together after all others were written.`,
	Example: `  secretsync pull
  secretsync pull --branch release`,
	Args: cobra.NoArgs,
	RunE: runPull,
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Encrypt the secrets directory onto the remote branch",
	Long: `Push encrypts every file in the secrets directory and replaces the
artifacts on the branch with them. Every .enc file on the branch is
removed first, including ones push did not create. Nothing is pushed unless
every file encrypted.`,
	Example: `  secretsync push
  secretsync push -m "Rotate distribution certificate"`,
	Args: cobra.NoArgs,
	RunE: runPush,
}

var (
	syncBranch  string
	syncDir     string
	pushMessage string
)

func init() {
	rootCmd.AddCommand(pullCmd, pushCmd)

	for _, c := range []*cobra.Command{pullCmd, pushCmd} {
		c.Flags().StringVarP(&syncBranch, "branch", "b", "",
			"Branch to sync (overrides repository.branch)")
		c.Flags().StringVarP(&syncDir, "dir", "d", "",
			"Secrets directory (overrides secrets.dir)")
	}
	pushCmd.Flags().StringVarP(&pushMessage, "message", "m", "",
		"Commit message (overrides git.commit_message)")
}

func applySyncFlags() {
	if syncBranch != "" {
		cfg.Repository.Branch = syncBranch
	}
	if syncDir != "" {
		cfg.Secrets.Dir = syncDir
	}
	if pushMessage != "" {
		cfg.Git.CommitMessage = pushMessage
	}
}

func runPull(cmd *cobra.Command, args []string) error {
	return runSync((*sync.Service).Pull, "Pulled")
}

func runPush(cmd *cobra.Command, args []string) error {
	return runSync((*sync.Service).Push, "Pushed")
}

func runSync(op func(*sync.Service, context.Context) (*sync.Result, error), verb string) error {
	applySyncFlags()

	ctx, cancel := signalContext()
	defer cancel()

	apiClient, err := newClient(ctx)
	if err != nil {
		return err
	}
	defer apiClient.Close()

	done := watchEvents(apiClient.Sync.Events())
	result, err := op(apiClient.Sync, ctx)
	<-done

	if jsonOutput {
		out := map[string]interface{}{
			"success": err == nil,
			"branch":  cfg.Repository.Branch,
		}
		if result != nil {
			out["operation"] = result.Operation
			out["files"] = result.Files
			out["backup"] = result.Backup
			out["changed"] = result.Changed
			out["duration_ms"] = result.Duration.Milliseconds()
			if len(result.Failed) > 0 {
				failed := make(map[string]string, len(result.Failed))
				for _, f := range result.Failed {
					failed[f.Path] = f.Err.Error()
				}
				out["failed"] = failed
			}
		}
		if err != nil {
			out["error"] = err.Error()
		}
		printJSON(out)
		return silent(err)
	}

	if result == nil {
		return err
	}

	if result.Backup != "" {
		printInfo("Backup: %s", result.Backup)
	}
	if err != nil {
		printWarning("%s %s, %s failed", verb, plural(len(result.Files), "file"), plural(len(result.Failed), "file"))
		return err
	}

	switch {
	case len(result.Files) == 0:
		printWarning("%s", emptyMessage(result.Operation, cfg))
	case result.Operation == models.OperationPush && !result.Changed:
		printSuccess("Remote already up to date (%s)", plural(len(result.Files), "file"))
	default:
		printSuccess("%s %s on %s in %s", verb, plural(len(result.Files), "file"),
			cfg.Repository.Branch, result.Duration.Round(time.Millisecond))
	}
	return nil
}

// emptyMessage names what was empty: the remote branch for a pull, the
// secrets directory for a push.
func emptyMessage(operation string, c *config.Config) string {
	if operation == models.OperationPull {
		return fmt.Sprintf("No encrypted artifacts on branch %s of %s", c.Repository.Branch, c.Repository.URL)
	}
	return fmt.Sprintf("No secret files found in %s", c.Secrets.Dir)
}

// silentError carries an error whose details were already printed.
type silentError struct{ err error }

func (e silentError) Error() string { return e.err.Error() }
func (e silentError) Unwrap() error { return e.err }

func silent(err error) error {
	if err == nil {
		return nil
	}
	return silentError{err}
}
