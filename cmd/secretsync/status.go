package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/secretsync/internal/client"
	"github.com/TheMichaelB/secretsync/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local changes since the last pull or push",
	Long: `Status compares the secrets directory with the hashes recorded by the
last successful sync. It never contacts the remote and needs no password.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check every remote artifact against the password",
	Long: `Verify fetches the branch and decrypts each artifact in memory. The
secrets directory is not touched.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(statusCmd, verifyCmd)

	for _, c := range []*cobra.Command{statusCmd, verifyCmd} {
		c.Flags().StringVarP(&syncBranch, "branch", "b", "",
			"Branch (overrides repository.branch)")
		c.Flags().StringVarP(&syncDir, "dir", "d", "",
			"Secrets directory (overrides secrets.dir)")
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	applySyncFlags()

	opts := clientOptions()
	opts.Offline = true
	apiClient, err := client.New(context.Background(), cfg, logger, opts)
	if err != nil {
		return err
	}
	defer apiClient.Close()

	report, err := apiClient.Sync.Status(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(report)
		return nil
	}

	fmt.Printf("Repository: %s (%s)\n", orNone(report.Repository), report.Branch)
	fmt.Printf("Directory:  %s\n", report.SecretsDir)
	if !report.DirExists {
		printWarning("Secrets directory does not exist; run pull first")
	}
	if report.Synced {
		fmt.Printf("Last sync:  %s at %s\n", report.LastOperation, report.LastSyncTime.Local().Format("2006-01-02 15:04:05"))
		if report.LastError != "" {
			printWarning("Last sync reported: %s", report.LastError)
		}
	} else {
		fmt.Println("Last sync:  never")
	}
	fmt.Println()

	for _, f := range report.Files {
		if f.Change == models.ChangeUnchanged {
			continue
		}
		changeColor(f.Change).Fprintf(os.Stdout, "  %-9s %s\n", f.Change, f.Path)
	}
	for _, f := range report.Files {
		if f.Change != models.ChangeDeleted && !f.Type.Plausible {
			printWarning("  %s does not look like a %s file: %s", f.Path, f.Type.Kind, f.Type.Reason)
		}
	}

	counts := report.Counts()
	if report.Clean() {
		printSuccess("Clean: %s unchanged", plural(counts[models.ChangeUnchanged], "file"))
	} else {
		fmt.Printf("\n%d added, %d modified, %d deleted, %d unchanged\n",
			counts[models.ChangeAdded], counts[models.ChangeModified],
			counts[models.ChangeDeleted], counts[models.ChangeUnchanged])
	}

	if len(report.Backups) > 0 {
		dimColor.Fprintf(os.Stdout, "%s, newest %s\n", plural(len(report.Backups), "backup"), report.Backups[0])
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	applySyncFlags()

	ctx, cancel := signalContext()
	defer cancel()

	apiClient, err := newClient(ctx)
	if err != nil {
		return err
	}
	defer apiClient.Close()

	done := watchEvents(apiClient.Sync.Events())
	report, err := apiClient.Sync.Verify(ctx)
	<-done
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":   report.Valid(),
			"branch":    report.Branch,
			"artifacts": report.Artifacts,
		})
	} else {
		for _, a := range report.Invalid() {
			reason := a.Result.Error
			switch {
			case reason != "":
			case !a.Result.StructureValid:
				reason = "malformed encrypted data"
			default:
				reason = "incorrect password or corrupted data"
			}
			printError("  %s: %s", a.Name, reason)
		}
	}

	if bad := len(report.Invalid()); bad > 0 {
		err := models.NewCryptoError("verify", fmt.Sprintf("%d of %d artifacts failed verification", bad, len(report.Artifacts)), nil)
		if jsonOutput {
			return silent(err)
		}
		return err
	}

	if !jsonOutput {
		printSuccess("All %s on %s decrypt with this password", plural(len(report.Artifacts), "artifact"), report.Branch)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
