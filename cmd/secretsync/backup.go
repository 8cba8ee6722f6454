package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/secretsync/internal/client"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Inspect and restore pre-pull backups",
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups of the secrets directory, newest first",
	Args:  cobra.NoArgs,
	RunE:  runBackupList,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore [backup]",
	Short: "Replace the secrets directory with a backup",
	Long: `Restore replaces the secrets directory with a backup. Without an
argument the newest backup is used. Files that are not in the backup are
removed.`,
	Example: `  secretsync backup restore
  secretsync backup restore secrets_backup_20250314_092653`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackupRestore,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupListCmd, backupRestoreCmd)

	backupCmd.PersistentFlags().StringVarP(&syncDir, "dir", "d", "",
		"Secrets directory (overrides secrets.dir)")
}

func offlineClient() (*client.Client, error) {
	applySyncFlags()

	opts := clientOptions()
	opts.Offline = true
	return client.New(context.Background(), cfg, logger, opts)
}

func runBackupList(cmd *cobra.Command, args []string) error {
	apiClient, err := offlineClient()
	if err != nil {
		return err
	}
	defer apiClient.Close()

	backups, err := apiClient.Sync.ListBackups()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"backups": backups})
		return nil
	}

	if len(backups) == 0 {
		printInfo("No backups of %s", cfg.Secrets.Dir)
		return nil
	}
	for _, b := range backups {
		fmt.Println(b)
	}
	return nil
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	apiClient, err := offlineClient()
	if err != nil {
		return err
	}
	defer apiClient.Close()

	var name string
	if len(args) == 1 {
		name = args[0]
	}

	restored, err := apiClient.Sync.RestoreBackup(name)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"backup":  restored,
			"target":  cfg.Secrets.Dir,
		})
		return nil
	}
	printSuccess("Restored %s from %s", cfg.Secrets.Dir, restored)
	return nil
}
