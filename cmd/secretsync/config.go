package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/secretsync/internal/config"
)

var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write an example configuration file",
	Example: `  secretsync init-config
  secretsync init-config ~/.config/secretsync/config.yaml --force`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{"skip-config": "true"},
	RunE:        runInitConfig,
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect recorded sync state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sync states",
	Args:  cobra.NoArgs,
	RunE:  runStateList,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset [state-id]",
	Short: "Forget the recorded state (default: the configured repository)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStateReset,
}

var stateMigrateCmd = &cobra.Command{
	Use:     "migrate <driver>",
	Short:   "Copy every state into another driver (json or sqlite)",
	Example: `  secretsync state migrate sqlite`,
	Args:    cobra.ExactArgs(1),
	RunE:    runStateMigrate,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initConfigCmd, stateCmd)
	stateCmd.AddCommand(stateListCmd, stateResetCmd, stateMigrateCmd)

	initConfigCmd.Flags().BoolVarP(&initForce, "force", "f", false,
		"Overwrite an existing file")
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	path := "secretsync.yaml"
	if len(args) == 1 {
		path = args[0]
	}

	if err := config.SaveExample(path, initForce); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "path": path})
		return nil
	}
	printSuccess("Wrote %s", path)
	fmt.Fprintln(os.Stderr, "Set repository.url, then provide the password through SECRETSYNC_AUTH_PASSWORD or auth.credentials_file.")
	return nil
}

func runStateList(cmd *cobra.Command, args []string) error {
	apiClient, err := offlineClient()
	if err != nil {
		return err
	}
	defer apiClient.Close()

	states, err := apiClient.State.ListStates()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"states": states})
		return nil
	}

	if len(states) == 0 {
		printInfo("No sync state recorded")
		return nil
	}
	for _, st := range states {
		fmt.Printf("%s  %s@%s  %s\n", st.ID, st.Repository, st.Branch, st.SecretsDir)
		dimColor.Printf("    %s, last %s %s\n", plural(len(st.Files), "file"),
			st.Operation, st.LastSyncTime.Local().Format(time.RFC3339))
		if st.LastError != "" {
			printWarning("    %s", st.LastError)
		}
	}
	return nil
}

func runStateReset(cmd *cobra.Command, args []string) error {
	apiClient, err := offlineClient()
	if err != nil {
		return err
	}
	defer apiClient.Close()

	id := apiClient.Sync.StateID()
	if len(args) == 1 {
		id = args[0]
	}

	if err := apiClient.State.Reset(id); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "state_id": id})
		return nil
	}
	printSuccess("Reset state %s", id)
	return nil
}

func runStateMigrate(cmd *cobra.Command, args []string) error {
	apiClient, err := offlineClient()
	if err != nil {
		return err
	}
	defer apiClient.Close()

	n, err := apiClient.MigrateState(args[0])
	if jsonOutput {
		out := map[string]interface{}{"success": err == nil, "migrated": n, "driver": args[0]}
		if err != nil {
			out["error"] = err.Error()
		}
		printJSON(out)
		return silent(err)
	}
	if err != nil {
		return err
	}

	printSuccess("Migrated %s to %s; set state.driver: %s to use it", plural(n, "state"), args[0], args[0])
	return nil
}
