package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/secretsync/internal/client"
	"github.com/TheMichaelB/secretsync/internal/config"
	"github.com/TheMichaelB/secretsync/internal/events"
)

var version = "dev"

var (
	cfgFile      string
	jsonOutput   bool
	passwordFlag string
	logLevel     string

	cfg    *config.Config
	logger *events.Logger
)

var rootCmd = &cobra.Command{
	Use:   "secretsync",
	Short: "Keep encrypted secret files in a Git repository",
	Long: `secretsync encrypts a local directory of secret files (certificates,
keys, JSON credentials) with a shared password and keeps the ciphertext in a
Git branch. pull decrypts the branch into the directory, push replaces the
branch contents with the directory.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Config file (default: secretsync.yaml, .secretsync.yaml or ~/.config/secretsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print machine-readable JSON")
	rootCmd.PersistentFlags().StringVarP(&passwordFlag, "password", "p", "",
		"Encryption password (prefer SECRETSYNC_AUTH_PASSWORD or a credentials file)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error")
}

func setup(cmd *cobra.Command, args []string) error {
	// init-config must run before any config exists
	if cmd.Annotations["skip-config"] == "true" {
		return nil
	}

	loaded, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
		if err := loaded.Validate(); err != nil {
			return err
		}
	}
	cfg = loaded

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return err
	}
	events.SetDefault(logger)

	return nil
}

// newClient builds the full client for commands that talk to the remote.
func newClient(ctx context.Context) (*client.Client, error) {
	if err := cfg.RequireRepository(); err != nil {
		return nil, err
	}
	return client.New(ctx, cfg, logger, clientOptions())
}

func clientOptions() client.Options {
	return client.Options{
		Password: passwordFlag,
		Prompt: func() (string, error) {
			return promptPassword("Encryption password: ")
		},
	}
}

// signalContext cancels on SIGINT or SIGTERM so deferred cleanup of the
// working tree still runs.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			printWarning("\nInterrupted, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var printed silentError
		switch {
		case errors.As(err, &printed):
		case jsonOutput:
			printJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
			})
		default:
			printError("Error: %v", err)
		}
		os.Exit(exitCode(err))
	}
}
