package main

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/secretsync/internal/client"
	"github.com/TheMichaelB/secretsync/internal/models"
	"github.com/TheMichaelB/secretsync/internal/storage"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt <file>",
	Short: "Encrypt a single file to the artifact format",
	Long: `Encrypt writes the base64 blob for one file, the same format push
stores in the repository. Use "-" to read standard input.`,
	Example: `  secretsync encrypt certs/dev.p12 -o dev.p12.enc
  cat key.json | secretsync encrypt -`,
	Args: cobra.ExactArgs(1),
	RunE: runEncrypt,
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <file>",
	Short: "Decrypt a single artifact",
	Example: `  secretsync decrypt dev.p12.enc -o certs/dev.p12
  secretsync decrypt key.json.enc`,
	Args: cobra.ExactArgs(1),
	RunE: runDecrypt,
}

var cryptOutput string

func init() {
	rootCmd.AddCommand(encryptCmd, decryptCmd)

	for _, c := range []*cobra.Command{encryptCmd, decryptCmd} {
		c.Flags().StringVarP(&cryptOutput, "output", "o", "",
			"Output file (default: standard output)")
	}
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	input, err := readInput(args[0])
	if err != nil {
		return err
	}

	provider, _, err := client.NewCrypto(context.Background(), cfg, logger, clientOptions())
	if err != nil {
		return err
	}
	defer provider.Wipe()

	blob, err := provider.Encrypt(input)
	if err != nil {
		return err
	}
	return writeOutput([]byte(blob + "\n"))
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	input, err := readInput(args[0])
	if err != nil {
		return err
	}

	provider, _, err := client.NewCrypto(context.Background(), cfg, logger, clientOptions())
	if err != nil {
		return err
	}
	defer provider.Wipe()

	plain, err := provider.Decrypt(string(trimNewline(input)))
	if err != nil {
		return err
	}
	return writeOutput(plain)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, models.NewFileSystemError("read input", "stdin", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.NewFileSystemError("read input", path, err)
	}
	return data, nil
}

// writeOutput writes atomically with owner-only permissions.
func writeOutput(data []byte) error {
	if cryptOutput == "" {
		_, err := os.Stdout.Write(data)
		return err
	}

	abs, err := filepath.Abs(cryptOutput)
	if err != nil {
		return models.NewFileSystemError("write output", cryptOutput, err)
	}
	store, err := storage.NewLocalStore(filepath.Dir(abs), logger)
	if err != nil {
		return err
	}
	return store.Write(filepath.Base(abs), data, 0600)
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
