package git

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/TheMichaelB/secretsync/internal/models"
)

// SSHOptions lists the credential sources in priority order.
type SSHOptions struct {
	// KeyPath points at an existing private key.
	KeyPath string

	// PrivateKey and PublicKey carry inline key material, typically from
	// the environment of a CI runner.
	PrivateKey string
	PublicKey  string
}

// CredentialSource records which SSH source won.
type CredentialSource int

const (
	SourceAmbient CredentialSource = iota
	SourceKeyPath
	SourceInline
)

func (s CredentialSource) String() string {
	switch s {
	case SourceKeyPath:
		return "key_path"
	case SourceInline:
		return "inline"
	default:
		return "ambient"
	}
}

// sshCredentials is the resolved SSH setup for one manager.
type sshCredentials struct {
	source  CredentialSource
	keyPath string
	tempDir string
}

const inlineKeyName = "id_secretsync"

// resolveSSH picks exactly one credential source: explicit key path, then
// inline material, then the ambient agent and ssh config.
func resolveSSH(opts SSHOptions) (*sshCredentials, error) {
	switch {
	case opts.KeyPath != "":
		info, err := os.Stat(opts.KeyPath)
		if err != nil {
			return nil, models.NewRepositoryError("ssh", "SSH key not accessible: "+opts.KeyPath, err)
		}
		if info.IsDir() {
			return nil, models.NewRepositoryError("ssh", "SSH key path is a directory: "+opts.KeyPath, nil)
		}
		return &sshCredentials{source: SourceKeyPath, keyPath: opts.KeyPath}, nil

	case opts.PrivateKey != "":
		return materializeInlineKey(opts.PrivateKey, opts.PublicKey)

	default:
		return &sshCredentials{source: SourceAmbient}, nil
	}
}

func materializeInlineKey(privateKey, publicKey string) (creds *sshCredentials, err error) {
	dir, err := os.MkdirTemp("", "secretsync-ssh-*")
	if err != nil {
		return nil, models.NewRepositoryError("ssh", "create temporary key directory", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(dir)
		}
	}()

	if err := os.Chmod(dir, 0700); err != nil {
		return nil, models.NewRepositoryError("ssh", "restrict temporary key directory", err)
	}

	keyPath := filepath.Join(dir, inlineKeyName)
	if err := os.WriteFile(keyPath, []byte(withTrailingNewline(privateKey)), 0600); err != nil {
		return nil, models.NewRepositoryError("ssh", "write private key", err)
	}

	if publicKey != "" {
		if err := os.WriteFile(keyPath+".pub", []byte(withTrailingNewline(publicKey)), 0600); err != nil {
			return nil, models.NewRepositoryError("ssh", "write public key", err)
		}
	}

	return &sshCredentials{source: SourceInline, keyPath: keyPath, tempDir: dir}, nil
}

// ssh rejects private keys without a final newline.
func withTrailingNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// env returns the environment overrides for git. The key path travels in
// GIT_SSH_COMMAND, never in argv.
func (c *sshCredentials) env() []string {
	if c == nil || c.keyPath == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("GIT_SSH_COMMAND=ssh -i %s -o IdentitiesOnly=yes", shellQuote(c.keyPath)),
	}
}

// cleanup removes materialized key files. Safe to call repeatedly.
func (c *sshCredentials) cleanup() error {
	if c == nil || c.tempDir == "" {
		return nil
	}
	if err := os.RemoveAll(c.tempDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return models.NewFileSystemError("remove ssh key directory", c.tempDir, err)
	}
	c.tempDir = ""
	c.keyPath = ""
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
