package git

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	r := NewExecRunner("sh")
	ctx := context.Background()

	t.Run("captures output", func(t *testing.T) {
		res, err := r.Run(ctx, Command{Args: []string{"-c", "echo out; echo err >&2"}})
		require.NoError(t, err)
		assert.Equal(t, "out\n", res.Stdout)
		assert.Equal(t, "err\n", res.Stderr)
		assert.Equal(t, 0, res.ExitCode)
	})

	t.Run("non-zero exit", func(t *testing.T) {
		res, err := r.Run(ctx, Command{Args: []string{"-c", "echo fatal >&2; exit 3"}})
		require.Error(t, err)
		assert.Equal(t, 3, res.ExitCode)
		assert.Equal(t, "fatal\n", res.Stderr)
	})

	t.Run("environment", func(t *testing.T) {
		res, err := r.Run(ctx, Command{
			Args: []string{"-c", `printf '%s|%s' "$GIT_TERMINAL_PROMPT" "$EXTRA"`},
			Env:  []string{"EXTRA=1"},
		})
		require.NoError(t, err)
		assert.Equal(t, "0|1", res.Stdout)
	})

	t.Run("working directory", func(t *testing.T) {
		dir := t.TempDir()
		res, err := r.Run(ctx, Command{Args: []string{"-c", "pwd -P"}, Dir: dir})
		require.NoError(t, err)
		assert.Contains(t, res.Stdout, dir[len(dir)-8:])
	})
}

func TestNewExecRunnerDefault(t *testing.T) {
	assert.Equal(t, "git", NewExecRunner("").binary)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "git pull --ff-only origin main",
		Command{Args: []string{"pull", "--ff-only", "origin", "main"}}.String())
}
