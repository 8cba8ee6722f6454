package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Command is one git invocation. Args exclude the binary name. Env entries
// are appended to the parent environment.
type Command struct {
	Args []string
	Dir  string
	Env  []string
}

// String renders the command for logs.
func (c Command) String() string {
	return "git " + strings.Join(c.Args, " ")
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes git commands.
type Runner interface {
	// Run executes cmd and blocks until it exits. A non-zero exit status is
	// returned as an error alongside the captured output.
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs the git binary through os/exec.
type ExecRunner struct {
	binary string
}

// NewExecRunner creates a runner for the given binary name or path.
func NewExecRunner(binary string) *ExecRunner {
	if binary == "" {
		binary = "git"
	}
	return &ExecRunner{binary: binary}
}

// Run implements Runner. Cancelling ctx kills the subprocess.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	var stdout, stderr bytes.Buffer

	c := exec.CommandContext(ctx, r.binary, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdout = &stdout
	c.Stderr = &stderr
	// Never block on a credential prompt
	c.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	c.Env = append(c.Env, cmd.Env...)

	err := c.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("%s: %w", cmd, ctxErr)
		}
		return result, fmt.Errorf("%s: %w", cmd, err)
	}

	return result, nil
}
