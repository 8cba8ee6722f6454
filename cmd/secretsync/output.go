package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/TheMichaelB/secretsync/internal/models"
	"github.com/TheMichaelB/secretsync/internal/services/sync"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	dimColor     = color.New(color.Faint)
)

func printSuccess(format string, args ...interface{}) {
	successColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	errorColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	warningColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	infoColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		printError("encode output: %v", err)
	}
}

// exitCode maps error kinds to distinct process exit codes.
func exitCode(err error) int {
	var batch *models.BatchError
	switch {
	case errors.As(err, &batch):
		return 3
	case errors.Is(err, models.ErrValidation):
		return 2
	case errors.Is(err, models.ErrCrypto):
		return 4
	case errors.Is(err, models.ErrRepository):
		return 5
	case errors.Is(err, models.ErrFileSystem):
		return 6
	default:
		return 1
	}
}

func promptPassword(prompt string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", errors.New("no password configured and stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, prompt)

	// Read password without echo
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", err
	}

	return string(password), nil
}

// watchEvents prints per-file results while an operation runs. The
// returned channel closes once the event stream ends.
func watchEvents(events <-chan sync.Event) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)
		for event := range events {
			switch event.Type {
			case sync.EventFileComplete:
				if !jsonOutput && event.File != nil {
					dimColor.Fprintf(os.Stderr, "  %s\n", event.File.Path)
				}
			case sync.EventFileError:
				if !jsonOutput && event.File != nil {
					errorColor.Fprintf(os.Stderr, "  %s: %v\n", event.File.Path, event.Error)
				}
			}
		}
	}()

	return done
}

func changeColor(change models.FileChange) *color.Color {
	switch change {
	case models.ChangeAdded:
		return successColor
	case models.ChangeModified:
		return warningColor
	case models.ChangeDeleted:
		return errorColor
	default:
		return dimColor
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, strings.TrimSuffix(word, "s"))
}
