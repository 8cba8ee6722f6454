package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies every failure the sync core reports.
type ErrorKind int

const (
	KindCrypto ErrorKind = iota + 1
	KindRepository
	KindFileSystem
	KindValidation
)

// Error codes for structured error handling.
const (
	ErrCodeCrypto     = "CRYPTO_ERROR"
	ErrCodeRepository = "REPOSITORY_ERROR"
	ErrCodeFileSystem = "FILESYSTEM_ERROR"
	ErrCodeValidation = "VALIDATION_ERROR"
)

// Sentinel errors, one per kind. Every *Error matches the sentinel of its kind.
var (
	ErrCrypto     = errors.New("crypto error")
	ErrRepository = errors.New("repository error")
	ErrFileSystem = errors.New("filesystem error")
	ErrValidation = errors.New("validation error")
)

// String returns the error kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindCrypto:
		return "CryptoError"
	case KindRepository:
		return "RepositoryError"
	case KindFileSystem:
		return "FileSystemError"
	case KindValidation:
		return "ValidationError"
	default:
		return "UnknownError"
	}
}

// Code returns the structured error code for the kind.
func (k ErrorKind) Code() string {
	switch k {
	case KindCrypto:
		return ErrCodeCrypto
	case KindRepository:
		return ErrCodeRepository
	case KindFileSystem:
		return ErrCodeFileSystem
	case KindValidation:
		return ErrCodeValidation
	default:
		return "UNKNOWN_ERROR"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindCrypto:
		return ErrCrypto
	case KindRepository:
		return ErrRepository
	case KindFileSystem:
		return ErrFileSystem
	case KindValidation:
		return ErrValidation
	default:
		return nil
	}
}

// Error is the domain error raised at every component boundary.
type Error struct {
	Kind    ErrorKind
	Op      string
	Path    string
	Message string
	Stderr  string
	Err     error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Op != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Op)
	}
	if e.Path != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Path)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		sb.WriteString(": ")
		sb.WriteString(stderr)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel so callers can write errors.Is(err, ErrCrypto).
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// NewCryptoError creates a CryptoError.
func NewCryptoError(op, message string, err error) *Error {
	return &Error{Kind: KindCrypto, Op: op, Message: message, Err: err}
}

// NewRepositoryError creates a RepositoryError.
func NewRepositoryError(op, message string, err error) *Error {
	return &Error{Kind: KindRepository, Op: op, Message: message, Err: err}
}

// NewGitError creates a RepositoryError carrying the git tool's stderr.
func NewGitError(op, message, stderr string, err error) *Error {
	return &Error{Kind: KindRepository, Op: op, Message: message, Stderr: stderr, Err: err}
}

// NewFileSystemError creates a FileSystemError for a path.
func NewFileSystemError(op, path string, err error) *Error {
	return &Error{Kind: KindFileSystem, Op: op, Path: path, Err: err}
}

// NewValidationError creates a ValidationError.
func NewValidationError(op, path, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Path: path, Message: message}
}

// KindOf returns the kind of the first domain error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return 0
}

// FileFailure records one file that failed inside a batch.
type FileFailure struct {
	Path string
	Err  error
}

// BatchError aggregates per-file failures after a whole batch was attempted.
type BatchError struct {
	Op       string
	Total    int
	Failures []FileFailure
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Path, f.Err))
	}
	return fmt.Sprintf("%s: %d of %d files failed: %s",
		e.Op, len(e.Failures), e.Total, strings.Join(parts, "; "))
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Add records a failure.
func (e *BatchError) Add(path string, err error) {
	e.Failures = append(e.Failures, FileFailure{Path: path, Err: err})
}

// ErrOrNil returns the batch as an error when it holds failures.
func (e *BatchError) ErrOrNil() error {
	if e == nil || len(e.Failures) == 0 {
		return nil
	}
	return e
}
