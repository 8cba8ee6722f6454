package storage

import (
	"os"
)

// BlobStore manages files below one base directory. Paths are relative,
// forward-slash separated, and may not escape the base.
type BlobStore interface {
	// Write saves data to a file path atomically.
	Write(path string, data []byte, mode os.FileMode) error

	// Read retrieves file contents.
	Read(path string) ([]byte, error)

	// Delete removes a file. Missing files are not an error.
	Delete(path string) error

	// Exists checks if a file exists.
	Exists(path string) (bool, error)

	// List returns every regular file whose name ends in suffix, sorted.
	// Version control metadata directories are skipped.
	List(suffix string) ([]string, error)

	// DeleteMatching removes every file List(suffix) would return.
	DeleteMatching(suffix string) (int, error)

	// Base returns the absolute base directory.
	Base() string
}
