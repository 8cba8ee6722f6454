package models

import (
	"path"
	"path/filepath"
	"strings"
	"time"
)

// FileItem represents a secret file moving through a sync operation.
type FileItem struct {
	Path         string    `json:"path"`
	Hash         string    `json:"hash,omitempty"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modified_time,omitempty"`
}

// NormalizedPath returns the cleaned, forward-slash path.
func (f *FileItem) NormalizedPath() string {
	return path.Clean(strings.ReplaceAll(filepath.ToSlash(f.Path), "\\", "/"))
}

// Artifact is an encrypted file inside the repository working tree.
// Name is the forward-slash path relative to the working tree root.
type Artifact struct {
	Name    string
	Content []byte
}

// FileChange describes how a local file differs from the last sync.
type FileChange string

const (
	ChangeUnchanged FileChange = "unchanged"
	ChangeAdded     FileChange = "added"
	ChangeModified  FileChange = "modified"
	ChangeDeleted   FileChange = "deleted"
)
