// Package secrets discovers plaintext secret files and maps them to their
// encrypted artifact names.
package secrets

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/unicode/norm"

	"github.com/TheMichaelB/secretsync/internal/events"
	"github.com/TheMichaelB/secretsync/internal/models"
)

// ArtifactSuffix marks encrypted files in the repository.
const ArtifactSuffix = ".enc"

// junkFiles are platform metadata files never worth encrypting.
var junkFiles = map[string]bool{
	".DS_Store": true,
	"Thumbs.db": true,
}

// Index enumerates the secret files below one root directory.
type Index struct {
	root     string
	excludes []string
	logger   *events.Logger
}

// NewIndex creates an index over root. Exclude patterns use doublestar
// syntax and match forward-slash paths relative to root.
func NewIndex(root string, excludes []string, logger *events.Logger) (*Index, error) {
	if logger == nil {
		logger = events.NewNopLogger()
	}

	for _, pattern := range excludes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, models.NewValidationError("exclude", pattern, "invalid glob pattern")
		}
	}

	return &Index{
		root:     root,
		excludes: excludes,
		logger:   logger.WithField("component", "secrets"),
	}, nil
}

// Root returns the indexed directory.
func (i *Index) Root() string {
	return i.root
}

// Collect returns every eligible file below the root, sorted.
func (i *Index) Collect() ([]string, error) {
	info, err := os.Stat(i.root)
	if err != nil {
		return nil, models.NewFileSystemError("collect", i.root, err)
	}
	if !info.IsDir() {
		return nil, models.NewFileSystemError("collect", i.root, errors.New("not a directory"))
	}

	var files []string
	err = filepath.WalkDir(i.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := RelativePath(p, i.root)
		if err != nil {
			return err
		}

		if i.excluded(rel) {
			i.logger.WithField("path", rel).Debug("Skipping excluded file")
			return nil
		}

		files = append(files, p)
		return nil
	})
	if err != nil {
		var domainErr *models.Error
		if errors.As(err, &domainErr) {
			return nil, err
		}
		return nil, models.NewFileSystemError("collect", i.root, err)
	}

	sort.Strings(files)

	i.logger.WithField("count", len(files)).Debug("Collected secret files")
	return files, nil
}

func (i *Index) excluded(rel string) bool {
	base := path.Base(rel)

	switch {
	case strings.HasSuffix(base, ArtifactSuffix):
		return true
	case junkFiles[base]:
		return true
	case rel == "README.md":
		return true
	}

	for _, pattern := range i.excludes {
		// Patterns were validated in NewIndex
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}

	return false
}

// RelativePath returns file relative to root with forward slashes and NFC
// normalized names, so the same tree maps to the same artifact names on
// every platform.
func RelativePath(file, root string) (string, error) {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", models.NewValidationError("relative path", file, err.Error())
	}

	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", models.NewValidationError("relative path", file, "path is outside "+root)
	}

	return norm.NFC.String(rel), nil
}

// ArtifactName maps a relative plaintext path to its artifact name.
func ArtifactName(rel string) (string, error) {
	clean, err := cleanRelative(rel)
	if err != nil {
		return "", err
	}
	return clean + ArtifactSuffix, nil
}

// PlainName maps an artifact name back to the relative plaintext path.
func PlainName(artifact string) (string, error) {
	if !strings.HasSuffix(artifact, ArtifactSuffix) {
		return "", models.NewValidationError("plain name", artifact, "missing "+ArtifactSuffix+" suffix")
	}
	return cleanRelative(strings.TrimSuffix(artifact, ArtifactSuffix))
}

func cleanRelative(rel string) (string, error) {
	slashed := strings.ReplaceAll(rel, "\\", "/")
	if slashed == "" || strings.HasPrefix(slashed, "/") {
		return "", models.NewValidationError("artifact name", rel, "path must be relative and non-empty")
	}

	clean := path.Clean(slashed)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", models.NewValidationError("artifact name", rel, "path escapes the secrets root")
	}

	return norm.NFC.String(clean), nil
}
