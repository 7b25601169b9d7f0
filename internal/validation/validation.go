// Package validation checks user-supplied inputs before they reach the
// daemon. The daemon revalidates everything it persists; these helpers exist
// so the CLI can fail fast with messages that name the fix instead of
// shipping a bad request over the socket.
package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/foldermcp/foldermcp/internal/model"
)

const maxQueryLength = 1024

// forbiddenRoots are directories that are never sensible index targets.
// Indexing them would walk the whole machine or churn on virtual files.
var forbiddenRoots = []string{"/", "/bin", "/boot", "/dev", "/etc", "/proc", "/sys", "/usr"}

// NormalizePath resolves a user-supplied folder argument to an absolute,
// cleaned path. Relative paths resolve against the current working directory.
func NormalizePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("folder path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// FolderPath validates that path is an existing, indexable directory and
// returns its normalized form.
func FolderPath(path string) (string, error) {
	abs, err := NormalizePath(path)
	if err != nil {
		return "", err
	}
	for _, root := range forbiddenRoots {
		if abs == root {
			return "", fmt.Errorf("refusing to index %s: pick a project or document folder instead", abs)
		}
	}
	if home, herr := os.UserHomeDir(); herr == nil && abs == filepath.Clean(home) {
		return "", fmt.Errorf("refusing to index your home directory: pick a subfolder instead")
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("folder does not exist: %s", abs)
		}
		return "", fmt.Errorf("stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// FolderNotOverlapping rejects a candidate folder that is equal to, inside,
// or a parent of an already-configured folder. Nested indexes would double
// count every document in the overlap.
func FolderNotOverlapping(candidate string, existing []string) error {
	for _, other := range existing {
		switch {
		case candidate == other:
			return fmt.Errorf("folder already configured: %s", other)
		case isUnder(candidate, other):
			return fmt.Errorf("folder %s is inside already-configured %s", candidate, other)
		case isUnder(other, candidate):
			return fmt.Errorf("folder %s contains already-configured %s", candidate, other)
		}
	}
	return nil
}

// ModelID validates a model identifier against the catalog. An empty id is
// accepted; the daemon picks the default for the detected hardware.
func ModelID(reg *model.Registry, id string) error {
	if id == "" {
		return nil
	}
	if reg.Has(id) {
		return nil
	}
	return fmt.Errorf("unknown model %q: available models are %s", id, strings.Join(reg.IDs(), ", "))
}

// Query validates a search query string.
func Query(q string) error {
	if strings.TrimSpace(q) == "" {
		return fmt.Errorf("query is empty")
	}
	if len(q) > maxQueryLength {
		return fmt.Errorf("query is too long (%d bytes, limit %d)", len(q), maxQueryLength)
	}
	return nil
}

// isUnder reports whether child is a strict descendant of parent. Both paths
// must already be absolute and cleaned.
func isUnder(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
