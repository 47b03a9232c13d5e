package trust

import (
	"os"
	"path/filepath"
)

// Authorizer decides whether a filesystem path falls under one of the
// user's authorized folders. Every file-system-touching tool call must
// pass this check before execution.
type Authorizer struct {
	store *Store
}

// NewAuthorizer creates an authorizer backed by the given store.
func NewAuthorizer(store *Store) *Authorizer {
	return &Authorizer{store: store}
}

// IsAuthorized reports whether the path is equal to, or a descendant
// of, some authorized folder. Symlinks are resolved before comparison
// so a link inside an authorized folder cannot escape it; for paths
// that do not exist yet the parent directory is resolved instead.
func (a *Authorizer) IsAuthorized(path string) bool {
	resolved, err := a.Resolve(path)
	if err != nil {
		return false
	}

	for _, folder := range a.store.Folders() {
		if pathWithin(resolved, folder.Path) {
			return true
		}
	}
	return false
}

// Resolve normalizes a candidate path: absolute form, cleaned, and with
// symlinks evaluated where the path (or its parent, for new files)
// exists.
func (a *Authorizer) Resolve(path string) (string, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(normalized)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	// Path doesn't exist yet; resolve the parent so a symlinked parent
	// directory still lands where it really points.
	parent := filepath.Dir(normalized)
	resolvedParent, parentErr := filepath.EvalSymlinks(parent)
	if parentErr != nil {
		if os.IsNotExist(parentErr) {
			return normalized, nil
		}
		return "", parentErr
	}
	return filepath.Join(resolvedParent, filepath.Base(normalized)), nil
}
