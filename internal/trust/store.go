// Package trust holds the durable record of which folders the user has
// authorized, at what trust level, and which one-off permissions the
// user has asked deskmate to remember.
package trust

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"deskmate/internal/logging"
)

// Level is the per-folder trust tier.
type Level string

const (
	// LevelStrict requires confirmation for every risky action.
	LevelStrict Level = "strict"
	// LevelStandard auto-approves low-risk actions (new files, safe
	// commands) and confirms the rest.
	LevelStandard Level = "standard"
	// LevelTrust auto-approves all writes and safe-classified
	// commands; unrecognized and dangerous commands still confirm.
	LevelTrust Level = "trust"
)

// ParseLevel converts a string to a Level, defaulting to standard.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "strict":
		return LevelStrict
	case "trust":
		return LevelTrust
	default:
		return LevelStandard
	}
}

// Folder is an authorized folder with its trust level. The first folder
// in the store is the primary working directory.
type Folder struct {
	Path    string    `yaml:"path"`
	Level   Level     `yaml:"level"`
	AddedAt time.Time `yaml:"added_at"`
}

// Permission is a remembered one-off approval. PathPattern is "*" for
// any path, a glob pattern, or a plain path prefix.
type Permission struct {
	Tool        string    `yaml:"tool"`
	PathPattern string    `yaml:"path_pattern"`
	GrantedAt   time.Time `yaml:"granted_at"`
}

// ErrInvalidPath is returned when a path cannot be authorized at all,
// e.g. a filesystem root.
var ErrInvalidPath = errors.New("invalid path")

// storeState is the persisted shape of the trust store.
type storeState struct {
	Folders     []Folder     `yaml:"folders"`
	Permissions []Permission `yaml:"permissions"`
}

// Store is the process-wide trust record. It is shared between agent
// instances; mutations replace the whole file on disk so a concurrent
// surface never reads a half-written record.
type Store struct {
	path  string
	mu    sync.RWMutex
	state storeState
}

// NewStore creates a store backed by the given file. A missing file is
// treated as an empty store.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemoryStore creates an unpersisted store, used in tests.
func NewMemoryStore() *Store {
	return &Store{}
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, &s.state)
}

// save writes the full state back to disk. Callers must hold s.mu.
func (s *Store) save() {
	if s.path == "" {
		return
	}
	data, err := yaml.Marshal(&s.state)
	if err != nil {
		logging.Error("failed to marshal trust store", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		logging.Error("failed to create trust store dir", "error", err)
		return
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		logging.Error("failed to write trust store", "path", s.path, "error", err)
	}
}

// NormalizePath resolves a path to its absolute, cleaned form.
func NormalizePath(path string) (string, error) {
	if path == "" || strings.ContainsRune(path, 0) {
		return "", ErrInvalidPath
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	return filepath.Clean(abs), nil
}

// isFilesystemRoot reports whether the normalized path is "/" or a
// Windows drive root like "C:\". Roots are never authorizable.
func isFilesystemRoot(normalized string) bool {
	if normalized == string(filepath.Separator) {
		return true
	}
	vol := filepath.VolumeName(normalized)
	if vol == "" {
		return false
	}
	rest := normalized[len(vol):]
	return rest == "" || rest == string(filepath.Separator) || rest == "/"
}

// Folders returns a copy of the authorized folder list.
func (s *Store) Folders() []Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Folder, len(s.state.Folders))
	copy(out, s.state.Folders)
	return out
}

// PrimaryFolder returns the first authorized folder, if any.
func (s *Store) PrimaryFolder() (Folder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.state.Folders) == 0 {
		return Folder{}, false
	}
	return s.state.Folders[0], true
}

// AddFolder authorizes a folder at the standard trust level. Adding the
// same normalized path twice is a no-op; filesystem roots are rejected.
func (s *Store) AddFolder(path string) (Folder, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return Folder{}, err
	}
	if isFilesystemRoot(normalized) {
		return Folder{}, fmt.Errorf("%w: refusing to authorize filesystem root %q", ErrInvalidPath, normalized)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.state.Folders {
		if f.Path == normalized {
			return f, nil
		}
	}

	folder := Folder{Path: normalized, Level: LevelStandard, AddedAt: time.Now()}
	s.state.Folders = append(s.state.Folders, folder)
	s.save()
	logging.Info("folder authorized", "path", normalized)
	return folder, nil
}

// RemoveFolder removes an authorized folder.
func (s *Store) RemoveFolder(path string) error {
	normalized, err := NormalizePath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, f := range s.state.Folders {
		if f.Path == normalized {
			s.state.Folders = append(s.state.Folders[:i], s.state.Folders[i+1:]...)
			s.save()
			return nil
		}
	}
	return fmt.Errorf("folder not authorized: %s", path)
}

// SetFolderLevel changes a folder's trust level.
func (s *Store) SetFolderLevel(path string, level Level) error {
	normalized, err := NormalizePath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.state.Folders {
		if s.state.Folders[i].Path == normalized {
			s.state.Folders[i].Level = level
			s.save()
			logging.Info("folder trust changed", "path", normalized, "level", level)
			return nil
		}
	}
	return fmt.Errorf("folder not authorized: %s", path)
}

// LevelFor returns the trust level of the deepest authorized folder
// containing the given path. Returns false if no folder contains it.
func (s *Store) LevelFor(path string) (Level, bool) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return "", false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best      Level
		bestDepth = -1
		found     bool
	)
	for _, f := range s.state.Folders {
		if !pathWithin(normalized, f.Path) {
			continue
		}
		depth := strings.Count(f.Path, string(filepath.Separator))
		if depth > bestDepth {
			best = f.Level
			bestDepth = depth
			found = true
		}
	}
	return best, found
}

// HasPermission reports whether a standing permission matches the tool
// and, when given, the candidate path.
func (s *Store) HasPermission(tool, path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.state.Permissions {
		if p.Tool != tool {
			continue
		}
		if p.PathPattern == "*" || path == "" {
			if p.PathPattern == "*" {
				return true
			}
			continue
		}
		if matchPattern(p.PathPattern, path) {
			return true
		}
	}
	return false
}

// matchPattern matches a candidate path against a stored pattern:
// glob patterns via doublestar, anything else as a path prefix.
func matchPattern(pattern, path string) bool {
	if strings.ContainsAny(pattern, "*?[{") {
		ok, err := doublestar.Match(pattern, filepath.ToSlash(path))
		return err == nil && ok
	}
	return pathWithin(path, pattern)
}

// Grant remembers a one-off approval. PathPattern defaults to "*".
func (s *Store) Grant(tool, pathPattern string) {
	if pathPattern == "" {
		pathPattern = "*"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.state.Permissions {
		if p.Tool == tool && p.PathPattern == pathPattern {
			return
		}
	}
	s.state.Permissions = append(s.state.Permissions, Permission{
		Tool:        tool,
		PathPattern: pathPattern,
		GrantedAt:   time.Now(),
	})
	s.save()
	logging.Info("standing permission granted", "tool", tool, "pattern", pathPattern)
}

// Revoke removes a single standing permission.
func (s *Store) Revoke(tool, pathPattern string) error {
	if pathPattern == "" {
		pathPattern = "*"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.state.Permissions {
		if p.Tool == tool && p.PathPattern == pathPattern {
			s.state.Permissions = append(s.state.Permissions[:i], s.state.Permissions[i+1:]...)
			s.save()
			return nil
		}
	}
	return fmt.Errorf("no such permission: %s %s", tool, pathPattern)
}

// Permissions returns a copy of the standing permission list.
func (s *Store) Permissions() []Permission {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Permission, len(s.state.Permissions))
	copy(out, s.state.Permissions)
	return out
}

// ClearPermissions removes every standing permission.
func (s *Store) ClearPermissions() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Permissions = nil
	s.save()
}

// pathWithin reports whether target equals base or is a descendant of
// base, comparing path segments rather than raw string prefixes so that
// /home/ab never matches /home/abc.
func pathWithin(target, base string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
