package chat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"deskmate/internal/fileutil"
)

// Store persists sessions as JSON files under the data directory,
// one file per session id, plus a current-session pointer per UI
// surface.
type Store struct {
	dir string
}

// NewStore creates the sessions directory if needed.
func NewStore() (*Store, error) {
	dir, err := sessionsDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// NewStoreAt creates a store rooted at an explicit directory.
func NewStoreAt(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func sessionsDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "deskmate", "sessions"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "deskmate", "sessions"), nil
}

// Save writes the session snapshot, whole-file replace-on-write.
func (st *Store) Save(session *Session) error {
	state := session.CaptureState()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.AtomicWrite(st.path(state.ID), data, 0o644)
}

// Load reads one saved session.
func (st *Store) Load(sessionID string) (*Session, error) {
	data, err := os.ReadFile(st.path(sessionID))
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt session file %s: %w", sessionID, err)
	}
	return RestoreState(&state)
}

// Delete removes a saved session.
func (st *Store) Delete(sessionID string) error {
	return os.Remove(st.path(sessionID))
}

// List returns summaries of all saved sessions, most recent first.
func (st *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, err
	}

	var infos []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, "current-") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(st.dir, name))
		if err != nil {
			continue
		}
		var state State
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		infos = append(infos, Info{
			ID:           state.ID,
			StartTime:    state.StartTime,
			LastActive:   state.LastActive,
			MessageCount: len(state.History),
			WorkDir:      state.WorkDir,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].LastActive.After(infos[j].LastActive) })
	return infos, nil
}

// SetCurrent records the active session id for a UI surface.
func (st *Store) SetCurrent(surface, sessionID string) error {
	return fileutil.AtomicWriteString(st.currentPath(surface), sessionID, 0o644)
}

// Current returns the active session id for a surface, empty when
// none is recorded.
func (st *Store) Current(surface string) string {
	data, err := os.ReadFile(st.currentPath(surface))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (st *Store) path(sessionID string) string {
	return filepath.Join(st.dir, sessionID+".json")
}

func (st *Store) currentPath(surface string) string {
	if surface == "" {
		surface = "default"
	}
	return filepath.Join(st.dir, "current-"+surface)
}
