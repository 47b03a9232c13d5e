// Package skills discovers skill bundles on disk and serves them to
// the agent. A skill is a directory containing a SKILL.md document
// whose body is loaded as augmented context for the model; any helper
// scripts live alongside it and are run by the model through the
// command tool, never by this package.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"deskmate/internal/logging"
)

const manifestName = "SKILL.md"

// Skill is one discovered bundle.
type Skill struct {
	Name        string
	Description string

	// Dir is the bundle directory, handed to the model so it can
	// reference helper scripts by path.
	Dir string

	// Instructions is the SKILL.md body below the frontmatter.
	Instructions string
}

// manifestFrontmatter is the YAML block at the top of SKILL.md.
type manifestFrontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Registry scans a skills directory and keeps the set current via a
// filesystem watcher.
type Registry struct {
	dir string

	mu     sync.RWMutex
	skills map[string]Skill

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a registry rooted at dir and performs the
// initial scan. A missing directory is not an error; it yields an
// empty registry that picks up skills once the directory appears and
// Watch is running.
func NewRegistry(dir string) *Registry {
	r := &Registry{
		dir:    dir,
		skills: make(map[string]Skill),
		done:   make(chan struct{}),
	}
	r.Reload()
	return r
}

// Reload rescans the skills directory from scratch.
func (r *Registry) Reload() {
	found := make(map[string]Skill)

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("skills directory unreadable", "dir", r.dir, "error", err)
		}
		r.mu.Lock()
		r.skills = found
		r.mu.Unlock()
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skill, err := loadSkill(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			logging.Warn("skipping invalid skill bundle", "dir", entry.Name(), "error", err)
			continue
		}
		found[skill.Name] = skill
	}

	r.mu.Lock()
	r.skills = found
	r.mu.Unlock()
	logging.Debug("skills reloaded", "count", len(found))
}

// loadSkill parses one bundle directory.
func loadSkill(dir string) (Skill, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return Skill{}, err
	}

	fm, body, err := splitFrontmatter(string(raw))
	if err != nil {
		return Skill{}, err
	}

	var meta manifestFrontmatter
	if err := yaml.Unmarshal([]byte(fm), &meta); err != nil {
		return Skill{}, fmt.Errorf("invalid frontmatter: %w", err)
	}
	if meta.Name == "" {
		// Fall back to the directory name when the manifest omits it.
		meta.Name = filepath.Base(dir)
	}

	return Skill{
		Name:         meta.Name,
		Description:  meta.Description,
		Dir:          dir,
		Instructions: strings.TrimSpace(body),
	}, nil
}

// splitFrontmatter separates the leading "---" YAML block from the
// markdown body. A manifest without frontmatter is all body.
func splitFrontmatter(content string) (frontmatter, body string, err error) {
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return "", content, nil
	}
	rest := content[strings.Index(content, "\n")+1:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", "", fmt.Errorf("unterminated frontmatter")
	}
	body = rest[end+len("\n---"):]
	if idx := strings.Index(body, "\n"); idx >= 0 {
		body = body[idx+1:]
	} else {
		body = ""
	}
	return rest[:end], body, nil
}

// Has reports whether a skill with this name is loaded.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.skills[name]
	return ok
}

// Get returns the skill for a tool name.
func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// List returns all discovered skills in unspecified order.
func (r *Registry) List() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	return out
}

// Watch starts a filesystem watcher that rescans when anything under
// the skills directory changes. Events are debounced so editors that
// write in bursts trigger one reload.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return err
	}
	// Watch one level down so SKILL.md edits inside bundles register.
	if entries, err := os.ReadDir(r.dir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				_ = watcher.Add(filepath.Join(r.dir, entry.Name()))
			}
		}
	}
	r.watcher = watcher

	go r.processEvents()
	return nil
}

func (r *Registry) processEvents() {
	const debounce = 500 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-r.done:
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = r.watcher.Add(event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			r.Reload()

		case _, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() { close(r.done) })
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
