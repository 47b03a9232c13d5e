// Package chat holds conversation sessions and their persistence.
// Each UI surface owns one active session; sessions are never shared
// between agent instances.
package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// Session is one conversation: ordered history plus the artifacts the
// agent produced while working in it.
type Session struct {
	ID        string
	StartTime time.Time

	mu         sync.RWMutex
	lastActive time.Time
	workDir    string
	history    []*genai.Content
	artifacts  []string
}

// NewSession creates an empty session with a fresh id.
func NewSession() *Session {
	now := time.Now()
	return &Session{
		ID:         uuid.NewString(),
		StartTime:  now,
		lastActive: now,
	}
}

// AddContent appends one message to the history.
func (s *Session) AddContent(content *genai.Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, content)
	s.lastActive = time.Now()
}

// AddUserText appends a plain text user message.
func (s *Session) AddUserText(text string) {
	s.AddContent(genai.NewContentFromText(text, genai.RoleUser))
}

// History returns a copy of the message slice. The contents are
// shared; callers must not mutate them.
func (s *Session) History() []*genai.Content {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*genai.Content, len(s.history))
	copy(out, s.history)
	return out
}

// SetHistory replaces the history wholesale, used when restoring a
// saved session.
func (s *Session) SetHistory(history []*genai.Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = history
	s.lastActive = time.Now()
}

// MessageCount returns the number of messages.
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Clear drops the history and artifacts but keeps the session id.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.artifacts = nil
	s.lastActive = time.Now()
}

// AddArtifact records a file produced during this session.
func (s *Session) AddArtifact(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.artifacts {
		if existing == path {
			return
		}
	}
	s.artifacts = append(s.artifacts, path)
}

// Artifacts returns the recorded artifact paths.
func (s *Session) Artifacts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.artifacts))
	copy(out, s.artifacts)
	return out
}

// SetWorkDir records the working directory this session runs in.
func (s *Session) SetWorkDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workDir = dir
}

// WorkDir returns the session working directory.
func (s *Session) WorkDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workDir
}

// LastActive returns the time of the last history mutation.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}
