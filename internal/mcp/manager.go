package mcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"deskmate/internal/config"
	"deskmate/internal/logging"
)

// connectTimeout bounds one server's spawn-initialize-list sequence.
const connectTimeout = 15 * time.Second

// ServerStatus is one row of the management listing.
type ServerStatus struct {
	Name      string
	Enabled   bool
	Connected bool
	Tools     int
	LastError string
}

type serverState struct {
	cfg     config.MCPServerConfig
	client  *Client
	tools   []*ToolInfo
	lastErr string
}

// Manager owns the configured server set. Tool names are namespaced as
// "<server>__<tool>" so a single flat tool schema can route back to
// the owning connection.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]*serverState
	order   []string
}

// NewManager creates a manager over the configured servers. Nothing is
// connected until ConnectAll or Retry runs.
func NewManager(servers []config.MCPServerConfig) *Manager {
	m := &Manager{servers: make(map[string]*serverState)}
	for _, cfg := range servers {
		if _, dup := m.servers[cfg.Name]; dup {
			logging.Warn("duplicate mcp server name ignored", "name", cfg.Name)
			continue
		}
		m.servers[cfg.Name] = &serverState{cfg: cfg}
		m.order = append(m.order, cfg.Name)
	}
	return m
}

// ConnectAll connects every enabled server in parallel. Individual
// failures are recorded per server and joined into the returned error.
func (m *Manager) ConnectAll(ctx context.Context) error {
	m.mu.RLock()
	var names []string
	for _, name := range m.order {
		if m.servers[name].cfg.Enabled {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	errsCh := make(chan error, len(names))
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := m.connect(ctx, name); err != nil {
				errsCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name)
	}
	wg.Wait()
	close(errsCh)

	var errs []error
	for err := range errsCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// connect spawns, initializes, and catalogs one server.
func (m *Manager) connect(ctx context.Context, name string) error {
	m.mu.RLock()
	state, ok := m.servers[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown server %q", name)
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := NewClient(name, state.cfg.Command, state.cfg.Args, state.cfg.Env)
	if err != nil {
		m.recordError(name, err)
		return err
	}
	if err := client.Initialize(ctx); err != nil {
		client.Close()
		m.recordError(name, err)
		return err
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		client.Close()
		m.recordError(name, err)
		return err
	}

	m.mu.Lock()
	if state.client != nil {
		state.client.Close()
	}
	state.client = client
	state.tools = tools
	state.lastErr = ""
	m.mu.Unlock()

	logging.Info("mcp server connected", "name", name, "tools", len(tools))
	return nil
}

func (m *Manager) recordError(name string, err error) {
	m.mu.Lock()
	if state, ok := m.servers[name]; ok {
		state.lastErr = err.Error()
	}
	m.mu.Unlock()
}

// List returns the status of every configured server in config order.
func (m *Manager) List() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerStatus, 0, len(m.order))
	for _, name := range m.order {
		state := m.servers[name]
		out = append(out, ServerStatus{
			Name:      name,
			Enabled:   state.cfg.Enabled,
			Connected: state.client != nil,
			Tools:     len(state.tools),
			LastError: state.lastErr,
		})
	}
	return out
}

// Add registers a new server configuration. It is connected on the
// next ConnectAll or Retry.
func (m *Manager) Add(cfg config.MCPServerConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.Name == "" {
		return fmt.Errorf("server name is required")
	}
	if strings.Contains(cfg.Name, Separator) {
		return fmt.Errorf("server name must not contain %q", Separator)
	}
	if _, exists := m.servers[cfg.Name]; exists {
		return fmt.Errorf("server %q already exists", cfg.Name)
	}
	m.servers[cfg.Name] = &serverState{cfg: cfg}
	m.order = append(m.order, cfg.Name)
	return nil
}

// Remove disconnects and forgets a server.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	state, ok := m.servers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown server %q", name)
	}
	delete(m.servers, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	client := state.client
	m.mu.Unlock()

	if client != nil {
		return client.Close()
	}
	return nil
}

// SetEnabled toggles a server. Disabling disconnects it immediately;
// enabling leaves connection to the caller via Retry.
func (m *Manager) SetEnabled(name string, enabled bool) error {
	m.mu.Lock()
	state, ok := m.servers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown server %q", name)
	}
	state.cfg.Enabled = enabled
	var client *Client
	if !enabled {
		client = state.client
		state.client = nil
		state.tools = nil
	}
	m.mu.Unlock()

	if client != nil {
		return client.Close()
	}
	return nil
}

// Retry reconnects one server regardless of prior failures.
func (m *Manager) Retry(ctx context.Context, name string) error {
	m.mu.RLock()
	state, ok := m.servers[name]
	var enabled bool
	if ok {
		enabled = state.cfg.Enabled
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown server %q", name)
	}
	if !enabled {
		return fmt.Errorf("server %q is disabled", name)
	}
	return m.connect(ctx, name)
}

// Diagnose reports connection health for one server: a ping for live
// connections, the recorded failure otherwise.
func (m *Manager) Diagnose(ctx context.Context, name string) (string, error) {
	m.mu.RLock()
	state, ok := m.servers[name]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown server %q", name)
	}

	m.mu.RLock()
	client := state.client
	enabled := state.cfg.Enabled
	lastErr := state.lastErr
	toolCount := len(state.tools)
	m.mu.RUnlock()

	switch {
	case !enabled:
		return "disabled", nil
	case client == nil:
		if lastErr != "" {
			return "disconnected: " + lastErr, nil
		}
		return "not connected", nil
	default:
		if err := client.Ping(ctx); err != nil {
			return "unresponsive: " + err.Error(), nil
		}
		return fmt.Sprintf("healthy (%d tools)", toolCount), nil
	}
}

// ActiveServers returns the names of connected servers, sorted.
func (m *Manager) ActiveServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, state := range m.servers {
		if state.client != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Configs returns the current server configurations in config order,
// for persisting management changes.
func (m *Manager) Configs() []config.MCPServerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]config.MCPServerConfig, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.servers[name].cfg)
	}
	return out
}

// Declarations returns the namespaced tool schema across all connected
// servers.
func (m *Manager) Declarations() []*genai.FunctionDeclaration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var decls []*genai.FunctionDeclaration
	for _, name := range m.order {
		state := m.servers[name]
		if state.client == nil {
			continue
		}
		for _, tool := range state.tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        name + Separator + tool.Name,
				Description: tool.Description,
				Parameters:  toGenaiSchema(tool.InputSchema),
			})
		}
	}
	return decls
}

// CallTool routes a namespaced tool name to its server and flattens
// the result content to text.
func (m *Manager) CallTool(ctx context.Context, qualified string, args map[string]any) (string, error) {
	serverName, toolName, ok := strings.Cut(qualified, Separator)
	if !ok {
		return "", fmt.Errorf("tool name %q is not namespaced", qualified)
	}

	m.mu.RLock()
	state, exists := m.servers[serverName]
	var client *Client
	if exists {
		client = state.client
	}
	m.mu.RUnlock()

	if !exists {
		return "", fmt.Errorf("unknown server %q", serverName)
	}
	if client == nil {
		return "", fmt.Errorf("server %q is not connected", serverName)
	}

	result, err := client.CallTool(ctx, toolName, args)
	if err != nil {
		return "", err
	}

	text := flattenContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("tool reported error: %s", text)
	}
	return text, nil
}

// flattenContent joins result blocks into one text payload. Binary
// blocks are summarized rather than inlined.
func flattenContent(blocks []*ContentBlock) string {
	var parts []string
	for _, block := range blocks {
		switch block.Type {
		case "text":
			parts = append(parts, block.Text)
		case "image":
			size := len(block.Data)
			if decoded, err := base64.StdEncoding.DecodeString(block.Data); err == nil {
				size = len(decoded)
			}
			parts = append(parts, fmt.Sprintf("[image %s, %d bytes]", block.MIMEType, size))
		case "resource":
			parts = append(parts, fmt.Sprintf("[resource %s]", block.URI))
		}
	}
	return strings.Join(parts, "\n")
}

// Close disconnects every server.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, state := range m.servers {
		if state.client != nil {
			state.client.Close()
			state.client = nil
		}
	}
}
