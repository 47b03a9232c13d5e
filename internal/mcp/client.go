package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"deskmate/internal/logging"
)

// safeEnvVars is the allow-list of environment variables passed to
// spawned server processes, so host secrets never leak into them.
var safeEnvVars = []string{
	"PATH", "HOME", "USER", "SHELL", "TERM",
	"LANG", "LC_ALL", "LC_CTYPE",
	"TMPDIR", "TMP", "TEMP",
	"XDG_CONFIG_HOME", "XDG_DATA_HOME", "XDG_CACHE_HOME", "XDG_RUNTIME_DIR",
	"NODE_PATH", "NPM_CONFIG_PREFIX",
	"PYTHONPATH", "VIRTUAL_ENV",
}

func buildSafeEnv(extra map[string]string) []string {
	env := make([]string, 0, len(safeEnvVars)+len(extra))
	for _, key := range safeEnvVars {
		if val := os.Getenv(key); val != "" {
			env = append(env, key+"="+val)
		}
	}
	hasPath := false
	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			hasPath = true
			break
		}
	}
	if !hasPath {
		env = append(env, "PATH=/usr/local/bin:/usr/bin:/bin")
	}
	// User-specified vars may reference host secrets via ${VAR}.
	for k, v := range extra {
		env = append(env, k+"="+os.ExpandEnv(v))
	}
	return env
}

// stdioTransport runs a server as a child process and exchanges
// newline-delimited JSON-RPC messages over its pipes.
type stdioTransport struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	encoder *json.Encoder
	scanner *bufio.Scanner

	mu     sync.Mutex
	closed bool
}

func newStdioTransport(command string, args []string, env map[string]string) (*stdioTransport, error) {
	cmd := exec.Command(command, args...)
	cmd.Env = buildSafeEnv(env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	go func() {
		errScanner := bufio.NewScanner(stderr)
		for errScanner.Scan() {
			logging.Debug("mcp server stderr", "line", errScanner.Text())
		}
	}()

	logging.Debug("mcp stdio transport started", "command", command, "pid", cmd.Process.Pid)
	return &stdioTransport{
		cmd:     cmd,
		stdin:   stdin,
		encoder: json.NewEncoder(stdin),
		scanner: scanner,
	}, nil
}

func (t *stdioTransport) send(msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport is closed")
	}
	msg.JSONRPC = "2.0"
	if err := t.encoder.Encode(msg); err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return nil
}

func (t *stdioTransport) receive() (*Message, error) {
	for {
		if !t.scanner.Scan() {
			if err := t.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		line := t.scanner.Text()
		if line == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return nil, fmt.Errorf("invalid JSON-RPC message: %w", err)
		}
		return &msg, nil
	}
}

func (t *stdioTransport) close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	// Closing stdin asks the server to exit; kill if it lingers.
	t.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- t.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logging.Warn("mcp server not exiting, killing process")
		if t.cmd.Process != nil {
			t.cmd.Process.Kill()
		}
		<-done
	}
	return nil
}

// Client is one connected MCP server.
type Client struct {
	serverName string
	transport  *stdioTransport
	timeout    time.Duration

	nextID    int64
	pendingMu sync.Mutex
	pending   map[int64]chan *Message

	mu          sync.RWMutex
	initialized bool
	serverInfo  *ServerInfo

	cancel context.CancelFunc
	done   chan struct{}
}

const defaultRequestTimeout = 30 * time.Second

// NewClient spawns the server process and starts the receive loop.
// Initialize must be called before any other request.
func NewClient(serverName, command string, args []string, env map[string]string) (*Client, error) {
	transport, err := newStdioTransport(command, args, env)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		serverName: serverName,
		transport:  transport,
		timeout:    defaultRequestTimeout,
		pending:    make(map[int64]chan *Message),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go c.receiveLoop(ctx)
	return c, nil
}

func (c *Client) receiveLoop(ctx context.Context) {
	defer close(c.done)
	for {
		msg, err := c.transport.receive()
		if err != nil {
			if ctx.Err() == nil && err != io.EOF {
				logging.Warn("mcp receive error", "server", c.serverName, "error", err)
			}
			return
		}

		switch {
		case msg.IsResponse():
			id, ok := msg.ID.(float64)
			if !ok {
				logging.Warn("mcp response with invalid id", "server", c.serverName, "id", msg.ID)
				continue
			}
			c.pendingMu.Lock()
			ch, exists := c.pending[int64(id)]
			delete(c.pending, int64(id))
			c.pendingMu.Unlock()
			if exists {
				ch <- msg
			}

		case msg.IsNotification():
			logging.Debug("mcp notification", "server", c.serverName, "method", msg.Method)
		}
	}
}

func (c *Client) request(ctx context.Context, method string, params any) (*Message, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	respCh := make(chan *Message, 1)

	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.transport.send(&Message{ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp, nil
	case <-time.After(c.timeout):
		return nil, fmt.Errorf("request timeout after %v", c.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Initialize performs the MCP handshake.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	resp, err := c.request(ctx, MethodInitialize, initializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      clientInfo{Name: "deskmate", Version: "1.0.0"},
		Capabilities:    map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}

	var result initializeResult
	if err := decodeResult(resp.Result, &result); err != nil {
		return fmt.Errorf("invalid initialize result: %w", err)
	}
	c.serverInfo = result.ServerInfo

	if err := c.transport.send(&Message{Method: MethodInitialized}); err != nil {
		return fmt.Errorf("initialized notification failed: %w", err)
	}
	c.initialized = true

	if c.serverInfo != nil {
		logging.Info("mcp server initialized",
			"name", c.serverName, "server", c.serverInfo.Name, "version", c.serverInfo.Version)
	}
	return nil
}

// ListTools fetches the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]*ToolInfo, error) {
	if err := c.requireInit(); err != nil {
		return nil, err
	}
	resp, err := c.request(ctx, MethodToolsList, nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list failed: %w", err)
	}
	var result listToolsResult
	if err := decodeResult(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("invalid tools result: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes one tool by its unqualified name.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	if err := c.requireInit(); err != nil {
		return nil, err
	}
	resp, err := c.request(ctx, MethodToolsCall, callToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("tools/call failed: %w", err)
	}
	var result CallToolResult
	if err := decodeResult(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("invalid call result: %w", err)
	}
	return &result, nil
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.requireInit(); err != nil {
		return err
	}
	_, err := c.request(ctx, MethodPing, nil)
	return err
}

// ServerInfo returns the remote server identity, nil before the
// handshake completes.
func (c *Client) ServerInfo() *ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

func (c *Client) requireInit() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized {
		return fmt.Errorf("client not initialized")
	}
	return nil
}

// Close tears down the receive loop and the server process.
func (c *Client) Close() error {
	c.cancel()
	err := c.transport.close()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		logging.Warn("mcp client receive loop did not stop in time", "server", c.serverName)
	}
	return err
}

func decodeResult(result any, out any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
