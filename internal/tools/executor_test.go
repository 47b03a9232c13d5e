package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"deskmate/internal/confirm"
	"deskmate/internal/events"
	"deskmate/internal/skills"
	"deskmate/internal/trust"
)

// responder auto-answers confirmation requests and records them.
type responder struct {
	answer   confirm.Answer
	requests []confirm.Request
}

func (r *responder) handle(broker *confirm.Broker) events.Handler {
	return func(ev events.Event) {
		if ev.Type != events.ConfirmRequest {
			return
		}
		req := ev.Payload.(confirm.Request)
		r.requests = append(r.requests, req)
		broker.Resolve(req.ID, r.answer)
	}
}

type testEnv struct {
	exec      *Executor
	store     *trust.Store
	dir       string
	responder *responder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	// EvalSymlinks so authorization checks see the same path the
	// authorizer resolves (macOS tempdirs live behind /var -> /private/var).
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	store := trust.NewMemoryStore()
	_, err = store.AddFolder(dir)
	require.NoError(t, err)

	bus := events.NewBus()
	broker := confirm.NewBroker(bus)
	r := &responder{answer: confirm.Answer{Approved: true}}
	bus.Subscribe(r.handle(broker))

	registry := skills.NewRegistry(filepath.Join(dir, "skills"))
	exec := NewExecutor(store, trust.NewAuthorizer(store), broker, bus, registry, nil, 30*time.Second)

	return &testEnv{exec: exec, store: store, dir: dir, responder: r}
}

func (env *testEnv) run(t *testing.T, name string, args map[string]any) map[string]any {
	t.Helper()
	part := env.exec.Execute(context.Background(), &genai.FunctionCall{
		ID:   "toolu_test",
		Name: name,
		Args: args,
	})
	require.NotNil(t, part.FunctionResponse)
	assert.Equal(t, "toolu_test", part.FunctionResponse.ID)
	return part.FunctionResponse.Response
}

func TestReadFile(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	resp := env.run(t, ToolReadFile, map[string]any{"path": path})
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "hello", resp["content"])
}

func TestReadFileUnauthorized(t *testing.T) {
	env := newTestEnv(t)

	resp := env.run(t, ToolReadFile, map[string]any{"path": "/etc/passwd"})
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"], "not authorized")
}

func TestReadFileMissing(t *testing.T) {
	env := newTestEnv(t)

	resp := env.run(t, ToolReadFile, map[string]any{"path": filepath.Join(env.dir, "nope.txt")})
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"], "File not found")
}

func TestReadFileRejectsBinary(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "blob.bin")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x01}, 0o644))

	resp := env.run(t, ToolReadFile, map[string]any{"path": path})
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"], "not a text file")
}

func TestListDirectory(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.Mkdir(filepath.Join(env.dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "a.txt"), []byte("x"), 0o644))

	resp := env.run(t, ToolListDirectory, map[string]any{"path": env.dir})
	require.Equal(t, true, resp["success"])
	assert.Contains(t, resp["content"], "a.txt")
	assert.Contains(t, resp["content"], "sub/", "directories carry a trailing slash")
}

func TestListDirectoryDefaultsToPrimaryFolder(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "marker.txt"), []byte("x"), 0o644))

	resp := env.run(t, ToolListDirectory, map[string]any{})
	require.Equal(t, true, resp["success"])
	assert.Contains(t, resp["content"], "marker.txt")
}

func TestWriteFileNewAtStandardNeedsNoConfirmation(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "new.txt")

	resp := env.run(t, ToolWriteFile, map[string]any{"path": path, "content": "fresh"})
	require.Equal(t, true, resp["success"])
	assert.Empty(t, env.responder.requests)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestWriteFileOverwriteAtStandardConfirms(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "existing.txt")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	resp := env.run(t, ToolWriteFile, map[string]any{"path": path, "content": "new"})
	require.Equal(t, true, resp["success"])
	require.Len(t, env.responder.requests, 1)
	assert.Contains(t, env.responder.requests[0].Description, "Overwrite")
	assert.NotEmpty(t, env.responder.requests[0].Diff, "overwrites show a patch preview")
}

func TestWriteFileStrictAlwaysConfirms(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SetFolderLevel(env.dir, trust.LevelStrict))

	resp := env.run(t, ToolWriteFile, map[string]any{
		"path": filepath.Join(env.dir, "new.txt"), "content": "x",
	})
	require.Equal(t, true, resp["success"])
	assert.Len(t, env.responder.requests, 1)
}

func TestWriteFileTrustAutoApprovesOverwrite(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SetFolderLevel(env.dir, trust.LevelTrust))
	path := filepath.Join(env.dir, "existing.txt")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	resp := env.run(t, ToolWriteFile, map[string]any{"path": path, "content": "new"})
	require.Equal(t, true, resp["success"])
	assert.Empty(t, env.responder.requests)
}

func TestWriteFileDenied(t *testing.T) {
	env := newTestEnv(t)
	env.responder.answer = confirm.Answer{Approved: false}
	path := filepath.Join(env.dir, "existing.txt")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	resp := env.run(t, ToolWriteFile, map[string]any{"path": path, "content": "new"})
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"], "denied")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data), "a denied write must not touch the file")
}

func TestWriteFileRememberGrantsFolderPermission(t *testing.T) {
	env := newTestEnv(t)
	env.responder.answer = confirm.Answer{Approved: true, Remember: true}
	path := filepath.Join(env.dir, "existing.txt")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	env.run(t, ToolWriteFile, map[string]any{"path": path, "content": "v2"})
	require.Len(t, env.responder.requests, 1)

	// The second overwrite in the same folder rides the granted
	// permission without a new prompt.
	env.run(t, ToolWriteFile, map[string]any{"path": path, "content": "v3"})
	assert.Len(t, env.responder.requests, 1)
}

func TestRunCommandSafeAutoApproved(t *testing.T) {
	env := newTestEnv(t)

	resp := env.run(t, ToolRunCommand, map[string]any{"command": "echo hi"})
	require.Equal(t, true, resp["success"])
	assert.Contains(t, resp["content"], "hi")
	assert.Empty(t, env.responder.requests)
}

func TestRunCommandUnlistedNeedsConfirmation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.run(t, ToolRunCommand, map[string]any{"command": "true"})
	require.Equal(t, true, resp["success"])
	assert.Len(t, env.responder.requests, 1)
}

func TestRunCommandTrustStillConfirmsUnlisted(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SetFolderLevel(env.dir, trust.LevelTrust))

	resp := env.run(t, ToolRunCommand, map[string]any{"command": "true"})
	require.Equal(t, true, resp["success"])
	assert.Len(t, env.responder.requests, 1)
}

func TestRunCommandStrictConfirmsEvenSafeCommands(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SetFolderLevel(env.dir, trust.LevelStrict))

	resp := env.run(t, ToolRunCommand, map[string]any{"command": "echo hi"})
	require.Equal(t, true, resp["success"])
	assert.Len(t, env.responder.requests, 1)
}

func TestRunCommandStandingPermissionCoversSafeOnly(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SetFolderLevel(env.dir, trust.LevelStrict))
	env.store.Grant(ToolRunCommand, "*")

	// Safe command: the standing permission substitutes for the prompt.
	resp := env.run(t, ToolRunCommand, map[string]any{"command": "echo ok"})
	require.Equal(t, true, resp["success"])
	assert.Empty(t, env.responder.requests)

	// Dangerous command: always prompted, permission or not.
	env.responder.answer = confirm.Answer{Approved: false}
	resp = env.run(t, ToolRunCommand, map[string]any{"command": "rm -rf " + env.dir})
	assert.Equal(t, false, resp["success"])
	assert.Len(t, env.responder.requests, 1)
	assert.Contains(t, env.responder.requests[0].Description, "DANGEROUS")
}

func TestRunCommandRememberNeverCoversDangerous(t *testing.T) {
	env := newTestEnv(t)
	env.responder.answer = confirm.Answer{Approved: true, Remember: true}
	sub := filepath.Join(env.dir, "victim")
	require.NoError(t, os.Mkdir(sub, 0o755))

	resp := env.run(t, ToolRunCommand, map[string]any{"command": "rm -rf " + sub})
	require.Equal(t, true, resp["success"])

	// Remember on a dangerous command must not create a standing grant.
	assert.False(t, env.store.HasPermission(ToolRunCommand, env.dir))
}

func TestRunCommandReportsExitStatus(t *testing.T) {
	env := newTestEnv(t)

	resp := env.run(t, ToolRunCommand, map[string]any{"command": "ls /definitely/not/here"})
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"], "exited with status")
}

func TestRunCommandUnauthorizedWorkDir(t *testing.T) {
	env := newTestEnv(t)

	resp := env.run(t, ToolRunCommand, map[string]any{
		"command": "echo hi", "working_directory": "/etc",
	})
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"], "not authorized")
}

func TestExecuteMalformedArgs(t *testing.T) {
	env := newTestEnv(t)

	resp := env.run(t, ToolWriteFile, map[string]any{
		"__malformed_args__": "unexpected end of JSON input",
	})
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"], "could not be parsed")
}

func TestExecuteUnknownTool(t *testing.T) {
	env := newTestEnv(t)

	resp := env.run(t, "teleport", map[string]any{})
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"], "unknown tool")
}

func TestExecuteSkill(t *testing.T) {
	env := newTestEnv(t)
	skillDir := filepath.Join(env.dir, "skills", "changelog")
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	manifest := "---\nname: changelog\ndescription: Summarize recent commits\n---\nRun git log and group by topic.\n"
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(manifest), 0o644))
	env.exec.skills.Reload()

	resp := env.run(t, "changelog", map[string]any{})
	require.Equal(t, true, resp["success"])
	assert.Contains(t, resp["content"], "Run git log")
	assert.Contains(t, resp["content"], skillDir)
}
