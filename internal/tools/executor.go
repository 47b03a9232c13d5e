package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
	"google.golang.org/genai"

	"deskmate/internal/confirm"
	"deskmate/internal/events"
	"deskmate/internal/fileutil"
	"deskmate/internal/logging"
	"deskmate/internal/mcp"
	"deskmate/internal/provider"
	"deskmate/internal/security"
	"deskmate/internal/skills"
	"deskmate/internal/trust"
)

const (
	maxReadBytes   = 256 * 1024
	maxListEntries = 2000
)

// Executor runs tool invocations under the trust policy. Every
// failure becomes a textual result; nothing raises past Execute.
type Executor struct {
	store   *trust.Store
	auth    *trust.Authorizer
	broker  *confirm.Broker
	bus     *events.Bus
	skills  *skills.Registry
	servers *mcp.Manager

	cmdTimeout time.Duration

	// OnArtifact, when set, records files the write tool produced.
	OnArtifact func(path string)

	// PersistServers, when set, saves the server configuration after
	// a management operation mutates it.
	PersistServers func() error
}

// NewExecutor wires the executor's collaborators.
func NewExecutor(store *trust.Store, auth *trust.Authorizer, broker *confirm.Broker, bus *events.Bus, registry *skills.Registry, servers *mcp.Manager, cmdTimeout time.Duration) *Executor {
	if cmdTimeout <= 0 {
		cmdTimeout = 2 * time.Minute
	}
	return &Executor{
		store:      store,
		auth:       auth,
		broker:     broker,
		bus:        bus,
		skills:     registry,
		servers:    servers,
		cmdTimeout: cmdTimeout,
	}
}

// Execute dispatches one tool invocation and returns its result part.
// The id correspondence between invocation and result is preserved
// even for malformed or unknown calls.
func (e *Executor) Execute(ctx context.Context, call *genai.FunctionCall) (part *genai.Part) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("tool execution panicked", "tool", call.Name, "panic", r)
			part = Fail(fmt.Sprintf("internal error executing %s", call.Name)).ToResponse(call.ID, call.Name)
		}
	}()

	if reason, ok := call.Args[provider.MalformedArgsKey]; ok {
		return Fail(fmt.Sprintf("tool arguments could not be parsed: %v", reason)).ToResponse(call.ID, call.Name)
	}

	var result Result
	switch Classify(call.Name, e.skills) {
	case KindBuiltin:
		result = e.executeBuiltin(ctx, call.Name, call.Args)
	case KindSkill:
		result = e.executeSkill(call.Name)
	case KindServer:
		result = e.executeServer(ctx, call.Name, call.Args)
	case KindServerAdmin:
		result = e.executeAdmin(ctx, call.Name, call.Args)
	default:
		result = Fail(fmt.Sprintf("unknown tool: %s", call.Name))
	}
	return result.ToResponse(call.ID, call.Name)
}

func (e *Executor) executeBuiltin(ctx context.Context, name string, args map[string]any) Result {
	switch name {
	case ToolReadFile:
		return e.readFile(args)
	case ToolWriteFile:
		return e.writeFile(ctx, args)
	case ToolListDirectory:
		return e.listDirectory(args)
	case ToolRunCommand:
		return e.runCommand(ctx, args)
	}
	return Fail(fmt.Sprintf("unknown built-in: %s", name))
}

// readFile returns file contents, truncated past maxReadBytes.
func (e *Executor) readFile(args map[string]any) Result {
	path, ok := GetString(args, "path")
	if !ok || path == "" {
		return Fail("path is required")
	}
	if !e.auth.IsAuthorized(path) {
		return Fail("Error: Path not authorized: " + path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return Fail("Error: File not found: " + path)
		case os.IsPermission(err):
			return Fail("Error: Permission denied: " + path)
		default:
			return Fail("Error reading file: " + err.Error())
		}
	}

	if !utf8.Valid(data) {
		return Fail(fmt.Sprintf("Error: %s is not a text file (%d bytes)", path, len(data)))
	}
	if len(data) > maxReadBytes {
		return Ok(fmt.Sprintf("%s\n\n[truncated: showing %d of %d bytes]",
			data[:maxReadBytes], maxReadBytes, len(data)))
	}
	return Ok(string(data))
}

// listDirectory lists entries with a trailing slash on directories.
func (e *Executor) listDirectory(args map[string]any) Result {
	path, _ := GetString(args, "path")
	if path == "" {
		primary, ok := e.store.PrimaryFolder()
		if !ok {
			return Fail("path is required: no authorized folder configured")
		}
		path = primary.Path
	}
	if !e.auth.IsAuthorized(path) {
		return Fail("Error: Path not authorized: " + path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return Fail("Error: Directory not found: " + path)
		case os.IsPermission(err):
			return Fail("Error: Permission denied: " + path)
		default:
			return Fail("Error listing directory: " + err.Error())
		}
	}

	names := make([]string, 0, len(entries))
	for i, entry := range entries {
		if i >= maxListEntries {
			names = append(names, fmt.Sprintf("... (%d more entries)", len(entries)-maxListEntries))
			break
		}
		if entry.IsDir() {
			names = append(names, entry.Name()+"/")
		} else {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return Ok("(empty directory)")
	}
	return Ok(strings.Join(names, "\n"))
}

// writeFile applies the trust-tier approval policy, then writes
// atomically and reports the artifact.
func (e *Executor) writeFile(ctx context.Context, args map[string]any) Result {
	path, ok := GetString(args, "path")
	if !ok || path == "" {
		return Fail("path is required")
	}
	content, ok := GetString(args, "content")
	if !ok {
		return Fail("content is required")
	}

	if !e.auth.IsAuthorized(path) {
		return Fail("Error: Path not authorized: " + path)
	}
	resolved, err := e.auth.Resolve(path)
	if err != nil {
		return Fail("Error resolving path: " + err.Error())
	}

	level, _ := e.store.LevelFor(resolved)
	overwrite := security.IsDangerousWrite(resolved)

	needsConfirm := false
	switch level {
	case trust.LevelTrust:
	case trust.LevelStandard:
		needsConfirm = overwrite
	default:
		needsConfirm = true
	}

	if needsConfirm && e.store.HasPermission(ToolWriteFile, resolved) {
		needsConfirm = false
	}

	if needsConfirm {
		description := fmt.Sprintf("Write file %s", resolved)
		if overwrite {
			description = fmt.Sprintf("Overwrite file %s", resolved)
		}
		answer := e.broker.Request(ctx, confirm.Request{
			Tool:        ToolWriteFile,
			Description: description,
			Args:        map[string]any{"path": resolved},
			Diff:        e.overwriteDiff(resolved, content),
		})
		if !answer.Approved {
			return Fail("User denied the write to " + resolved)
		}
		if answer.Remember {
			e.store.Grant(ToolWriteFile, filepath.Join(filepath.Dir(resolved), "*"))
		}
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return Fail("Error creating parent directory: " + err.Error())
	}
	if err := fileutil.AtomicWriteString(resolved, content, 0o644); err != nil {
		return Fail("Error writing file: " + err.Error())
	}

	e.bus.Emit(events.ArtifactCreated, resolved)
	if e.OnArtifact != nil {
		e.OnArtifact(resolved)
	}

	verb := "created"
	if overwrite {
		verb = "overwritten"
	}
	return Ok(fmt.Sprintf("File %s: %s (%d bytes)", verb, resolved, len(content)))
}

// overwriteDiff builds a patch preview against the current contents.
// Empty when the target is new or unreadable.
func (e *Executor) overwriteDiff(path, newContent string) string {
	old, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(string(old), newContent)
	return dmp.PatchToText(patches)
}

// executeSkill returns the skill's instruction payload. Nothing is
// executed; the model drives any helper scripts through run_command.
func (e *Executor) executeSkill(name string) Result {
	skill, ok := e.skills.Get(name)
	if !ok {
		return Fail(fmt.Sprintf("unknown skill: %s", name))
	}
	return Ok(fmt.Sprintf("Skill: %s\nDirectory: %s\n\n%s", skill.Name, skill.Dir, skill.Instructions))
}

// executeServer routes a namespaced call to its tool server.
func (e *Executor) executeServer(ctx context.Context, name string, args map[string]any) Result {
	if e.servers == nil {
		return Fail("no tool servers configured")
	}
	out, err := e.servers.CallTool(ctx, name, args)
	if err != nil {
		return Fail(fmt.Sprintf("tool server call failed: %v", err))
	}
	return Ok(out)
}
