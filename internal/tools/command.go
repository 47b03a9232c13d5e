package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"deskmate/internal/confirm"
	"deskmate/internal/logging"
	"deskmate/internal/security"
	"deskmate/internal/trust"
)

// safeEnvVars is the allow-list of environment variables passed to
// executed commands.
var safeEnvVars = []string{
	"PATH", "HOME", "USER", "SHELL", "TERM",
	"LANG", "LC_ALL", "LC_CTYPE",
	"TMPDIR", "TMP", "TEMP",
	"EDITOR", "VISUAL", "PAGER",
	"XDG_CONFIG_HOME", "XDG_DATA_HOME", "XDG_CACHE_HOME", "XDG_RUNTIME_DIR",
	"GOPATH", "GOROOT", "GOPROXY", "GOFLAGS",
	"NODE_PATH", "NPM_CONFIG_PREFIX",
	"PYTHONPATH", "VIRTUAL_ENV",
	"GIT_AUTHOR_NAME", "GIT_AUTHOR_EMAIL", "GIT_COMMITTER_NAME", "GIT_COMMITTER_EMAIL",
}

const maxCommandOutput = 30000

func buildSafeEnv() []string {
	env := make([]string, 0, len(safeEnvVars))
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
	return env
}

// runCommand resolves the working directory, applies the trust-tier
// approval policy, and executes the command. Dangerous commands are
// always confirmed, standing permission or not.
func (e *Executor) runCommand(ctx context.Context, args map[string]any) Result {
	command, ok := GetString(args, "command")
	if !ok || strings.TrimSpace(command) == "" {
		return Fail("command is required")
	}

	workDir, result := e.resolveWorkDir(args)
	if !result.Success {
		return result
	}

	dangerous := security.IsDangerousCommand(command)
	safe := security.IsSafeCommand(command)
	level, _ := e.store.LevelFor(workDir)

	needsConfirm := dangerous
	if !dangerous {
		switch level {
		case trust.LevelTrust, trust.LevelStandard:
			needsConfirm = !safe
		default:
			needsConfirm = true
		}
		// Standing permission only ever stands in for confirmation of
		// a command classified safe.
		if needsConfirm && safe && e.store.HasPermission(ToolRunCommand, workDir) {
			needsConfirm = false
		}
	}

	if needsConfirm {
		description := fmt.Sprintf("Run command in %s: %s", workDir, command)
		if dangerous {
			description = fmt.Sprintf("Run DANGEROUS command in %s: %s", workDir, command)
		}
		answer := e.broker.Request(ctx, confirm.Request{
			Tool:        ToolRunCommand,
			Description: description,
			Args:        map[string]any{"command": command, "working_directory": workDir},
		})
		if !answer.Approved {
			return Fail("User denied the command: " + command)
		}
		if answer.Remember && !dangerous {
			e.store.Grant(ToolRunCommand, "*")
		}
	}

	return e.execute(ctx, command, workDir)
}

// resolveWorkDir picks the requested working directory or falls back
// to the primary authorized folder.
func (e *Executor) resolveWorkDir(args map[string]any) (string, Result) {
	workDir, _ := GetString(args, "working_directory")
	if workDir == "" {
		primary, ok := e.store.PrimaryFolder()
		if !ok {
			return "", Fail("Error: no authorized folder configured to run commands in")
		}
		workDir = primary.Path
	}
	if !e.auth.IsAuthorized(workDir) {
		return "", Fail("Error: Path not authorized: " + workDir)
	}
	resolved, err := e.auth.Resolve(workDir)
	if err != nil {
		return "", Fail("Error resolving working directory: " + err.Error())
	}
	return resolved, Ok("")
}

// execute runs the command with combined output, a timeout, and the
// sanitized environment. Cancellation tears the process down via the
// context.
func (e *Executor) execute(ctx context.Context, command, workDir string) Result {
	execCtx, cancel := context.WithTimeout(ctx, e.cmdTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "bash", "-c", command)
	cmd.Dir = workDir
	cmd.Env = buildSafeEnv()

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	logging.Debug("running command", "command", command, "workdir", workDir)
	err := cmd.Run()

	text := output.String()
	if len(text) > maxCommandOutput {
		text = text[:maxCommandOutput] + fmt.Sprintf("\n[truncated: %d bytes total]", output.Len())
	}

	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		return Fail(fmt.Sprintf("command timed out after %s\n%s", e.cmdTimeout, text))
	case ctx.Err() != nil:
		return Fail("command cancelled\n" + text)
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Fail(fmt.Sprintf("command exited with status %d\n%s", exitErr.ExitCode(), text))
		}
		return Fail(fmt.Sprintf("command failed: %v\n%s", err, text))
	}

	if text == "" {
		return Ok("(no output)")
	}
	return Ok(text)
}
