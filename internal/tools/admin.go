package tools

import (
	"context"
	"fmt"
	"strings"

	"deskmate/internal/config"
	"deskmate/internal/logging"
)

// executeAdmin handles tool-server management operations. Mutating
// operations persist the server configuration when a persister is
// wired.
func (e *Executor) executeAdmin(ctx context.Context, name string, args map[string]any) Result {
	if e.servers == nil {
		return Fail("no tool servers configured")
	}

	op := strings.TrimPrefix(name, AdminPrefix)
	switch op {
	case "list_servers":
		return e.adminList()
	case "add_server":
		return e.adminAdd(args)
	case "remove_server":
		return e.adminMutate(args, "removed", e.servers.Remove)
	case "enable_server":
		return e.adminEnable(ctx, args)
	case "disable_server":
		return e.adminMutate(args, "disabled", func(name string) error {
			return e.servers.SetEnabled(name, false)
		})
	case "diagnose_server":
		return e.adminDiagnose(ctx, args)
	case "retry_server":
		return e.adminRetry(ctx, args)
	}
	return Fail(fmt.Sprintf("unknown management operation: %s", name))
}

func (e *Executor) adminList() Result {
	statuses := e.servers.List()
	if len(statuses) == 0 {
		return Ok("No tool servers configured.")
	}

	var b strings.Builder
	for _, s := range statuses {
		state := "disabled"
		switch {
		case s.Connected:
			state = fmt.Sprintf("connected, %d tools", s.Tools)
		case s.Enabled && s.LastError != "":
			state = "error: " + s.LastError
		case s.Enabled:
			state = "not connected"
		}
		fmt.Fprintf(&b, "%s: %s\n", s.Name, state)
	}
	return Ok(strings.TrimRight(b.String(), "\n"))
}

func (e *Executor) adminAdd(args map[string]any) Result {
	name, _ := GetString(args, "name")
	command, _ := GetString(args, "command")
	if name == "" || command == "" {
		return Fail("name and command are required")
	}

	err := e.servers.Add(config.MCPServerConfig{
		Name:    name,
		Command: command,
		Args:    GetStringSlice(args, "args"),
		Enabled: true,
	})
	if err != nil {
		return Fail(err.Error())
	}
	e.persistServers()
	return Ok(fmt.Sprintf("Server %s added. Use %sretry_server to connect it.", name, AdminPrefix))
}

func (e *Executor) adminMutate(args map[string]any, verb string, op func(string) error) Result {
	name, _ := GetString(args, "name")
	if name == "" {
		return Fail("name is required")
	}
	if err := op(name); err != nil {
		return Fail(err.Error())
	}
	e.persistServers()
	return Ok(fmt.Sprintf("Server %s %s.", name, verb))
}

func (e *Executor) adminEnable(ctx context.Context, args map[string]any) Result {
	name, _ := GetString(args, "name")
	if name == "" {
		return Fail("name is required")
	}
	if err := e.servers.SetEnabled(name, true); err != nil {
		return Fail(err.Error())
	}
	e.persistServers()
	if err := e.servers.Retry(ctx, name); err != nil {
		return Ok(fmt.Sprintf("Server %s enabled, but connection failed: %v", name, err))
	}
	return Ok(fmt.Sprintf("Server %s enabled and connected.", name))
}

func (e *Executor) adminDiagnose(ctx context.Context, args map[string]any) Result {
	name, _ := GetString(args, "name")
	if name == "" {
		return Fail("name is required")
	}
	status, err := e.servers.Diagnose(ctx, name)
	if err != nil {
		return Fail(err.Error())
	}
	return Ok(fmt.Sprintf("%s: %s", name, status))
}

func (e *Executor) adminRetry(ctx context.Context, args map[string]any) Result {
	name, _ := GetString(args, "name")
	if name == "" {
		return Fail("name is required")
	}
	if err := e.servers.Retry(ctx, name); err != nil {
		return Fail(fmt.Sprintf("reconnect failed: %v", err))
	}
	return Ok(fmt.Sprintf("Server %s reconnected.", name))
}

func (e *Executor) persistServers() {
	if e.PersistServers == nil {
		return
	}
	if err := e.PersistServers(); err != nil {
		logging.Warn("failed to persist server configuration", "error", err)
	}
}
