package tools

import (
	"fmt"
	"sort"

	"google.golang.org/genai"

	"deskmate/internal/mcp"
	"deskmate/internal/skills"
)

// builtinDeclarations is the schema for the four built-in tools.
func builtinDeclarations() []*genai.FunctionDeclaration {
	return []*genai.FunctionDeclaration{
		{
			Name:        ToolReadFile,
			Description: "Reads a text file from an authorized folder and returns its contents.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"path": {
						Type:        genai.TypeString,
						Description: "Absolute path of the file to read.",
					},
				},
				Required: []string{"path"},
			},
		},
		{
			Name:        ToolWriteFile,
			Description: "Writes content to a file inside an authorized folder, creating or overwriting it. Overwrites may require user confirmation depending on the folder's trust level.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"path": {
						Type:        genai.TypeString,
						Description: "Absolute path of the file to write.",
					},
					"content": {
						Type:        genai.TypeString,
						Description: "Full content to write.",
					},
				},
				Required: []string{"path", "content"},
			},
		},
		{
			Name:        ToolListDirectory,
			Description: "Lists the entries of a directory inside an authorized folder.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"path": {
						Type:        genai.TypeString,
						Description: "Absolute path of the directory to list. Defaults to the primary working directory.",
					},
				},
			},
		},
		{
			Name:        ToolRunCommand,
			Description: "Runs a shell command in an authorized working directory and returns combined output and exit status. Risky commands require user confirmation.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"command": {
						Type:        genai.TypeString,
						Description: "The shell command to run.",
					},
					"working_directory": {
						Type:        genai.TypeString,
						Description: "Working directory for the command. Defaults to the primary authorized folder.",
					},
				},
				Required: []string{"command"},
			},
		},
	}
}

// adminDeclarations is the schema for tool-server management
// operations.
func adminDeclarations() []*genai.FunctionDeclaration {
	serverNameParam := func(desc string) *genai.Schema {
		return &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"name": {Type: genai.TypeString, Description: desc},
			},
			Required: []string{"name"},
		}
	}

	return []*genai.FunctionDeclaration{
		{
			Name:        AdminPrefix + "list_servers",
			Description: "Lists all configured external tool servers with their connection status.",
			Parameters:  &genai.Schema{Type: genai.TypeObject},
		},
		{
			Name:        AdminPrefix + "add_server",
			Description: "Registers a new external tool server (stdio transport). The server is connected on the next retry.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name":    {Type: genai.TypeString, Description: "Unique server name."},
					"command": {Type: genai.TypeString, Description: "Executable that starts the server."},
					"args": {
						Type:        genai.TypeArray,
						Description: "Command arguments.",
						Items:       &genai.Schema{Type: genai.TypeString},
					},
				},
				Required: []string{"name", "command"},
			},
		},
		{
			Name:        AdminPrefix + "remove_server",
			Description: "Disconnects and removes a configured tool server.",
			Parameters:  serverNameParam("Name of the server to remove."),
		},
		{
			Name:        AdminPrefix + "enable_server",
			Description: "Enables a disabled tool server and connects it.",
			Parameters:  serverNameParam("Name of the server to enable."),
		},
		{
			Name:        AdminPrefix + "disable_server",
			Description: "Disables a tool server and disconnects it.",
			Parameters:  serverNameParam("Name of the server to disable."),
		},
		{
			Name:        AdminPrefix + "diagnose_server",
			Description: "Reports connection health for a tool server.",
			Parameters:  serverNameParam("Name of the server to diagnose."),
		},
		{
			Name:        AdminPrefix + "retry_server",
			Description: "Retries the connection to a tool server.",
			Parameters:  serverNameParam("Name of the server to reconnect."),
		},
	}
}

// skillDeclarations exposes each loaded skill as a zero-argument tool.
// Invoking one returns the skill's instructions instead of running
// anything.
func skillDeclarations(registry *skills.Registry) []*genai.FunctionDeclaration {
	list := registry.List()
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	decls := make([]*genai.FunctionDeclaration, 0, len(list))
	for _, skill := range list {
		desc := skill.Description
		if desc == "" {
			desc = fmt.Sprintf("Loads the %s skill instructions.", skill.Name)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        skill.Name,
			Description: desc,
			Parameters:  &genai.Schema{Type: genai.TypeObject},
		})
	}
	return decls
}

// Declarations assembles the full tool schema for one turn: built-ins,
// loaded skills, connected tool servers, and server management.
func Declarations(registry *skills.Registry, servers *mcp.Manager) []*genai.FunctionDeclaration {
	decls := builtinDeclarations()
	if registry != nil {
		decls = append(decls, skillDeclarations(registry)...)
	}
	if servers != nil {
		decls = append(decls, servers.Declarations()...)
		decls = append(decls, adminDeclarations()...)
	}
	return decls
}
