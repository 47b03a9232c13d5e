package tools

import (
	"strings"

	"deskmate/internal/mcp"
)

// Kind is the closed set of tool-name categories. Classification
// happens once per call; execution switches on the result instead of
// re-testing the name.
type Kind int

const (
	KindUnknown Kind = iota
	KindBuiltin
	KindSkill
	KindServer
	KindServerAdmin
)

func (k Kind) String() string {
	switch k {
	case KindBuiltin:
		return "builtin"
	case KindSkill:
		return "skill"
	case KindServer:
		return "server"
	case KindServerAdmin:
		return "server-admin"
	default:
		return "unknown"
	}
}

var builtins = map[string]bool{
	ToolReadFile:      true,
	ToolWriteFile:     true,
	ToolListDirectory: true,
	ToolRunCommand:    true,
}

// SkillLookup reports whether a name belongs to a loaded skill.
type SkillLookup interface {
	Has(name string) bool
}

// Classify resolves a tool name to its kind. Built-ins win over
// everything; namespaced names route to tool servers; the admin
// prefix routes to server management; skill names come last so a
// skill cannot shadow a built-in.
func Classify(name string, skills SkillLookup) Kind {
	switch {
	case builtins[name]:
		return KindBuiltin
	case strings.Contains(name, mcp.Separator):
		return KindServer
	case strings.HasPrefix(name, AdminPrefix):
		return KindServerAdmin
	case skills != nil && skills.Has(name):
		return KindSkill
	default:
		return KindUnknown
	}
}
