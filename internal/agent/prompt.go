package agent

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// systemPrompt is rebuilt every turn: the working-directory context,
// loaded skills, and connected tool servers all change at runtime.
func (a *Agent) systemPrompt() string {
	var b strings.Builder

	b.WriteString("You are Deskmate, a desktop assistant that can read and write files, ")
	b.WriteString("run shell commands, and call external tools inside folders the user has authorized. ")
	b.WriteString("Every side-effecting action is mediated by the user's trust settings; ")
	b.WriteString("if a tool result reports a denied or unauthorized action, adjust your approach instead of retrying blindly.\n\n")

	fmt.Fprintf(&b, "Current date: %s\n", time.Now().Format("2006-01-02"))

	if workDir := a.session.WorkDir(); workDir != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", workDir)
	} else if primary, ok := a.store.PrimaryFolder(); ok {
		fmt.Fprintf(&b, "Working directory: %s\n", primary.Path)
	}

	folders := a.store.Folders()
	if len(folders) > 0 {
		b.WriteString("\nAuthorized folders:\n")
		for _, f := range folders {
			fmt.Fprintf(&b, "- %s (trust: %s)\n", f.Path, f.Level)
		}
	}

	if a.skills != nil {
		list := a.skills.List()
		if len(list) > 0 {
			sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
			b.WriteString("\nAvailable skills (invoke one by name to load its instructions, ")
			b.WriteString("then run its helper scripts yourself with run_command):\n")
			for _, s := range list {
				fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
			}
		}
	}

	if a.servers != nil {
		if active := a.servers.ActiveServers(); len(active) > 0 {
			fmt.Fprintf(&b, "\nConnected tool servers: %s\n", strings.Join(active, ", "))
		}
	}

	return b.String()
}
