// Package security classifies shell commands and file writes by risk.
// The classifiers are advisory inputs to the trust-tier decision in the
// tool executor; they are never the sole gatekeeper.
package security

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// safeCommands is the allow-list of read-only or common CLI tools. A
// command whose first token appears here is considered safe unless a
// dangerous pattern matches elsewhere in the command.
var safeCommands = map[string]bool{
	"ls": true, "dir": true, "pwd": true, "cd": true,
	"cat": true, "head": true, "tail": true, "less": true, "more": true,
	"grep": true, "rg": true, "find": true, "fd": true,
	"echo": true, "printf": true, "date": true, "whoami": true,
	"which": true, "type": true, "file": true, "stat": true,
	"wc": true, "sort": true, "uniq": true, "cut": true, "tr": true,
	"diff": true, "cmp": true, "du": true, "df": true,
	"ps": true, "env": true, "printenv": true, "uname": true,
	"tree": true, "basename": true, "dirname": true, "realpath": true,
	"md5sum": true, "sha256sum": true, "sha1sum": true,
	"go": true, "cargo": true, "npm": true, "npx": true, "pip": true,
	"pip3": true, "make": true, "curl": true, "wget": true,
}

// readOnlyGitSubcommands are git queries that never mutate the repo.
var readOnlyGitSubcommands = map[string]bool{
	"status": true, "log": true, "diff": true, "show": true,
	"branch": true, "remote": true, "describe": true, "blame": true,
	"shortlog": true, "rev-parse": true, "ls-files": true,
	"ls-remote": true, "tag": true,
}

// interpreters maps script interpreters to the extensions they run.
var interpreters = map[string][]string{
	"python":  {".py"},
	"python3": {".py"},
	"node":    {".js", ".mjs", ".cjs"},
	"ruby":    {".rb"},
	"perl":    {".pl"},
	"bash":    {".sh", ".bash"},
	"sh":      {".sh"},
	"zsh":     {".sh", ".zsh"},
}

// dangerousPatterns match commands that must always be confirmed, no
// matter which folder they run in or what permissions stand. A match
// here overrides allow-list membership.
var dangerousPatterns = []*regexp.Regexp{
	// Recursive or forced deletion.
	regexp.MustCompile(`\brm\s+(-\w*[rf]\w*\s+)+`),
	regexp.MustCompile(`\brm\s+.*\s-\w*[rf]`),
	// Disk formatting and raw device writes.
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bdd\s+[^|]*of=/dev/`),
	regexp.MustCompile(`>\s*/dev/(sd|hd|vd|nvme)`),
	// Wide-open permissions and recursive ownership changes.
	regexp.MustCompile(`\bchmod\s+(-\w+\s+)*777\b`),
	regexp.MustCompile(`\bchown\s+(-\w*R\w*\s+)`),
	// Discarding output to hide what a command did.
	regexp.MustCompile(`>\s*/dev/null\s+2>&1\s*(&|;|$)`),
	regexp.MustCompile(`&>\s*/dev/null`),
	// Fork bombs.
	regexp.MustCompile(`:\s*\(\s*\)\s*\{`),
	// Piping downloads straight into a shell.
	regexp.MustCompile(`(?i)(curl|wget)\s+[^|]*\|\s*(ba|z)?sh\b`),
}

// IsDangerousCommand reports whether the command matches a pattern that
// always requires explicit confirmation.
func IsDangerousCommand(command string) bool {
	for _, p := range dangerousPatterns {
		if p.MatchString(command) {
			return true
		}
	}
	return false
}

// IsSafeCommand reports whether a command may be auto-approved in a
// standard-trust folder: the first token is on the allow-list, or it is
// a read-only git query, or it runs an interpreter on a recognized
// script file, and nothing in the full command matches a dangerous
// pattern.
func IsSafeCommand(command string) bool {
	if IsDangerousCommand(command) {
		return false
	}

	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	first := filepath.Base(fields[0])

	if first == "git" {
		if len(fields) < 2 {
			return false
		}
		return readOnlyGitSubcommands[fields[1]]
	}

	if exts, ok := interpreters[first]; ok {
		for _, arg := range fields[1:] {
			if strings.HasPrefix(arg, "-") {
				continue
			}
			ext := strings.ToLower(filepath.Ext(arg))
			for _, want := range exts {
				if ext == want {
					return true
				}
			}
			return false
		}
		return false
	}

	return safeCommands[first]
}

// IsDangerousWrite reports whether writing to the path would overwrite
// an existing filesystem entry rather than create a new one.
func IsDangerousWrite(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
