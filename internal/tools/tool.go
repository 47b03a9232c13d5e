// Package tools implements the built-in tool set and the executor
// that mediates every tool call through path authorization, trust
// tiers, and user confirmation.
package tools

import (
	"google.golang.org/genai"
)

// Built-in tool names.
const (
	ToolReadFile      = "read_file"
	ToolWriteFile     = "write_file"
	ToolListDirectory = "list_directory"
	ToolRunCommand    = "run_command"
)

// AdminPrefix marks tool-server management operations.
const AdminPrefix = "mcp_"

// Result is the outcome of one tool execution. Failures are carried
// here as data, not raised; the model reads them and adapts.
type Result struct {
	Content string
	Data    any
	Error   string
	Success bool
}

// Ok creates a successful result.
func Ok(content string) Result {
	return Result{Content: content, Success: true}
}

// OkWithData creates a successful result with structured data.
func OkWithData(content string, data any) Result {
	return Result{Content: content, Data: data, Success: true}
}

// Fail creates a failed result.
func Fail(errMsg string) Result {
	return Result{Error: errMsg, Success: false}
}

// ToResponse wraps the result as the function response part matching a
// tool invocation id.
func (r Result) ToResponse(id, name string) *genai.Part {
	resp := make(map[string]any)
	if r.Success {
		resp["success"] = true
		if r.Content != "" {
			resp["content"] = r.Content
		}
		if r.Data != nil {
			resp["data"] = r.Data
		}
	} else {
		resp["success"] = false
		resp["error"] = r.Error
	}
	return &genai.Part{FunctionResponse: &genai.FunctionResponse{
		ID:       id,
		Name:     name,
		Response: resp,
	}}
}

// GetString extracts a string argument.
func GetString(args map[string]any, key string) (string, bool) {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}

// GetBool extracts a boolean argument.
func GetBool(args map[string]any, key string) bool {
	if v, ok := args[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// GetStringSlice extracts a string-array argument tolerating the
// []any form JSON decoding produces.
func GetStringSlice(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
