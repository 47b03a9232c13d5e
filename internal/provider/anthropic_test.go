package provider

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func decodeSSE(t *testing.T, raw string) map[string]any {
	t.Helper()
	var event map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &event))
	return event
}

func TestTranslateSSE(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Event
	}{
		{
			name: "text block start",
			raw:  `{"type":"content_block_start","content_block":{"type":"text"}}`,
			want: []Event{{Type: EventBlockStart, Block: BlockText}},
		},
		{
			name: "tool block start carries id and name",
			raw:  `{"type":"content_block_start","content_block":{"type":"tool_use","id":"toolu_9","name":"read_file"}}`,
			want: []Event{{Type: EventBlockStart, Block: BlockToolUse, ToolID: "toolu_9", ToolName: "read_file"}},
		},
		{
			name: "text delta",
			raw:  `{"type":"content_block_delta","delta":{"type":"text_delta","text":"hi"}}`,
			want: []Event{{Type: EventTextDelta, Text: "hi"}},
		},
		{
			name: "thinking delta",
			raw:  `{"type":"content_block_delta","delta":{"type":"thinking_delta","thinking":"hmm"}}`,
			want: []Event{{Type: EventThinkingDelta, Text: "hmm"}},
		},
		{
			name: "input json delta",
			raw:  `{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"pa"}}`,
			want: []Event{{Type: EventArgDelta, Text: `{"pa`}},
		},
		{
			name: "block stop",
			raw:  `{"type":"content_block_stop"}`,
			want: []Event{{Type: EventBlockStop}},
		},
		{
			name: "message stop",
			raw:  `{"type":"message_stop"}`,
			want: []Event{{Type: EventMessageStop}},
		},
		{
			name: "ping carries nothing",
			raw:  `{"type":"ping"}`,
			want: nil,
		},
		{
			name: "message start carries nothing",
			raw:  `{"type":"message_start","message":{"id":"msg_1"}}`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, translateSSE(decodeSSE(t, tt.raw)))
		})
	}
}

func TestTranslateSSEError(t *testing.T) {
	events := translateSSE(decodeSSE(t,
		`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)

	var apiErr *APIError
	require.ErrorAs(t, events[0].Err, &apiErr)
	assert.Equal(t, "overloaded_error", apiErr.Type)
	assert.Equal(t, "Overloaded", apiErr.Message)
}

func TestParseAPIError(t *testing.T) {
	err := parseAPIError(429, []byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	assert.Equal(t, 429, err.StatusCode)
	assert.Equal(t, "rate_limit_error", err.Type)
	assert.Equal(t, "slow down", err.Message)

	// Non-JSON bodies fall back to the raw text.
	err = parseAPIError(502, []byte("Bad Gateway\n"))
	assert.Equal(t, 502, err.StatusCode)
	assert.Equal(t, "Bad Gateway", err.Message)
}

func TestBuildUserMessage(t *testing.T) {
	msg := buildUserMessage([]*genai.Part{
		genai.NewPartFromText("look at this"),
		{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{1, 2, 3}}},
	})
	assert.Equal(t, "user", msg["role"])

	blocks := msg["content"].([]map[string]any)
	require.Len(t, blocks, 2)
	assert.Equal(t, "text", blocks[0]["type"])
	assert.Equal(t, "image", blocks[1]["type"])
}

func TestBuildUserMessageToolResults(t *testing.T) {
	msg := buildUserMessage([]*genai.Part{
		{FunctionResponse: &genai.FunctionResponse{
			ID:       "toolu_1",
			Name:     "read_file",
			Response: map[string]any{"content": "file text", "success": true},
		}},
	})

	blocks := msg["content"].([]map[string]any)
	require.Len(t, blocks, 1)
	assert.Equal(t, "tool_result", blocks[0]["type"])
	assert.Equal(t, "toolu_1", blocks[0]["tool_use_id"])
	assert.Equal(t, "file text", blocks[0]["content"])
}

func TestBuildAssistantMessageToolUse(t *testing.T) {
	msg := buildAssistantMessage([]*genai.Part{
		genai.NewPartFromText("calling a tool"),
		{FunctionCall: &genai.FunctionCall{ID: "toolu_2", Name: "run_command", Args: map[string]any{"command": "ls"}}},
	})
	assert.Equal(t, "assistant", msg["role"])

	blocks := msg["content"].([]map[string]any)
	require.Len(t, blocks, 2)
	assert.Equal(t, "tool_use", blocks[1]["type"])
	assert.Equal(t, "run_command", blocks[1]["name"])
	assert.Equal(t, map[string]any{"command": "ls"}, blocks[1]["input"])
}

func TestResultContentPrecedence(t *testing.T) {
	assert.Equal(t, "Error: boom", resultContent(map[string]any{"error": "boom", "content": "x"}))
	assert.Equal(t, "x", resultContent(map[string]any{"content": "x"}))
	assert.Contains(t, resultContent(map[string]any{"data": map[string]any{"k": "v"}}), `"k"`)
	assert.Equal(t, "Operation completed", resultContent(map[string]any{}))
}

func TestConvertToolsNilSchema(t *testing.T) {
	out := convertTools([]*genai.FunctionDeclaration{{Name: "ping", Description: "check"}})
	require.Len(t, out, 1)
	assert.Equal(t, "ping", out[0]["name"])
	assert.Equal(t, map[string]any{"type": "object"}, out[0]["input_schema"])
}

func TestSchemaToJSON(t *testing.T) {
	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"path": {Type: genai.TypeString, Description: "file path"},
		},
		Required: []string{"path"},
	}

	out := schemaToJSON(schema)
	assert.Equal(t, "object", out["type"])
	props := out["properties"].(map[string]any)
	path := props["path"].(map[string]any)
	assert.Equal(t, "string", path["type"])
	assert.Equal(t, []string{"path"}, out["required"])
}
