package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"deskmate/internal/logging"
	"deskmate/internal/security"
)

const anthropicVersion = "2023-06-01"

// AnthropicConfig configures the Anthropic messages-API transport.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string // defaults to https://api.anthropic.com
	MaxRetries  int
	RetryDelay  time.Duration
	HTTPTimeout time.Duration
}

// Anthropic streams completions from the Anthropic messages API over
// SSE. Custom BaseURLs are assumed to expose a compatible endpoint.
type Anthropic struct {
	cfg        AnthropicConfig
	httpClient *http.Client
}

// NewAnthropic validates the config and creates the provider.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("invalid base URL %q: must start with http:// or https://", cfg.BaseURL)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 120 * time.Second
	}

	return &Anthropic{
		cfg:        cfg,
		httpClient: security.NewHTTPClient(cfg.HTTPTimeout),
	}, nil
}

func (a *Anthropic) Name() string { return "anthropic" }

// Stream opens the SSE request and returns the typed event stream.
// Connection attempts retry with exponential backoff; once the stream
// is established, failures surface as an EventError.
func (a *Anthropic) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	body, err := a.buildRequestBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	var lastStatus int
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := a.cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
			logging.Info("retrying request", "attempt", attempt, "delay", delay, "last_status", lastStatus)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := a.doRequest(ctx, body)
		if err == nil {
			events := make(chan Event, 16)
			go a.readStream(ctx, resp, events)
			return events, nil
		}
		lastErr = err

		lastStatus = 0
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			lastStatus = apiErr.StatusCode
		}
		if !isRetryable(err, lastStatus) {
			return nil, err
		}
		logging.Warn("request failed, will retry", "attempt", attempt, "status", lastStatus, "error", err)
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", a.cfg.MaxRetries, lastErr)
}

// doRequest performs a single streaming request attempt.
func (a *Anthropic) doRequest(ctx context.Context, body []byte) (*http.Response, error) {
	url := strings.TrimSuffix(a.cfg.BaseURL, "/") + "/v1/messages"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			raw = nil
		}
		logging.Warn("anthropic API error", "status", resp.StatusCode, "body", string(raw))
		return nil, parseAPIError(resp.StatusCode, raw)
	}

	return resp, nil
}

// parseAPIError maps an error response body to an APIError, keeping
// the structured {type, message} payload when present.
func parseAPIError(statusCode int, body []byte) *APIError {
	var payload struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return &APIError{
			StatusCode: statusCode,
			Type:       payload.Error.Type,
			Message:    payload.Error.Message,
		}
	}
	return &APIError{StatusCode: statusCode, Message: strings.TrimSpace(string(body))}
}

// readStream scans the SSE body and translates Anthropic stream events
// into the provider event stream. The channel is closed when the
// message ends, the stream breaks, or the context is cancelled.
func (a *Anthropic) readStream(ctx context.Context, resp *http.Response, out chan<- Event) {
	defer close(out)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	// Tool argument deltas can push single SSE lines well past the
	// default scanner limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			logging.Debug("context cancelled, stopping stream processing")
			return
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				logging.Warn("SSE scanner error", "error", err)
				send(Event{Type: EventError, Err: err})
			}
			return
		}

		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			if data == "[DONE]" {
				send(Event{Type: EventMessageStop})
				return
			}
			continue
		}

		var raw map[string]any
		if err := json.Unmarshal([]byte(data), &raw); err != nil {
			logging.Warn("failed to parse SSE event", "error", err, "data", truncate(data, 200))
			continue
		}

		for _, ev := range translateSSE(raw) {
			if !send(ev) {
				return
			}
			if ev.Type == EventMessageStop || ev.Type == EventError {
				return
			}
		}
	}
}

// translateSSE converts one decoded Anthropic SSE event into zero or
// more provider events.
func translateSSE(event map[string]any) []Event {
	eventType, _ := event["type"].(string)

	switch eventType {
	case "content_block_start":
		block, _ := event["content_block"].(map[string]any)
		blockType, _ := block["type"].(string)
		ev := Event{Type: EventBlockStart, Block: blockType}
		if blockType == BlockToolUse {
			ev.ToolID, _ = block["id"].(string)
			ev.ToolName, _ = block["name"].(string)
		}
		return []Event{ev}

	case "content_block_delta":
		delta, _ := event["delta"].(map[string]any)
		deltaType, _ := delta["type"].(string)
		switch deltaType {
		case "text_delta":
			if text, _ := delta["text"].(string); text != "" {
				return []Event{{Type: EventTextDelta, Text: text}}
			}
		case "thinking_delta":
			if text, _ := delta["thinking"].(string); text != "" {
				return []Event{{Type: EventThinkingDelta, Text: text}}
			}
		case "input_json_delta":
			if fragment, _ := delta["partial_json"].(string); fragment != "" {
				return []Event{{Type: EventArgDelta, Text: fragment}}
			}
		}
		return nil

	case "content_block_stop":
		return []Event{{Type: EventBlockStop}}

	case "message_stop":
		return []Event{{Type: EventMessageStop}}

	case "error":
		errData, _ := event["error"].(map[string]any)
		errType, _ := errData["type"].(string)
		errMsg, _ := errData["message"].(string)
		logging.Error("API error event", "type", errType, "message", errMsg)
		return []Event{{Type: EventError, Err: &APIError{Type: errType, Message: errMsg}}}
	}

	// message_start, message_delta and ping carry nothing we stream.
	return nil
}

// buildRequestBody converts the request into the messages-API wire
// format.
func (a *Anthropic) buildRequestBody(req Request) ([]byte, error) {
	body := map[string]any{
		"model":      req.Model,
		"max_tokens": req.MaxTokens,
		"messages":   convertHistory(req.History),
		"stream":     true,
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if len(req.Tools) > 0 {
		body["tools"] = convertTools(req.Tools)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	logging.Debug("API request body", "body", truncate(string(data), 2000))
	return data, nil
}

// convertHistory maps the conversation to Anthropic messages. User
// turns carry text, images, and tool results; model turns carry text
// and tool invocations.
func convertHistory(history []*genai.Content) []map[string]any {
	messages := make([]map[string]any, 0, len(history))
	for _, content := range history {
		switch content.Role {
		case genai.RoleUser:
			messages = append(messages, buildUserMessage(content.Parts))
		case genai.RoleModel:
			messages = append(messages, buildAssistantMessage(content.Parts))
		}
	}
	return messages
}

func buildUserMessage(parts []*genai.Part) map[string]any {
	blocks := make([]map[string]any, 0, len(parts))
	for _, part := range parts {
		switch {
		case part.Text != "":
			blocks = append(blocks, map[string]any{"type": "text", "text": part.Text})

		case part.InlineData != nil:
			blocks = append(blocks, map[string]any{
				"type": "image",
				"source": map[string]any{
					"type":       "base64",
					"media_type": part.InlineData.MIMEType,
					"data":       base64.StdEncoding.EncodeToString(part.InlineData.Data),
				},
			})

		case part.FunctionResponse != nil:
			toolUseID := part.FunctionResponse.ID
			if toolUseID == "" {
				logging.Warn("tool result missing ID, using name as fallback", "name", part.FunctionResponse.Name)
				toolUseID = part.FunctionResponse.Name
			}
			blocks = append(blocks, map[string]any{
				"type":        "tool_result",
				"tool_use_id": toolUseID,
				"content":     resultContent(part.FunctionResponse.Response),
			})
		}
	}

	// The API rejects empty content arrays.
	if len(blocks) == 0 {
		blocks = append(blocks, map[string]any{"type": "text", "text": "Continue."})
	}
	return map[string]any{"role": "user", "content": blocks}
}

func buildAssistantMessage(parts []*genai.Part) map[string]any {
	blocks := make([]map[string]any, 0, len(parts))
	for _, part := range parts {
		switch {
		case part.Text != "":
			blocks = append(blocks, map[string]any{"type": "text", "text": part.Text})

		case part.FunctionCall != nil:
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			blocks = append(blocks, map[string]any{
				"type":  "tool_use",
				"id":    part.FunctionCall.ID,
				"name":  part.FunctionCall.Name,
				"input": args,
			})
		}
	}
	return map[string]any{"role": "assistant", "content": blocks}
}

// resultContent flattens a tool result payload to the string form the
// API expects.
func resultContent(resp map[string]any) string {
	if resp == nil {
		return "Operation completed"
	}
	if errStr, ok := resp["error"].(string); ok && errStr != "" {
		return "Error: " + errStr
	}
	if content, ok := resp["content"].(string); ok && content != "" {
		return content
	}
	if data, ok := resp["data"]; ok {
		if raw, err := json.Marshal(data); err == nil {
			return string(raw)
		}
	}
	return "Operation completed"
}

// convertTools maps tool declarations to the Anthropic tool schema.
func convertTools(decls []*genai.FunctionDeclaration) []map[string]any {
	tools := make([]map[string]any, 0, len(decls))
	for _, decl := range decls {
		schema := schemaToJSON(decl.Parameters)
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		tools = append(tools, map[string]any{
			"name":         decl.Name,
			"description":  decl.Description,
			"input_schema": schema,
		})
	}
	return tools
}

// schemaToJSON converts a genai.Schema to JSON Schema. genai uses
// uppercase type names while the API expects lowercase.
func schemaToJSON(schema *genai.Schema) map[string]any {
	if schema == nil {
		return nil
	}

	result := make(map[string]any)
	if schema.Type != "" {
		result["type"] = strings.ToLower(string(schema.Type))
	}
	if schema.Description != "" {
		result["description"] = schema.Description
	}
	if len(schema.Enum) > 0 {
		result["enum"] = schema.Enum
	}
	if len(schema.Properties) > 0 {
		props := make(map[string]any, len(schema.Properties))
		for name, prop := range schema.Properties {
			props[name] = schemaToJSON(prop)
		}
		result["properties"] = props
	}
	if len(schema.Required) > 0 {
		result["required"] = schema.Required
	}
	if schema.Items != nil {
		result["items"] = schemaToJSON(schema.Items)
	}
	return result
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
