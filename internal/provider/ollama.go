package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"google.golang.org/genai"

	"deskmate/internal/logging"
)

// OllamaConfig configures the local Ollama transport.
type OllamaConfig struct {
	BaseURL     string // defaults to http://localhost:11434
	MaxRetries  int
	RetryDelay  time.Duration
	HTTPTimeout time.Duration
}

// Ollama streams completions from a local Ollama server. Tool calls
// arrive whole rather than as argument deltas, so the stream
// synthesizes the block events the assembler expects.
type Ollama struct {
	cfg    OllamaConfig
	client *api.Client
}

// NewOllama validates the config and creates the provider.
func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
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

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if baseURL.Scheme == "http" {
		host := baseURL.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			logging.Warn("ollama connection uses unencrypted HTTP to remote host", "host", host)
		}
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	return &Ollama{
		cfg:    cfg,
		client: api.NewClient(baseURL, httpClient),
	}, nil
}

func (o *Ollama) Name() string { return "ollama" }

// Stream runs the chat request and emits the typed event stream.
// Connection failures before any output retry with backoff; once
// streaming has begun an error ends the stream.
func (o *Ollama) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: o.convertHistory(req),
		Stream:   ptr(true),
		Options: map[string]any{
			"num_predict": req.MaxTokens,
		},
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToolsToOllama(req.Tools)
	}

	out := make(chan Event, 16)
	go o.run(ctx, chatReq, out)
	return out, nil
}

func (o *Ollama) run(ctx context.Context, chatReq *api.ChatRequest, out chan<- Event) {
	defer close(out)

	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := o.cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
			logging.Info("retrying ollama request", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		emitted := false
		textOpen := false
		toolIndex := 0

		err := o.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				if !textOpen {
					if !send(Event{Type: EventBlockStart, Block: BlockText}) {
						return ctx.Err()
					}
					textOpen = true
				}
				if !send(Event{Type: EventTextDelta, Text: resp.Message.Content}) {
					return ctx.Err()
				}
				emitted = true
			}

			// Ollama delivers each tool call complete, so replay it as
			// the start/delta/stop sequence the assembler consumes.
			for _, tc := range resp.Message.ToolCalls {
				if textOpen {
					if !send(Event{Type: EventBlockStop}) {
						return ctx.Err()
					}
					textOpen = false
				}

				id := tc.ID
				if id == "" {
					id = fmt.Sprintf("call_%d", toolIndex)
				}
				toolIndex++

				args, err := json.Marshal(tc.Function.Arguments.ToMap())
				if err != nil {
					args = []byte("{}")
				}

				for _, ev := range []Event{
					{Type: EventBlockStart, Block: BlockToolUse, ToolID: id, ToolName: tc.Function.Name},
					{Type: EventArgDelta, Text: string(args)},
					{Type: EventBlockStop},
				} {
					if !send(ev) {
						return ctx.Err()
					}
				}
				emitted = true
			}

			if resp.Done {
				if textOpen {
					if !send(Event{Type: EventBlockStop}) {
						return ctx.Err()
					}
					textOpen = false
				}
				send(Event{Type: EventMessageStop})
			}
			return nil
		})

		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		lastErr = wrapOllamaError(err)

		// Never retry once output reached the caller.
		if emitted || !ollamaRetryable(err) {
			send(Event{Type: EventError, Err: lastErr})
			return
		}
		logging.Warn("ollama request failed, will retry", "attempt", attempt, "error", err)
	}

	send(Event{Type: EventError, Err: fmt.Errorf("max retries (%d) exceeded: %w", o.cfg.MaxRetries, lastErr)})
}

// convertHistory maps the conversation to Ollama chat messages. The
// system prompt leads as a system-role message; tool results become
// tool-role messages.
func (o *Ollama) convertHistory(req Request) []api.Message {
	messages := make([]api.Message, 0, len(req.History)+1)
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}

	for _, content := range req.History {
		role := "user"
		if content.Role == genai.RoleModel {
			role = "assistant"
		}

		var textParts []string
		var toolCalls []api.ToolCall
		var toolResults []api.Message

		for _, part := range content.Parts {
			switch {
			case part.Text != "":
				textParts = append(textParts, part.Text)

			case part.FunctionCall != nil:
				args := api.NewToolCallFunctionArguments()
				for k, v := range part.FunctionCall.Args {
					args.Set(k, v)
				}
				toolCalls = append(toolCalls, api.ToolCall{
					ID: part.FunctionCall.ID,
					Function: api.ToolCallFunction{
						Name:      part.FunctionCall.Name,
						Arguments: args,
					},
				})

			case part.FunctionResponse != nil:
				toolResults = append(toolResults, api.Message{
					Role:       "tool",
					Content:    resultContent(part.FunctionResponse.Response),
					ToolName:   part.FunctionResponse.Name,
					ToolCallID: part.FunctionResponse.ID,
				})
			}
		}

		if len(textParts) > 0 || len(toolCalls) > 0 {
			messages = append(messages, api.Message{
				Role:      role,
				Content:   strings.Join(textParts, "\n"),
				ToolCalls: toolCalls,
			})
		}
		messages = append(messages, toolResults...)
	}

	return messages
}

// convertToolsToOllama maps tool declarations to the Ollama tool
// schema.
func convertToolsToOllama(decls []*genai.FunctionDeclaration) []api.Tool {
	tools := make([]api.Tool, 0, len(decls))
	for _, decl := range decls {
		params := api.ToolFunctionParameters{
			Type:       "object",
			Properties: api.NewToolPropertiesMap(),
		}

		if decl.Parameters != nil {
			params.Required = decl.Parameters.Required
			for name, schema := range decl.Parameters.Properties {
				prop := api.ToolProperty{Description: schema.Description}
				if schema.Type != "" {
					prop.Type = api.PropertyType{strings.ToLower(string(schema.Type))}
				}
				if len(schema.Enum) > 0 {
					enumVals := make([]any, len(schema.Enum))
					for i, v := range schema.Enum {
						enumVals[i] = v
					}
					prop.Enum = enumVals
				}
				params.Properties.Set(name, prop)
			}
		}

		tools = append(tools, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

// ollamaRetryable reports whether an Ollama error is worth retrying.
func ollamaRetryable(err error) bool {
	var statusErr *api.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	return isRetryable(err, 0)
}

// wrapOllamaError maps common Ollama failures to APIError so the
// caller's status-based categorization applies, and attaches guidance
// for the local-server cases.
func wrapOllamaError(err error) error {
	if err == nil {
		return nil
	}

	var statusErr *api.StatusError
	if errors.As(err, &statusErr) {
		msg := statusErr.ErrorMessage
		if statusErr.StatusCode == 404 {
			msg = "model is not installed; pull it with `ollama pull <model>`"
		}
		return &APIError{StatusCode: statusErr.StatusCode, Message: msg}
	}

	if strings.Contains(err.Error(), "connection refused") {
		return fmt.Errorf("ollama server is not running (start it with `ollama serve`): %w", err)
	}
	return err
}

func ptr[T any](v T) *T { return &v }
