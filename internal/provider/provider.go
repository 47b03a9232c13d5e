// Package provider implements the model-provider transport: streaming
// chat completion with tool calls, delivered as an ordered sequence of
// typed events, plus the assembler that reconstructs content blocks
// from that stream.
package provider

import (
	"context"

	"google.golang.org/genai"
)

// Request describes one streaming completion call.
type Request struct {
	Model     string
	MaxTokens int32

	// System is the system prompt text, passed via the API's native
	// system parameter rather than injected into history.
	System string

	// History is the ordered conversation so far.
	History []*genai.Content

	// Tools is the full tool schema for this turn.
	Tools []*genai.FunctionDeclaration
}

// Provider is a streaming chat-completion backend. The returned channel
// is closed when the stream ends; the cancellation context is passed
// through to the transport so an abort tears down the request itself.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}
