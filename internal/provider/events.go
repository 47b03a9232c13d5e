package provider

// EventType identifies one streaming event from the model provider.
type EventType int

const (
	// EventBlockStart opens a new content block (text, thinking, or a
	// tool invocation with id and name).
	EventBlockStart EventType = iota
	// EventTextDelta appends text to the current text block.
	EventTextDelta
	// EventThinkingDelta carries live reasoning output. Forwarded as a
	// side channel, never persisted to history.
	EventThinkingDelta
	// EventArgDelta appends a raw JSON fragment to the open tool
	// invocation's argument buffer.
	EventArgDelta
	// EventBlockStop finalizes the current block.
	EventBlockStop
	// EventMessageStop ends the message.
	EventMessageStop
	// EventError carries a stream-level failure.
	EventError
)

// Block kinds reported by EventBlockStart.
const (
	BlockText     = "text"
	BlockThinking = "thinking"
	BlockToolUse  = "tool_use"
)

// Event is one element of the provider's ordered event stream.
type Event struct {
	Type EventType

	// Block is the block kind for EventBlockStart.
	Block string

	// ToolID and ToolName identify a tool_use block.
	ToolID   string
	ToolName string

	// Text holds the delta payload: text, thinking, or a raw argument
	// JSON fragment depending on Type.
	Text string

	// Err is set for EventError.
	Err error
}
