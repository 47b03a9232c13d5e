package provider

import (
	"encoding/json"
	"strings"

	"google.golang.org/genai"

	"deskmate/internal/logging"
)

// MalformedArgsKey marks a tool invocation whose argument JSON could
// not be parsed. The call is finalized anyway so the executor can
// report the failure back to the model instead of dropping the call.
const MalformedArgsKey = "__malformed_args__"

// InterruptedMarker is appended to buffered text when a stream is
// cancelled mid-flight. The partial content is still committed.
const InterruptedMarker = "\n[interrupted]"

// assemblerState tracks what the assembler is currently buffering.
type assemblerState int

const (
	stateIdle assemblerState = iota
	stateBufferingText
	stateBufferingToolArgs
	stateBufferingThinking
)

// Assembler consumes the provider's ordered event stream and rebuilds
// the finalized content blocks: text spans and tool invocations with
// their accumulated JSON arguments. Thinking deltas are never buffered;
// the caller forwards those live.
type Assembler struct {
	state    assemblerState
	textBuf  strings.Builder
	toolID   string
	toolName string
	argBuf   strings.Builder
	parts    []*genai.Part
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Feed processes one stream event.
func (a *Assembler) Feed(ev Event) {
	switch ev.Type {
	case EventBlockStart:
		switch ev.Block {
		case BlockToolUse:
			a.flushText()
			a.state = stateBufferingToolArgs
			a.toolID = ev.ToolID
			a.toolName = ev.ToolName
			a.argBuf.Reset()
		case BlockThinking:
			a.state = stateBufferingThinking
		default:
			a.state = stateBufferingText
		}

	case EventTextDelta:
		// Tolerate providers that skip the explicit block-start.
		if a.state == stateIdle {
			a.state = stateBufferingText
		}
		a.textBuf.WriteString(ev.Text)

	case EventThinkingDelta:
		// Side channel only; nothing to buffer.

	case EventArgDelta:
		if a.state == stateBufferingToolArgs {
			a.argBuf.WriteString(ev.Text)
		}

	case EventBlockStop:
		switch a.state {
		case stateBufferingToolArgs:
			a.finalizeTool()
		case stateBufferingText:
			a.flushText()
		}
		a.state = stateIdle

	case EventMessageStop:
		if a.state == stateBufferingToolArgs {
			a.finalizeTool()
		}
		a.flushText()
		a.state = stateIdle
	}
}

// flushText finalizes any buffered text span into a text block.
func (a *Assembler) flushText() {
	if a.textBuf.Len() == 0 {
		return
	}
	a.parts = append(a.parts, genai.NewPartFromText(a.textBuf.String()))
	a.textBuf.Reset()
}

// finalizeTool closes the open tool invocation, parsing its buffered
// argument JSON. A parse failure yields a sentinel payload rather than
// a dropped call.
func (a *Assembler) finalizeTool() {
	raw := a.argBuf.String()

	var args map[string]any
	if raw == "" {
		args = map[string]any{}
	} else if err := json.Unmarshal([]byte(raw), &args); err != nil {
		logging.Warn("tool arguments failed to parse",
			"tool", a.toolName, "error", err)
		args = map[string]any{
			MalformedArgsKey: err.Error(),
			"raw":            raw,
		}
	}

	a.parts = append(a.parts, &genai.Part{FunctionCall: &genai.FunctionCall{
		ID:   a.toolID,
		Name: a.toolName,
		Args: args,
	}})

	a.toolID = ""
	a.toolName = ""
	a.argBuf.Reset()
}

// Finalize returns the assembled blocks after a normal message end.
func (a *Assembler) Finalize() []*genai.Part {
	a.flushText()
	return a.parts
}

// FinalizeInterrupted commits whatever was assembled when the stream
// was cancelled: buffered text gets an explicit interruption marker, a
// half-received tool call is finalized with the malformed-args
// sentinel, and the partial result is returned for history.
func (a *Assembler) FinalizeInterrupted() []*genai.Part {
	if a.state == stateBufferingToolArgs {
		a.argBuf.Reset()
		a.parts = append(a.parts, &genai.Part{FunctionCall: &genai.FunctionCall{
			ID:   a.toolID,
			Name: a.toolName,
			Args: map[string]any{MalformedArgsKey: "stream interrupted before arguments completed"},
		}})
		a.toolID = ""
		a.toolName = ""
	}

	if a.textBuf.Len() > 0 {
		a.textBuf.WriteString(InterruptedMarker)
		a.flushText()
	} else if len(a.parts) == 0 {
		a.parts = append(a.parts, genai.NewPartFromText(strings.TrimSpace(InterruptedMarker)))
	}

	a.state = stateIdle
	return a.parts
}

// ToolCalls returns the tool invocations among the assembled blocks.
func ToolCalls(parts []*genai.Part) []*genai.FunctionCall {
	var calls []*genai.FunctionCall
	for _, p := range parts {
		if p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}
