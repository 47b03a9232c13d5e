package chat

import (
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// State is the serialized form of a session.
type State struct {
	ID         string             `json:"id"`
	StartTime  time.Time          `json:"start_time"`
	LastActive time.Time          `json:"last_active"`
	WorkDir    string             `json:"work_dir,omitempty"`
	History    []SerializedMessage `json:"history"`
	Artifacts  []string           `json:"artifacts,omitempty"`
}

// SerializedMessage is one history entry on disk.
type SerializedMessage struct {
	Role  string           `json:"role"`
	Parts []SerializedPart `json:"parts"`
}

// SerializedPart is one content block on disk.
type SerializedPart struct {
	Type         string          `json:"type"` // "text", "image", "function_call", "function_response"
	Text         string          `json:"text,omitempty"`
	MIMEType     string          `json:"mime_type,omitempty"`
	Data         string          `json:"data,omitempty"` // base64 for images
	FunctionCall *SerializedFunc `json:"function_call,omitempty"`
	FunctionResp *SerializedFunc `json:"function_response,omitempty"`
}

// SerializedFunc is a tool invocation or its result on disk.
type SerializedFunc struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Args     map[string]any `json:"args,omitempty"`
	Response map[string]any `json:"response,omitempty"`
}

// Info summarizes a saved session for listings.
type Info struct {
	ID           string    `json:"id"`
	StartTime    time.Time `json:"start_time"`
	LastActive   time.Time `json:"last_active"`
	MessageCount int       `json:"message_count"`
	WorkDir      string    `json:"work_dir,omitempty"`
}

// CaptureState snapshots the session for persistence.
func (s *Session) CaptureState() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := &State{
		ID:         s.ID,
		StartTime:  s.StartTime,
		LastActive: s.lastActive,
		WorkDir:    s.workDir,
		Artifacts:  append([]string(nil), s.artifacts...),
	}
	for _, content := range s.history {
		state.History = append(state.History, serializeMessage(content))
	}
	return state
}

// RestoreState rebuilds a session from its saved form.
func RestoreState(state *State) (*Session, error) {
	history := make([]*genai.Content, 0, len(state.History))
	for _, msg := range state.History {
		content, err := deserializeMessage(msg)
		if err != nil {
			return nil, err
		}
		history = append(history, content)
	}

	return &Session{
		ID:         state.ID,
		StartTime:  state.StartTime,
		lastActive: state.LastActive,
		workDir:    state.WorkDir,
		history:    history,
		artifacts:  append([]string(nil), state.Artifacts...),
	}, nil
}

func serializeMessage(content *genai.Content) SerializedMessage {
	msg := SerializedMessage{Role: content.Role}
	for _, part := range content.Parts {
		msg.Parts = append(msg.Parts, serializePart(part))
	}
	return msg
}

func serializePart(part *genai.Part) SerializedPart {
	switch {
	case part.FunctionCall != nil:
		return SerializedPart{
			Type: "function_call",
			FunctionCall: &SerializedFunc{
				ID:   part.FunctionCall.ID,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			},
		}
	case part.FunctionResponse != nil:
		return SerializedPart{
			Type: "function_response",
			FunctionResp: &SerializedFunc{
				ID:       part.FunctionResponse.ID,
				Name:     part.FunctionResponse.Name,
				Response: part.FunctionResponse.Response,
			},
		}
	case part.InlineData != nil:
		return SerializedPart{
			Type:     "image",
			MIMEType: part.InlineData.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(part.InlineData.Data),
		}
	default:
		return SerializedPart{Type: "text", Text: part.Text}
	}
}

func deserializeMessage(msg SerializedMessage) (*genai.Content, error) {
	parts := make([]*genai.Part, 0, len(msg.Parts))
	for _, sp := range msg.Parts {
		part, err := deserializePart(sp)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return &genai.Content{Role: msg.Role, Parts: parts}, nil
}

func deserializePart(sp SerializedPart) (*genai.Part, error) {
	switch sp.Type {
	case "text":
		return genai.NewPartFromText(sp.Text), nil
	case "image":
		data, err := base64.StdEncoding.DecodeString(sp.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid image data: %w", err)
		}
		return &genai.Part{InlineData: &genai.Blob{MIMEType: sp.MIMEType, Data: data}}, nil
	case "function_call":
		if sp.FunctionCall == nil {
			return nil, fmt.Errorf("function_call part missing payload")
		}
		return &genai.Part{FunctionCall: &genai.FunctionCall{
			ID:   sp.FunctionCall.ID,
			Name: sp.FunctionCall.Name,
			Args: sp.FunctionCall.Args,
		}}, nil
	case "function_response":
		if sp.FunctionResp == nil {
			return nil, fmt.Errorf("function_response part missing payload")
		}
		return &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       sp.FunctionResp.ID,
			Name:     sp.FunctionResp.Name,
			Response: sp.FunctionResp.Response,
		}}, nil
	default:
		return nil, fmt.Errorf("unknown part type %q", sp.Type)
	}
}
