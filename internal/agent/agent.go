// Package agent drives the multi-turn, streaming, tool-using
// conversation loop: one Agent per UI surface, each with its own
// session and cancellation state.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"

	"deskmate/internal/chat"
	"deskmate/internal/confirm"
	"deskmate/internal/events"
	"deskmate/internal/logging"
	"deskmate/internal/mcp"
	"deskmate/internal/provider"
	"deskmate/internal/skills"
	"deskmate/internal/tools"
	"deskmate/internal/trust"
)

// ErrAlreadyProcessing is returned when a message arrives while the
// previous one is still being processed.
var ErrAlreadyProcessing = errors.New("a message is already being processed")

const (
	// maxIterations bounds the tool-calling loop so a pathological
	// model cannot spin forever.
	maxIterations = 30

	// staleProcessingTimeout is the watchdog interval after which a
	// stuck processing flag is treated as crash leftovers and reset.
	staleProcessingTimeout = 60 * time.Second
)

// Image is an inline image attached to a user message.
type Image struct {
	MIMEType string
	Data     []byte
}

// Agent owns one conversation loop.
type Agent struct {
	session  *chat.Session
	provider provider.Provider
	executor *tools.Executor
	broker   *confirm.Broker
	bus      *events.Bus
	store    *trust.Store
	skills   *skills.Registry
	servers  *mcp.Manager

	model     string
	maxTokens int32

	mu           sync.Mutex
	processing   bool
	lastActivity time.Time
	cancel       context.CancelFunc

	// generation identifies the run that currently owns the
	// processing flag. A run's cleanup only clears state while its
	// generation is still current, so a drained stream from an
	// aborted run cannot reset the guard out from under a newer run.
	generation uint64
}

// New wires an agent. The executor's artifact callback is bound to
// the session here so written files land in the session record.
func New(session *chat.Session, p provider.Provider, executor *tools.Executor, broker *confirm.Broker, bus *events.Bus, store *trust.Store, registry *skills.Registry, servers *mcp.Manager, model string, maxTokens int32) *Agent {
	executor.OnArtifact = session.AddArtifact
	return &Agent{
		session:   session,
		provider:  p,
		executor:  executor,
		broker:    broker,
		bus:       bus,
		store:     store,
		skills:    registry,
		servers:   servers,
		model:     model,
		maxTokens: maxTokens,
	}
}

// Session returns the agent's conversation session.
func (a *Agent) Session() *chat.Session { return a.session }

// IsProcessing reports whether a message is currently being handled.
func (a *Agent) IsProcessing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.processing
}

// ProcessUserMessage runs the full turn loop for one user message.
// Only one invocation may be active; a stale processing flag older
// than the watchdog interval is force-reset and the call proceeds.
func (a *Agent) ProcessUserMessage(ctx context.Context, text string, images []Image) error {
	a.mu.Lock()
	if a.processing {
		if time.Since(a.lastActivity) < staleProcessingTimeout {
			a.mu.Unlock()
			return ErrAlreadyProcessing
		}
		logging.Warn("stale processing state detected, forcing reset",
			"idle", time.Since(a.lastActivity))
		if a.cancel != nil {
			a.cancel()
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.processing = true
	a.lastActivity = time.Now()
	a.cancel = cancel
	a.generation++
	gen := a.generation
	a.mu.Unlock()

	defer func() {
		cancel()
		a.mu.Lock()
		owner := a.generation == gen
		if owner {
			a.processing = false
			a.cancel = nil
		}
		a.mu.Unlock()
		if owner {
			a.bus.Emit(events.Done, a.session.ID)
		}
	}()

	a.session.AddContent(userContent(text, images))
	a.bus.Emit(events.HistoryUpdated, a.session.ID)

	return a.runLoop(runCtx)
}

// runLoop executes turns until the model stops calling tools, an
// error surfaces, the iteration bound hits, or cancellation fires.
func (a *Agent) runLoop(ctx context.Context) error {
	for iteration := 0; iteration < maxIterations; iteration++ {
		a.touch()

		req := provider.Request{
			Model:     a.model,
			MaxTokens: a.maxTokens,
			System:    a.systemPrompt(),
			History:   a.session.History(),
			Tools:     tools.Declarations(a.skills, a.servers),
		}

		stream, err := a.provider.Stream(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return a.handleProviderError(err)
		}

		parts, streamErr, interrupted := a.consumeStream(ctx, stream)

		if interrupted {
			if len(parts) > 0 {
				a.commitModelParts(parts)
			}
			return nil
		}
		if streamErr != nil {
			if provider.IsContentSafety(streamErr) {
				logging.Warn("content-safety rejection, injecting corrective retry")
				a.session.AddContent(genai.NewContentFromText(
					"Your previous response was rejected by a content safety filter. "+
						"Rephrase your answer to comply with the content policy and try again.",
					genai.RoleUser))
				continue
			}
			return a.handleProviderError(streamErr)
		}

		if len(parts) > 0 {
			a.commitModelParts(parts)
		}

		calls := provider.ToolCalls(parts)
		if len(calls) == 0 {
			return nil
		}

		results := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			if ctx.Err() != nil {
				return nil
			}
			a.touch()
			logging.Debug("executing tool", "tool", call.Name, "id", call.ID)
			results = append(results, a.executor.Execute(ctx, call))
		}

		a.session.AddContent(&genai.Content{Role: genai.RoleUser, Parts: results})
		a.bus.Emit(events.HistoryUpdated, a.session.ID)
	}

	msg := fmt.Sprintf("Stopped after %d tool-calling turns without a final answer.", maxIterations)
	a.bus.Emit(events.ErrorOccurred, msg)
	return errors.New(msg)
}

// consumeStream feeds provider events into the assembler while
// forwarding live deltas. It reports the finalized parts, any stream
// error, and whether cancellation interrupted the stream.
func (a *Agent) consumeStream(ctx context.Context, stream <-chan provider.Event) ([]*genai.Part, error, bool) {
	assembler := provider.NewAssembler()
	var streamErr error
	finished := false

	for ev := range stream {
		if ctx.Err() != nil {
			return assembler.FinalizeInterrupted(), nil, true
		}
		a.touch()

		switch ev.Type {
		case provider.EventTextDelta:
			a.bus.Emit(events.StreamToken, ev.Text)
		case provider.EventThinkingDelta:
			a.bus.Emit(events.StreamThinking, ev.Text)
		case provider.EventError:
			streamErr = ev.Err
		case provider.EventMessageStop:
			finished = true
		}
		assembler.Feed(ev)
	}

	if ctx.Err() != nil && !finished {
		return assembler.FinalizeInterrupted(), nil, true
	}
	if streamErr != nil {
		return nil, streamErr, false
	}
	return assembler.Finalize(), nil, false
}

func (a *Agent) commitModelParts(parts []*genai.Part) {
	a.session.AddContent(&genai.Content{Role: genai.RoleModel, Parts: parts})
	a.bus.Emit(events.HistoryUpdated, a.session.ID)
}

func (a *Agent) handleProviderError(err error) error {
	msg := provider.Categorize(err)
	logging.Error("provider error", "error", err)
	a.bus.Emit(events.ErrorOccurred, msg)
	return err
}

// Abort cancels the in-flight turn, denies every pending
// confirmation, and resets to idle without waiting for the provider
// call to acknowledge.
func (a *Agent) Abort() {
	a.mu.Lock()
	cancel := a.cancel
	a.processing = false
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.broker.CancelAll()
	a.bus.Emit(events.Aborted, a.session.ID)
}

func (a *Agent) touch() {
	a.mu.Lock()
	a.lastActivity = time.Now()
	a.mu.Unlock()
}

func userContent(text string, images []Image) *genai.Content {
	var parts []*genai.Part
	if text != "" {
		parts = append(parts, genai.NewPartFromText(text))
	}
	for _, img := range images {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{
			MIMEType: img.MIMEType,
			Data:     img.Data,
		}})
	}
	if len(parts) == 0 {
		parts = append(parts, genai.NewPartFromText(""))
	}
	return &genai.Content{Role: genai.RoleUser, Parts: parts}
}
