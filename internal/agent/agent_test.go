package agent

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"deskmate/internal/chat"
	"deskmate/internal/confirm"
	"deskmate/internal/events"
	"deskmate/internal/provider"
	"deskmate/internal/skills"
	"deskmate/internal/tools"
	"deskmate/internal/trust"
)

// scriptedProvider replays one event script per Stream call. When the
// script runs out it repeats the last entry, so an always-tool-calling
// model is a one-line script.
type scriptedProvider struct {
	mu      sync.Mutex
	scripts [][]provider.Event
	calls   int

	// block, when set, holds the stream open until the context dies.
	block bool

	// holds keeps the stream for a given call index open until its
	// channel is closed, even across context cancellation.
	holds map[int]chan struct{}
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	hold := p.holds[idx]
	if idx >= len(p.scripts) {
		idx = len(p.scripts) - 1
	}
	script := p.scripts[idx]
	block := p.block
	p.mu.Unlock()

	out := make(chan provider.Event, len(script)+1)
	go func() {
		defer close(out)
		for _, ev := range script {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if hold != nil {
			<-hold
			return
		}
		if block {
			<-ctx.Done()
		}
	}()
	return out, nil
}

func (p *scriptedProvider) streamCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func textScript(text string) []provider.Event {
	return []provider.Event{
		{Type: provider.EventBlockStart, Block: provider.BlockText},
		{Type: provider.EventTextDelta, Text: text},
		{Type: provider.EventBlockStop},
		{Type: provider.EventMessageStop},
	}
}

func toolScript(id, name, argJSON string) []provider.Event {
	return []provider.Event{
		{Type: provider.EventBlockStart, Block: provider.BlockToolUse, ToolID: id, ToolName: name},
		{Type: provider.EventArgDelta, Text: argJSON},
		{Type: provider.EventBlockStop},
		{Type: provider.EventMessageStop},
	}
}

func newTestAgent(t *testing.T, p provider.Provider) (*Agent, *events.Bus, string) {
	t.Helper()

	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	store := trust.NewMemoryStore()
	_, err = store.AddFolder(dir)
	require.NoError(t, err)
	require.NoError(t, store.SetFolderLevel(dir, trust.LevelTrust))

	bus := events.NewBus()
	broker := confirm.NewBroker(bus)
	registry := skills.NewRegistry(filepath.Join(dir, "skills"))
	executor := tools.NewExecutor(store, trust.NewAuthorizer(store), broker, bus, registry, nil, time.Minute)

	ag := New(chat.NewSession(), p, executor, broker, bus, store, registry, nil, "test-model", 1024)
	return ag, bus, dir
}

func TestProcessUserMessageTextOnly(t *testing.T) {
	p := &scriptedProvider{scripts: [][]provider.Event{textScript("Hello there.")}}
	ag, bus, _ := newTestAgent(t, p)

	var tokens string
	done := false
	bus.Subscribe(func(ev events.Event) {
		switch ev.Type {
		case events.StreamToken:
			tokens += ev.Payload.(string)
		case events.Done:
			done = true
		}
	})

	err := ag.ProcessUserMessage(context.Background(), "hi", nil)
	require.NoError(t, err)

	assert.Equal(t, "Hello there.", tokens)
	assert.True(t, done)
	assert.False(t, ag.IsProcessing())

	history := ag.Session().History()
	require.Len(t, history, 2)
	assert.Equal(t, genai.RoleUser, history[0].Role)
	assert.Equal(t, genai.RoleModel, history[1].Role)
	assert.Equal(t, "Hello there.", history[1].Parts[0].Text)
}

func TestProcessUserMessageToolRoundTrip(t *testing.T) {
	p := &scriptedProvider{}
	ag, _, dir := newTestAgent(t, p)

	path := filepath.Join(dir, "greeting.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello from disk"), 0o644))

	p.scripts = [][]provider.Event{
		toolScript("toolu_1", "read_file", `{"path":"`+path+`"}`),
		textScript("The file says hello."),
	}

	err := ag.ProcessUserMessage(context.Background(), "what does greeting.txt say?", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, p.streamCount())

	// user, model tool call, user tool result, model answer
	history := ag.Session().History()
	require.Len(t, history, 4)

	call := history[1].Parts[0].FunctionCall
	require.NotNil(t, call)
	assert.Equal(t, "read_file", call.Name)

	resp := history[2].Parts[0].FunctionResponse
	require.NotNil(t, resp)
	assert.Equal(t, "toolu_1", resp.ID)
	assert.Equal(t, "hello from disk", resp.Response["content"])

	assert.Equal(t, "The file says hello.", history[3].Parts[0].Text)
}

func TestRunLoopIterationBound(t *testing.T) {
	// A model that calls a tool on every turn never terminates on its
	// own; the loop must cut it off.
	p := &scriptedProvider{scripts: [][]provider.Event{
		toolScript("toolu_x", "list_directory", `{}`),
	}}
	ag, bus, _ := newTestAgent(t, p)

	var errMsg string
	bus.Subscribe(func(ev events.Event) {
		if ev.Type == events.ErrorOccurred {
			errMsg = ev.Payload.(string)
		}
	})

	err := ag.ProcessUserMessage(context.Background(), "loop forever", nil)
	require.Error(t, err)
	assert.Contains(t, errMsg, "Stopped after 30")
	assert.Equal(t, 30, p.streamCount())
	assert.False(t, ag.IsProcessing())
}

func TestProcessUserMessageRejectsConcurrent(t *testing.T) {
	p := &scriptedProvider{
		scripts: [][]provider.Event{{{Type: provider.EventTextDelta, Text: "partial"}}},
		block:   true,
	}
	ag, _, _ := newTestAgent(t, p)

	started := make(chan struct{})
	finished := make(chan error, 1)
	go func() {
		close(started)
		finished <- ag.ProcessUserMessage(context.Background(), "first", nil)
	}()
	<-started
	require.Eventually(t, ag.IsProcessing, time.Second, time.Millisecond)

	err := ag.ProcessUserMessage(context.Background(), "second", nil)
	assert.ErrorIs(t, err, ErrAlreadyProcessing)

	ag.Abort()
	require.NoError(t, <-finished)
}

func TestAbortCommitsPartialOutput(t *testing.T) {
	p := &scriptedProvider{
		scripts: [][]provider.Event{{
			{Type: provider.EventBlockStart, Block: provider.BlockText},
			{Type: provider.EventTextDelta, Text: "I was about to say"},
		}},
		block: true,
	}
	ag, bus, _ := newTestAgent(t, p)

	aborted := false
	bus.Subscribe(func(ev events.Event) {
		if ev.Type == events.Aborted {
			aborted = true
		}
	})

	finished := make(chan error, 1)
	go func() {
		finished <- ag.ProcessUserMessage(context.Background(), "go on", nil)
	}()
	require.Eventually(t, ag.IsProcessing, time.Second, time.Millisecond)

	// Give the stream a moment to deliver the partial text.
	time.Sleep(50 * time.Millisecond)
	ag.Abort()
	require.NoError(t, <-finished)
	assert.True(t, aborted)
	assert.False(t, ag.IsProcessing())

	history := ag.Session().History()
	require.Len(t, history, 2)
	assert.Contains(t, history[1].Parts[0].Text, provider.InterruptedMarker)
}

func TestAbortedRunCleanupKeepsNewerRunProcessing(t *testing.T) {
	// Abort resets the guard synchronously, so a second message may
	// start while the first run's stream is still draining. When the
	// first run finally unwinds, its cleanup must not clear the
	// second run's processing state.
	release := make(chan struct{})
	p := &scriptedProvider{
		scripts: [][]provider.Event{{{Type: provider.EventTextDelta, Text: "partial"}}},
		block:   true,
		holds:   map[int]chan struct{}{0: release},
	}
	ag, _, _ := newTestAgent(t, p)

	first := make(chan error, 1)
	go func() {
		first <- ag.ProcessUserMessage(context.Background(), "first", nil)
	}()
	require.Eventually(t, ag.IsProcessing, time.Second, time.Millisecond)

	ag.Abort()
	require.Eventually(t, func() bool { return !ag.IsProcessing() }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() {
		second <- ag.ProcessUserMessage(context.Background(), "second", nil)
	}()
	require.Eventually(t, ag.IsProcessing, time.Second, time.Millisecond)

	// Drain the aborted run.
	close(release)
	require.NoError(t, <-first)

	time.Sleep(50 * time.Millisecond)
	assert.True(t, ag.IsProcessing(), "second run lost its processing state when the aborted run unwound")

	ag.Abort()
	require.NoError(t, <-second)
}

func TestContentSafetyTriggersCorrectiveRetry(t *testing.T) {
	p := &scriptedProvider{scripts: [][]provider.Event{
		{{Type: provider.EventError, Err: &provider.APIError{
			StatusCode: 400, Type: "content_policy_violation", Message: "rejected",
		}}},
		textScript("Here is a compliant answer."),
	}}
	ag, _, _ := newTestAgent(t, p)

	err := ag.ProcessUserMessage(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, p.streamCount())

	// user, corrective user message, model answer
	history := ag.Session().History()
	require.Len(t, history, 3)
	assert.Equal(t, genai.RoleUser, history[1].Role)
	assert.Contains(t, history[1].Parts[0].Text, "content safety")
	assert.Equal(t, "Here is a compliant answer.", history[2].Parts[0].Text)
}

func TestProviderErrorSurfaces(t *testing.T) {
	p := &scriptedProvider{scripts: [][]provider.Event{
		{{Type: provider.EventError, Err: &provider.APIError{StatusCode: 401}}},
	}}
	ag, bus, _ := newTestAgent(t, p)

	var errMsg string
	bus.Subscribe(func(ev events.Event) {
		if ev.Type == events.ErrorOccurred {
			errMsg = ev.Payload.(string)
		}
	})

	err := ag.ProcessUserMessage(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Contains(t, errMsg, "Authentication failed")
	assert.False(t, ag.IsProcessing())
}
