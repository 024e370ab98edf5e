package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/ralphloop/backend"
)

// mockClient is a scriptable backend collaborator.
type mockClient struct {
	mu sync.Mutex

	startErr   error
	sessionErr error
	sendErr    error

	responseText  string
	reasoning     bool
	toolCalls     []backend.ToolCall
	exchangeErr   error
	responseDelay time.Duration

	sendCount        int
	started          bool
	stopped          bool
	sessionCreated   bool
	sessionDestroyed bool
}

func (m *mockClient) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started = true
	return nil
}

func (m *mockClient) CreateSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionErr != nil {
		return m.sessionErr
	}
	m.sessionCreated = true
	return nil
}

func (m *mockClient) DestroySession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionDestroyed = true
	return nil
}

func (m *mockClient) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

func (m *mockClient) SendPrompt(ctx context.Context, prompt string) (<-chan backend.Event, error) {
	m.mu.Lock()
	m.sendCount++
	if m.sendErr != nil {
		m.mu.Unlock()
		return nil, m.sendErr
	}
	delay := m.responseDelay
	text := m.responseText
	reasoning := m.reasoning
	calls := m.toolCalls
	exchangeErr := m.exchangeErr
	m.mu.Unlock()

	events := make(chan backend.Event, 16)
	go func() {
		defer close(events)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		if text != "" {
			events <- &backend.TextEvent{Content: text, Reasoning: reasoning}
		}
		for _, call := range calls {
			events <- &backend.ToolCallEvent{Call: call}
			events <- &backend.ToolResultEvent{Call: call, Result: "ok"}
		}
		if exchangeErr != nil {
			events <- &backend.ErrorEvent{Err: exchangeErr}
		}
	}()
	return events, nil
}

func (m *mockClient) sends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendCount
}

// drainEvents collects all buffered events after the run finished.
func drainEvents(e *Engine) []Event {
	var out []Event
	for ev := range e.Events() {
		out = append(out, ev)
	}
	return out
}

func eventsOfKind(events []Event, kind EventKind) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Kind() == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestEngineRunsToIterationCap(t *testing.T) {
	mock := &mockClient{responseText: "working on it"}
	cfg := &Config{Prompt: "Task", MaxIterations: 3, PromisePhrase: "Done"}
	eng := NewEngine(cfg, mock)

	result, err := eng.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateComplete, result.State)
	assert.Equal(t, 3, result.Iterations)
	assert.NoError(t, result.Err)
	assert.Equal(t, 3, mock.sends())
	assert.True(t, mock.sessionDestroyed)
	assert.True(t, mock.stopped)

	events := drainEvents(eng)
	assert.Len(t, eventsOfKind(events, KindIterationStart), 3)
	assert.Len(t, eventsOfKind(events, KindIterationComplete), 3)
	assert.Len(t, eventsOfKind(events, KindLoopComplete), 1)
}

func TestEngineFailOnMaxIterations(t *testing.T) {
	mock := &mockClient{responseText: "still going"}
	cfg := &Config{Prompt: "Task", MaxIterations: 2, FailOnMaxIterations: true}
	eng := NewEngine(cfg, mock)

	result, err := eng.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxIterations)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 2, result.Iterations)
}

func TestEngineCancellation(t *testing.T) {
	mock := &mockClient{responseText: "slow", responseDelay: 500 * time.Millisecond}
	cfg := &Config{Prompt: "Task", MaxIterations: 10}
	eng := NewEngine(cfg, mock)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := eng.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateCancelled, result.State)

	events := drainEvents(eng)
	assert.Len(t, eventsOfKind(events, KindLoopCancelled), 1)
}

func TestEngineCancelledBeforeFirstIteration(t *testing.T) {
	mock := &mockClient{responseText: "never sent"}
	cfg := &Config{Prompt: "Task", MaxIterations: 1}
	eng := NewEngine(cfg, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := eng.Start(ctx)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateCancelled, result.State)
	assert.Equal(t, 0, result.Iterations)
	assert.Equal(t, 0, mock.sends())
}

func TestEngineTimeout(t *testing.T) {
	mock := &mockClient{responseText: "slow", responseDelay: 500 * time.Millisecond}
	cfg := &Config{Prompt: "Task", MaxIterations: 10, Timeout: 50 * time.Millisecond}
	eng := NewEngine(cfg, mock)

	result, err := eng.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StateFailed, result.State)

	events := drainEvents(eng)
	assert.Len(t, eventsOfKind(events, KindLoopFailed), 1)
}

func TestEngineBackendStartFailure(t *testing.T) {
	mock := &mockClient{startErr: errors.New("boom")}
	cfg := &Config{Prompt: "Task", MaxIterations: 3}
	eng := NewEngine(cfg, mock)

	result, err := eng.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start backend")
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 0, result.Iterations)
	assert.Equal(t, 0, mock.sends())

	events := drainEvents(eng)
	assert.Empty(t, eventsOfKind(events, KindIterationStart))
	assert.Len(t, eventsOfKind(events, KindLoopFailed), 1)
}

func TestEnginePromiseDoesNotStopLoop(t *testing.T) {
	mock := &mockClient{responseText: "making progress <promise>Done</promise>"}
	cfg := &Config{Prompt: "Task", MaxIterations: 5, PromisePhrase: "Done"}
	eng := NewEngine(cfg, mock)

	result, err := eng.Start(context.Background())
	require.NoError(t, err)

	// The promise is surfaced every iteration but never ends the run early.
	assert.Equal(t, StateComplete, result.State)
	assert.Equal(t, 5, result.Iterations)

	events := drainEvents(eng)
	detected := eventsOfKind(events, KindPromiseDetected)
	require.Len(t, detected, 5)
	pd := detected[0].(PromiseDetected)
	assert.Equal(t, "Done", pd.Phrase)
	assert.Equal(t, "ai_response", pd.Source)
}

func TestEngineReasoningTextSkipsPromiseDetection(t *testing.T) {
	mock := &mockClient{responseText: "<promise>Done</promise>", reasoning: true}
	cfg := &Config{Prompt: "Task", MaxIterations: 1, PromisePhrase: "Done"}
	eng := NewEngine(cfg, mock)

	_, err := eng.Start(context.Background())
	require.NoError(t, err)

	events := drainEvents(eng)
	assert.Empty(t, eventsOfKind(events, KindPromiseDetected))
	assert.Len(t, eventsOfKind(events, KindAIResponse), 1)
}

func TestEngineTranslatesToolEvents(t *testing.T) {
	mock := &mockClient{
		responseText: "editing",
		toolCalls: []backend.ToolCall{
			{ID: "1", Name: "edit", Parameters: map[string]any{"path": "main.go"}},
		},
	}
	cfg := &Config{Prompt: "Task", MaxIterations: 1}
	eng := NewEngine(cfg, mock)

	_, err := eng.Start(context.Background())
	require.NoError(t, err)

	events := drainEvents(eng)
	starts := eventsOfKind(events, KindToolStart)
	results := eventsOfKind(events, KindToolResult)
	require.Len(t, starts, 1)
	require.Len(t, results, 1)
	assert.Equal(t, "edit", starts[0].(ToolStart).ToolName)
	assert.Equal(t, "ok", results[0].(ToolResult).Result)
}

func TestEngineContinuesPastExchangeError(t *testing.T) {
	mock := &mockClient{responseText: "partial", exchangeErr: errors.New("tool exploded")}
	cfg := &Config{Prompt: "Task", MaxIterations: 2}
	eng := NewEngine(cfg, mock)

	result, err := eng.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateComplete, result.State)
	assert.Equal(t, 2, result.Iterations)

	events := drainEvents(eng)
	errs := eventsOfKind(events, KindError)
	require.Len(t, errs, 2)
	assert.True(t, errs[0].(Error).Recoverable)
}

func TestEngineSendPromptFailureFailsRun(t *testing.T) {
	mock := &mockClient{sendErr: errors.New("pipe broken")}
	cfg := &Config{Prompt: "Task", MaxIterations: 3}
	eng := NewEngine(cfg, mock)

	result, err := eng.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send prompt")
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 1, result.Iterations)
}

func TestEngineDryRunWithoutClient(t *testing.T) {
	cfg := &Config{Prompt: "Task", MaxIterations: 2, DryRun: true}
	eng := NewEngine(cfg, nil)

	result, err := eng.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateComplete, result.State)
	assert.Equal(t, 2, result.Iterations)
}

func TestEngineIsSingleUse(t *testing.T) {
	cfg := &Config{Prompt: "Task", MaxIterations: 1}
	eng := NewEngine(cfg, nil)

	_, err := eng.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateComplete, eng.State())

	_, err = eng.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
	assert.Equal(t, StateComplete, eng.State())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10, cfg.MaxIterations)
	assert.Equal(t, 30*time.Minute, cfg.Timeout)
	assert.Equal(t, "I'm done!", cfg.PromisePhrase)
}
