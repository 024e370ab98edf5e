package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/martinemde/ralphloop/sandbox"
)

// Default session configuration values.
const (
	DefaultModel     = "gpt-4"
	DefaultStreaming = true
)

// eventChannelBuffer sizes the per-exchange event channel.
const eventChannelBuffer = 100

// Session wraps one backend transport, performing one prompt/response
// exchange at a time and translating raw notifications into Events.
type Session struct {
	transport Transport
	sandbox   *sandbox.Sandbox
	policy    RetryPolicy
	log       *slog.Logger

	model        string
	workingDir   string
	allowedDirs  []string
	systemPrompt string
	streaming    bool

	started    bool
	hasSession bool
	mu         sync.Mutex
}

// Option configures a Session.
type Option func(*Session)

// WithModel sets the backend model identifier.
func WithModel(model string) Option {
	return func(s *Session) { s.model = model }
}

// WithWorkingDir sets the working directory for tool operations. It is also
// the sandbox default when no allowed directories are configured.
func WithWorkingDir(dir string) Option {
	return func(s *Session) { s.workingDir = dir }
}

// WithAllowedDirs sets the sandbox allow-list.
func WithAllowedDirs(dirs []string) Option {
	return func(s *Session) { s.allowedDirs = dirs }
}

// WithSystemPrompt sets the session's system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(s *Session) { s.systemPrompt = prompt }
}

// WithStreaming enables or disables streamed responses.
func WithStreaming(streaming bool) Option {
	return func(s *Session) { s.streaming = streaming }
}

// WithRetryPolicy overrides the retry schedule.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(s *Session) { s.policy = policy }
}

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// NewSession creates a Session over the given transport. The sandbox is
// computed once here and is immutable for the session's lifetime.
func NewSession(transport Transport, opts ...Option) (*Session, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	s := &Session{
		transport:  transport,
		policy:     DefaultRetryPolicy(),
		log:        slog.Default(),
		model:      DefaultModel,
		workingDir: ".",
		streaming:  DefaultStreaming,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	s.sandbox = sandbox.New(s.allowedDirs, s.workingDir)
	return s, nil
}

// Sandbox returns the session's path sandbox.
func (s *Session) Sandbox() *sandbox.Sandbox {
	return s.sandbox
}

// Model returns the configured model identifier.
func (s *Session) Model() string {
	return s.model
}

// Start initializes the backend client. Idempotent.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if err := s.transport.Start(); err != nil {
		return &TransportError{Message: "failed to start backend client", Cause: err}
	}
	s.started = true
	return nil
}

// Stop destroys any active session and releases the client.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	if s.hasSession {
		_ = s.transport.DestroySession(context.Background())
		s.hasSession = false
	}
	_ = s.transport.Stop()
	s.started = false
	return nil
}

// CreateSession creates the backend-native session and installs the
// sandbox-backed permission handler on transports that gate tools.
func (s *Session) CreateSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return fmt.Errorf("backend client not started")
	}

	if gated, ok := s.transport.(PermissionGated); ok {
		gated.SetPermissionHandler(s.Authorize)
	}

	err := s.transport.CreateSession(ctx, SessionConfig{
		Model:        s.model,
		WorkingDir:   s.workingDir,
		SystemPrompt: s.systemPrompt,
		Streaming:    s.streaming,
	})
	if err != nil {
		return &TransportError{Message: "failed to create session", Cause: err}
	}
	s.hasSession = true
	return nil
}

// DestroySession destroys the backend-native session.
func (s *Session) DestroySession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasSession {
		return nil
	}
	s.hasSession = false
	if err := s.transport.DestroySession(ctx); err != nil {
		return &TransportError{Message: "failed to destroy session", Cause: err}
	}
	return nil
}

// SendPrompt performs one prompt/response exchange. The returned channel
// carries the normalized events and closes when the exchange ends. Calling
// SendPrompt before CreateSession is a programming error.
func (s *Session) SendPrompt(ctx context.Context, prompt string) (<-chan Event, error) {
	s.mu.Lock()
	hasSession := s.hasSession
	s.mu.Unlock()

	if !hasSession {
		return nil, fmt.Errorf("no active session")
	}

	events := make(chan Event, eventChannelBuffer)
	go func() {
		defer close(events)
		s.sendWithRetry(ctx, prompt, events)
	}()
	return events, nil
}

// sendWithRetry runs attempts until one succeeds, a non-transient error
// occurs, the schedule is exhausted, or ctx fires. Cancellation stops
// silently: the caller observes it through its own context, not through a
// synthesized event.
func (s *Session) sendWithRetry(ctx context.Context, prompt string, events chan<- Event) {
	var lastErr error

	for attempt := 0; attempt < s.policy.MaxAttempts(); attempt++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if attempt > 0 {
			delay := s.policy.Delay(attempt)
			if s.policy.OnRetry != nil {
				s.policy.OnRetry(lastErr, attempt, delay)
			}
			s.log.Warn("retrying prompt after transient backend error",
				"attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		err := s.sendOnce(ctx, prompt, events)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		lastErr = err
		if !Retryable(err) {
			safeSend(events, &ErrorEvent{Err: err})
			return
		}
	}

	safeSend(events, &ErrorEvent{Err: fmt.Errorf("max retries exceeded: %w", lastErr)})
}

// exchange holds the per-attempt translation state. Each attempt starts
// fresh; partial output from a failed attempt is never merged into the next.
type exchange struct {
	events chan<- Event

	mu           sync.Mutex
	deltaText    bool
	pendingCalls map[string]ToolCall
	sessionErr   error
	done         chan struct{}
	doneOnce     sync.Once
}

func (x *exchange) finish() {
	x.doneOnce.Do(func() { close(x.done) })
}

// sendOnce runs a single attempt: subscribe, send, translate notifications
// until the backend signals idle or errors.
func (s *Session) sendOnce(ctx context.Context, prompt string, events chan<- Event) error {
	x := &exchange{
		events:       events,
		pendingCalls: make(map[string]ToolCall),
		done:         make(chan struct{}),
	}

	unsubscribe := s.transport.Subscribe(func(n Notification) {
		select {
		case <-ctx.Done():
			x.finish()
			return
		default:
		}
		x.handle(n)
	})
	defer unsubscribe()

	if err := s.transport.Send(prompt); err != nil {
		return &TransportError{Message: "failed to send message", Cause: err}
	}

	select {
	case <-ctx.Done():
		// Best-effort abort of the in-flight exchange; do not wait on it.
		go func() { _ = s.transport.Abort() }()
		x.finish()
		return ctx.Err()
	case <-x.done:
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	return x.sessionErr
}

// handle translates one raw notification.
func (x *exchange) handle(n Notification) {
	x.mu.Lock()
	defer x.mu.Unlock()

	switch n.Type {
	case NotifyMessageDelta, NotifyReasoningDelta:
		if n.Delta == "" {
			return
		}
		x.deltaText = true
		safeSend(x.events, &TextEvent{
			Content:   n.Delta,
			Reasoning: n.Type == NotifyReasoningDelta,
		})

	case NotifyMessage, NotifyReasoning:
		// A final complete message duplicates streamed deltas; emit it only
		// when nothing streamed.
		if n.Content == "" || x.deltaText {
			return
		}
		safeSend(x.events, &TextEvent{
			Content:   n.Content,
			Reasoning: n.Type == NotifyReasoning,
		})

	case NotifyToolStart:
		if n.ToolName == "" {
			return
		}
		call := ToolCall{
			ID:         n.ToolCallID,
			Name:       n.ToolName,
			Parameters: n.Arguments,
		}
		if call.ID != "" {
			// Completion notifications do not always carry the name; keep
			// the call around so it can be resolved by ID.
			x.pendingCalls[call.ID] = call
		}
		safeSend(x.events, &ToolCallEvent{Call: call})

	case NotifyToolComplete:
		var call ToolCall
		if n.ToolCallID != "" {
			if pending, ok := x.pendingCalls[n.ToolCallID]; ok {
				call = pending
				delete(x.pendingCalls, n.ToolCallID)
			}
		}
		if call.Name == "" {
			call.Name = n.ToolName
		}

		var toolErr error
		if n.Success != nil && !*n.Success && n.ErrorText != "" {
			toolErr = fmt.Errorf("%s", n.ErrorText)
		}
		safeSend(x.events, &ToolResultEvent{Call: call, Result: n.Result, Err: toolErr})

	case NotifyIdle:
		x.finish()

	case NotifyError:
		if n.Message == "" {
			return
		}
		x.sessionErr = &TransportError{Message: "backend error", Cause: fmt.Errorf("%s", n.Message)}
		x.finish()
	}
}

// safeSend writes an event, absorbing the panic from a channel already torn
// down by a racing late notification. A late event is benign; losing it is
// correct.
func safeSend(events chan<- Event, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event channel closed")
		}
	}()
	events <- ev
	return nil
}
