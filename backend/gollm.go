package backend

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/teilomillet/gollm"
)

// GollmTransport is a Transport backed by the gollm library. It speaks to
// hosted model providers (openai, anthropic, ollama, ...) and reports each
// exchange through the notification stream: streamed text as message deltas
// followed by idle, or a single error notification.
//
// gollm has no resident process, so Start and Stop only build and drop the
// client. Tool execution happens host-side, so GollmTransport is not
// permission gated.
type GollmTransport struct {
	provider string
	apiKey   string

	mu         sync.Mutex
	llm        gollm.LLM
	cfg        SessionConfig
	hasSession bool
	abort      context.CancelFunc

	subMu    sync.RWMutex
	handlers map[int]Handler
	nextSub  int
}

// GollmOption configures a GollmTransport.
type GollmOption func(*GollmTransport)

// WithGollmAPIKey sets the provider API key. When empty, gollm reads it
// from the provider's environment variable.
func WithGollmAPIKey(key string) GollmOption {
	return func(t *GollmTransport) {
		t.apiKey = key
	}
}

// NewGollmTransport creates a transport for the given gollm provider.
func NewGollmTransport(provider string, opts ...GollmOption) *GollmTransport {
	t := &GollmTransport{
		provider: provider,
		handlers: make(map[int]Handler),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start is a no-op until CreateSession supplies the model; the gollm
// client is built per session.
func (t *GollmTransport) Start() error {
	return nil
}

// Stop aborts any in-flight exchange and drops the client.
func (t *GollmTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.abort != nil {
		t.abort()
		t.abort = nil
	}
	t.llm = nil
	t.hasSession = false
	return nil
}

// CreateSession builds the gollm client for the configured model. Retries
// are disabled on the client; the caller owns the retry schedule.
func (t *GollmTransport) CreateSession(ctx context.Context, cfg SessionConfig) error {
	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(t.provider),
		gollm.SetModel(cfg.Model),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if t.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(t.apiKey))
	}

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return fmt.Errorf("failed to create gollm client for provider %s: %w", t.provider, err)
	}

	t.mu.Lock()
	t.llm = llm
	t.cfg = cfg
	t.hasSession = true
	t.mu.Unlock()
	return nil
}

// DestroySession aborts any in-flight exchange and forgets the session.
func (t *GollmTransport) DestroySession(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.abort != nil {
		t.abort()
		t.abort = nil
	}
	t.hasSession = false
	return nil
}

// Subscribe registers a handler and returns its unsubscribe function.
func (t *GollmTransport) Subscribe(h Handler) func() {
	t.subMu.Lock()
	id := t.nextSub
	t.nextSub++
	t.handlers[id] = h
	t.subMu.Unlock()

	return func() {
		t.subMu.Lock()
		delete(t.handlers, id)
		t.subMu.Unlock()
	}
}

// Send submits the prompt and streams the exchange to subscribers. It
// returns immediately; the exchange runs in the background and terminates
// with NotifyIdle or NotifyError.
func (t *GollmTransport) Send(promptText string) error {
	t.mu.Lock()
	if !t.hasSession || t.llm == nil {
		t.mu.Unlock()
		return &TransportError{Message: "no active session"}
	}
	llm := t.llm
	cfg := t.cfg

	ctx, cancel := context.WithCancel(context.Background())
	if t.abort != nil {
		t.abort()
	}
	t.abort = cancel
	t.mu.Unlock()

	promptOpts := []gollm.PromptOption{}
	if cfg.SystemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(cfg.SystemPrompt, gollm.CacheTypeEphemeral))
	}
	prompt := gollm.NewPrompt(promptText, promptOpts...)

	go t.exchange(ctx, llm, prompt, cfg.Streaming)
	return nil
}

// Abort interrupts the in-flight exchange, if any.
func (t *GollmTransport) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.abort != nil {
		t.abort()
		t.abort = nil
	}
	return nil
}

// exchange runs one prompt round-trip and publishes its notifications.
func (t *GollmTransport) exchange(ctx context.Context, llm gollm.LLM, prompt *gollm.Prompt, streaming bool) {
	if streaming && llm.SupportsStreaming() {
		t.streamExchange(ctx, llm, prompt)
		return
	}

	// Non-streaming: one complete message, then idle.
	text, err := llm.Generate(ctx, prompt)
	if err != nil {
		t.notifyError(err)
		return
	}
	t.notify(Notification{Type: NotifyMessage, Content: text})
	t.notify(Notification{Type: NotifyIdle})
}

func (t *GollmTransport) streamExchange(ctx context.Context, llm gollm.LLM, prompt *gollm.Prompt) {
	stream, err := llm.Stream(ctx, prompt)
	if err != nil {
		t.notifyError(err)
		return
	}
	defer stream.Close()

	for {
		token, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.notifyError(err)
			return
		}
		if token == nil {
			continue
		}
		t.notify(Notification{Type: NotifyMessageDelta, Delta: token.Text})
	}
	t.notify(Notification{Type: NotifyIdle})
}

func (t *GollmTransport) notify(n Notification) {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	for _, h := range t.handlers {
		h(n)
	}
}

func (t *GollmTransport) notifyError(err error) {
	t.notify(Notification{Type: NotifyError, Message: err.Error()})
}
