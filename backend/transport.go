package backend

import "context"

// NotificationType identifies a raw backend notification.
type NotificationType string

const (
	// NotifyMessageDelta is a streamed chunk of assistant text.
	NotifyMessageDelta NotificationType = "message_delta"
	// NotifyReasoningDelta is a streamed chunk of reasoning text.
	NotifyReasoningDelta NotificationType = "reasoning_delta"
	// NotifyMessage is a complete, non-streamed assistant message.
	NotifyMessage NotificationType = "message"
	// NotifyReasoning is a complete, non-streamed reasoning message.
	NotifyReasoning NotificationType = "reasoning"
	// NotifyToolStart announces a tool execution inside the backend.
	NotifyToolStart NotificationType = "tool_start"
	// NotifyToolComplete reports a finished tool execution.
	NotifyToolComplete NotificationType = "tool_complete"
	// NotifyIdle is the sole signal that the exchange completed.
	NotifyIdle NotificationType = "idle"
	// NotifyError reports a session-level error.
	NotifyError NotificationType = "error"
)

// Notification is the raw union the backend collaborator delivers to
// subscribers. Which fields are set depends on Type.
type Notification struct {
	Type NotificationType

	// Delta carries streamed text for the delta types.
	Delta string
	// Content carries the full text for complete message types.
	Content string

	// Tool lifecycle fields. Completion notifications do not always carry
	// the name, so subscribers correlate by ToolCallID.
	ToolName   string
	ToolCallID string
	Arguments  map[string]any
	Result     string
	Success    *bool
	ErrorText  string

	// Message carries the session-level error text for NotifyError.
	Message string
}

// Handler receives raw notifications for one subscription.
type Handler func(Notification)

// SessionConfig configures the backend-native session a Transport creates.
type SessionConfig struct {
	Model        string
	WorkingDir   string
	SystemPrompt string
	Streaming    bool
}

// Transport is the interface to the external backend collaborator: client
// start/stop, session create/destroy, and a send-prompt operation whose
// results arrive through subscribed handlers.
type Transport interface {
	// Start initializes the backend client.
	Start() error
	// Stop releases the backend client.
	Stop() error

	// CreateSession creates the backend-native session.
	CreateSession(ctx context.Context, cfg SessionConfig) error
	// DestroySession destroys the session.
	DestroySession(ctx context.Context) error

	// Subscribe registers a notification handler and returns its
	// unsubscribe function. Handlers are invoked in notification order.
	Subscribe(h Handler) (unsubscribe func())

	// Send submits a prompt. Results arrive via subscribed handlers; the
	// exchange ends with NotifyIdle or NotifyError.
	Send(prompt string) error

	// Abort interrupts the in-flight exchange. Idempotent.
	Abort() error
}

// PermissionGated is implemented by transports whose tools need host
// authorization before touching the filesystem. The Session installs its
// sandbox-backed handler at session creation.
type PermissionGated interface {
	SetPermissionHandler(func(ToolRequest) Decision)
}
