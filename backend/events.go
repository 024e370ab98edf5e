package backend

// EventKind is the discriminator tag for normalized backend events.
type EventKind string

const (
	EventText       EventKind = "text"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventError      EventKind = "error"
)

// Event is one entry in the normalized event stream a Session produces for
// the loop engine. The set of variants is closed.
type Event interface {
	Kind() EventKind
}

// ToolCall identifies a tool invocation requested by the assistant.
type ToolCall struct {
	// ID is assigned by the backend and may be empty.
	ID string
	// Name is the tool name.
	Name string
	// Parameters is the tool's parameter mapping.
	Parameters map[string]any
}

// TextEvent carries streamed or final assistant text.
type TextEvent struct {
	Content string
	// Reasoning marks text from the model's reasoning channel.
	Reasoning bool
}

func (*TextEvent) Kind() EventKind { return EventText }

// ToolCallEvent announces that the backend began executing a tool.
type ToolCallEvent struct {
	Call ToolCall
}

func (*ToolCallEvent) Kind() EventKind { return EventToolCall }

// ToolResultEvent carries a completed tool invocation's outcome.
type ToolResultEvent struct {
	Call   ToolCall
	Result string
	Err    error
}

func (*ToolResultEvent) Kind() EventKind { return EventToolResult }

// ErrorEvent carries an exchange-level error.
type ErrorEvent struct {
	Err error
}

func (*ErrorEvent) Kind() EventKind { return EventError }

// Error returns the underlying error message.
func (e *ErrorEvent) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
