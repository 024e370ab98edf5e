package loop

import (
	"sync"
	"time"
)

// EventKind identifies the type of loop event.
type EventKind string

const (
	KindLoopStart         EventKind = "loop_start"
	KindIterationStart    EventKind = "iteration_start"
	KindIterationComplete EventKind = "iteration_complete"
	KindAIResponse        EventKind = "ai_response"
	KindToolStart         EventKind = "tool_start"
	KindToolResult        EventKind = "tool_result"
	KindPromiseDetected   EventKind = "promise_detected"
	KindError             EventKind = "error"
	KindLoopComplete      EventKind = "loop_complete"
	KindLoopFailed        EventKind = "loop_failed"
	KindLoopCancelled     EventKind = "loop_cancelled"
)

// Event is one entry in the closed set of loop events. Each kind carries its
// own typed payload struct rather than an open map.
type Event interface {
	Kind() EventKind
}

// LoopStart announces the run.
type LoopStart struct {
	RunID  string
	Config *Config
}

func (LoopStart) Kind() EventKind { return KindLoopStart }

// IterationStart marks the beginning of an iteration (1-based).
type IterationStart struct {
	Iteration     int
	MaxIterations int
}

func (IterationStart) Kind() EventKind { return KindIterationStart }

// IterationComplete marks the end of an iteration.
type IterationComplete struct {
	Iteration int
	Duration  time.Duration
}

func (IterationComplete) Kind() EventKind { return KindIterationComplete }

// AIResponse carries assistant response text as it streams in.
type AIResponse struct {
	Text      string
	Iteration int
}

func (AIResponse) Kind() EventKind { return KindAIResponse }

// ToolStart announces a tool invocation the backend has begun executing.
type ToolStart struct {
	ToolName   string
	Parameters map[string]any
	Iteration  int
}

func (ToolStart) Kind() EventKind { return KindToolStart }

// ToolResult carries the outcome of a tool invocation.
type ToolResult struct {
	ToolName   string
	Parameters map[string]any
	Result     string
	Err        error
	Iteration  int
}

func (ToolResult) Kind() EventKind { return KindToolResult }

// PromiseDetected reports that the completion phrase appeared in assistant
// output. It is informational; it does not stop the loop.
type PromiseDetected struct {
	Phrase    string
	Source    string
	Iteration int
}

func (PromiseDetected) Kind() EventKind { return KindPromiseDetected }

// Error reports a recoverable or fatal error observed during an iteration.
type Error struct {
	Err         error
	Iteration   int
	Recoverable bool
}

func (Error) Kind() EventKind { return KindError }

// LoopComplete is the terminal event for a completed run.
type LoopComplete struct {
	Result *Result
}

func (LoopComplete) Kind() EventKind { return KindLoopComplete }

// LoopFailed is the terminal event for a failed run.
type LoopFailed struct {
	Err    error
	Result *Result
}

func (LoopFailed) Kind() EventKind { return KindLoopFailed }

// LoopCancelled is the terminal event for a cancelled run.
type LoopCancelled struct {
	Result *Result
}

func (LoopCancelled) Kind() EventKind { return KindLoopCancelled }

// Emitter delivers loop events to the display collaborator via a buffered
// channel. Emitting to a full channel drops the event rather than blocking
// the loop; emitting after Close is a no-op.
type Emitter struct {
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

// NewEmitter creates an Emitter with the given channel buffer.
func NewEmitter(bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = eventBufferSize
	}
	return &Emitter{ch: make(chan Event, bufferSize)}
}

// Emit sends an event. A late event after Close is silently discarded.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- ev:
	default:
		// Channel full; drop rather than block the loop on a slow consumer.
	}
}

// Events returns the read-only event channel.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
