package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/ralphloop/backend"
)

// State represents the current lifecycle state of the loop.
type State string

const (
	// StateIdle indicates the loop is ready to start.
	StateIdle State = "idle"
	// StateRunning indicates the loop is executing iterations.
	StateRunning State = "running"
	// StateComplete indicates the loop ran its iterations to completion.
	StateComplete State = "complete"
	// StateFailed indicates the loop failed.
	StateFailed State = "failed"
	// StateCancelled indicates the loop was cancelled.
	StateCancelled State = "cancelled"
)

// String returns the string representation of the state.
func (s State) String() string { return string(s) }

// Distinguishable terminal error identities, so callers can tell
// cancellation, timeout, and iteration exhaustion apart from generic failure.
var (
	ErrCancelled     = errors.New("loop cancelled")
	ErrTimeout       = errors.New("loop timeout exceeded")
	ErrMaxIterations = errors.New("maximum iterations reached")
)

// Config holds the configuration for one run. It is immutable once the run
// starts; the caller validates it before Start.
type Config struct {
	// Prompt is the task prompt fed to the backend every iteration.
	Prompt string
	// MaxIterations caps the number of iterations. 0 = unbounded.
	MaxIterations int
	// Timeout caps the wall-clock runtime. 0 = unbounded.
	Timeout time.Duration
	// PromisePhrase is the completion phrase watched for in responses.
	PromisePhrase string
	// Model is the backend model identifier.
	Model string
	// WorkingDir is the directory the backend's tools operate in.
	WorkingDir string
	// DryRun runs iterations without a backend.
	DryRun bool
	// FailOnMaxIterations makes iteration exhaustion a failure carrying
	// ErrMaxIterations instead of a normal completion.
	FailOnMaxIterations bool
}

// DefaultConfig returns a Config with the stock defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxIterations: 10,
		Timeout:       30 * time.Minute,
		PromisePhrase: "I'm done!",
		Model:         "gpt-4",
		WorkingDir:    ".",
	}
}

// Result is the outcome of one run, produced on every terminal transition.
type Result struct {
	// RunID identifies the run.
	RunID string
	// State is the terminal state.
	State State
	// Iterations is the number of iterations completed.
	Iterations int
	// Duration is the total runtime.
	Duration time.Duration
	// Err carries the terminal error identity, if any.
	Err error
}

// Client is the backend collaborator the engine drives. Exactly one
// prompt/response exchange happens per SendPrompt call.
type Client interface {
	Start() error
	CreateSession(ctx context.Context) error
	DestroySession(ctx context.Context) error
	Stop() error
	SendPrompt(ctx context.Context, prompt string) (<-chan backend.Event, error)
}

// Engine drives iterations to a single terminal outcome and narrates
// progress via events. An Engine is single-use: once it leaves StateIdle it
// never returns there.
type Engine struct {
	config *Config
	client Client
	runID  string
	log    *slog.Logger

	state     State
	iteration int
	startTime time.Time

	emitter *Emitter

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.RWMutex
}

// eventBufferSize is the outward event channel buffer.
const eventBufferSize = 100

// NewEngine creates an engine for one run. A nil config uses the defaults;
// a nil client runs iterations without a backend (dry run).
func NewEngine(config *Config, client Client) *Engine {
	if config == nil {
		config = DefaultConfig()
	}

	return &Engine{
		config:  config,
		client:  client,
		runID:   uuid.New().String(),
		log:     slog.Default(),
		state:   StateIdle,
		emitter: NewEmitter(eventBufferSize),
	}
}

// SetLogger replaces the engine's logger. Must be called before Start.
func (e *Engine) SetLogger(log *slog.Logger) {
	if log != nil {
		e.log = log
	}
}

// RunID returns the run identifier.
func (e *Engine) RunID() string { return e.runID }

// State returns the current loop state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Iteration returns the current iteration number (1-based), or 0 before the
// first iteration.
func (e *Engine) Iteration() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.iteration
}

// Config returns the run configuration.
func (e *Engine) Config() *Config { return e.config }

// Events returns the outward event channel. It is consumed by exactly one
// display collaborator and closes after the terminal event.
func (e *Engine) Events() <-chan Event {
	return e.emitter.Events()
}
