package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/martinemde/ralphloop/backend"
)

// Cleanup grace periods for releasing backend resources after a run.
const (
	cancelCleanupGrace = 1 * time.Second
	normalCleanupGrace = 5 * time.Second
)

// Start begins loop execution and blocks until a terminal outcome. The
// provided context cancels the run externally. Start fails fast, without
// emitting events, if the engine already left StateIdle.
func (e *Engine) Start(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return nil, errors.New("loop already started")
	}

	if e.config.Timeout > 0 {
		e.ctx, e.cancel = context.WithTimeout(ctx, e.config.Timeout)
	} else {
		e.ctx, e.cancel = context.WithCancel(ctx)
	}
	e.state = StateRunning
	e.startTime = time.Now()
	e.iteration = 0
	e.mu.Unlock()

	defer e.cancel()

	// The channel is torn down exactly once, here, after the terminal event.
	defer e.emitter.Close()

	e.emit(LoopStart{RunID: e.runID, Config: e.config})
	e.log.Debug("loop started", "run_id", e.runID, "max_iterations", e.config.MaxIterations)

	if e.client != nil {
		if err := e.initBackend(); err != nil {
			return e.fail(fmt.Errorf("failed to start backend: %w", err))
		}
	}

	result, err := e.runLoop()

	if e.client != nil {
		e.releaseBackend(result)
	}

	return result, err
}

// initBackend starts the client and creates its session. Any failure is
// fatal to the run; no iterations execute.
func (e *Engine) initBackend() error {
	if err := e.client.Start(); err != nil {
		return err
	}
	return e.client.CreateSession(e.ctx)
}

// releaseBackend tears the backend down. On cancellation the teardown is
// detached with a short grace so Start returns immediately; best effort, not
// awaited by the caller. Otherwise it runs synchronously with a longer grace.
func (e *Engine) releaseBackend(result *Result) {
	if result != nil && result.State == StateCancelled {
		go func() {
			cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), cancelCleanupGrace)
			defer cleanupCancel()
			_ = e.client.DestroySession(cleanupCtx)
			_ = e.client.Stop()
		}()
		return
	}

	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), normalCleanupGrace)
	_ = e.client.DestroySession(cleanupCtx)
	cleanupCancel()
	_ = e.client.Stop()
}

// runLoop executes iterations until a stop condition fires. Promise
// detection is informational and never stops the loop.
func (e *Engine) runLoop() (*Result, error) {
	for {
		if result, err := e.checkStop(); result != nil || err != nil {
			return result, err
		}

		if err := e.executeIteration(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return e.fail(ErrTimeout)
			}
			if errors.Is(err, context.Canceled) {
				return e.cancelled()
			}
			return e.fail(fmt.Errorf("iteration %d failed: %w", e.Iteration(), err))
		}
	}
}

// checkStop evaluates the stop conditions in fixed priority order:
// cancellation/timeout first, then the iteration cap.
func (e *Engine) checkStop() (*Result, error) {
	select {
	case <-e.ctx.Done():
		if e.timedOut() {
			return e.fail(ErrTimeout)
		}
		return e.cancelled()
	default:
	}

	if e.timedOut() {
		return e.fail(ErrTimeout)
	}

	e.mu.RLock()
	iteration := e.iteration
	e.mu.RUnlock()

	if e.config.MaxIterations > 0 && iteration >= e.config.MaxIterations {
		if e.config.FailOnMaxIterations {
			return e.fail(ErrMaxIterations)
		}
		return e.complete()
	}

	return nil, nil
}

func (e *Engine) timedOut() bool {
	if e.config.Timeout <= 0 {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return time.Since(e.startTime) >= e.config.Timeout
}

// executeIteration runs one prompt/response exchange, translating backend
// events as they arrive.
func (e *Engine) executeIteration() error {
	e.mu.Lock()
	e.iteration++
	iteration := e.iteration
	e.mu.Unlock()

	iterationStart := time.Now()
	e.emit(IterationStart{Iteration: iteration, MaxIterations: e.config.MaxIterations})

	if e.client != nil {
		events, err := e.client.SendPrompt(e.ctx, e.iterationPrompt(iteration))
		if err != nil {
			return fmt.Errorf("failed to send prompt: %w", err)
		}

		if err := e.consumeEvents(events, iteration); err != nil {
			return err
		}
	}

	e.emit(IterationComplete{Iteration: iteration, Duration: time.Since(iterationStart)})
	return nil
}

// consumeEvents translates the backend's event stream for one exchange into
// loop events, in arrival order, until the stream ends or the run context
// fires.
func (e *Engine) consumeEvents(events <-chan backend.Event, iteration int) error {
	for {
		select {
		case <-e.ctx.Done():
			return e.ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e.translate(ev, iteration)
		}
	}
}

func (e *Engine) translate(ev backend.Event, iteration int) {
	switch ev := ev.(type) {
	case *backend.TextEvent:
		e.emit(AIResponse{Text: ev.Content, Iteration: iteration})

		// Reasoning text is the model thinking out loud; only final-channel
		// text can carry the promise.
		if !ev.Reasoning && DetectPromise(ev.Content, e.config.PromisePhrase) {
			e.emit(PromiseDetected{
				Phrase:    e.config.PromisePhrase,
				Source:    "ai_response",
				Iteration: iteration,
			})
		}

	case *backend.ToolCallEvent:
		e.emit(ToolStart{
			ToolName:   ev.Call.Name,
			Parameters: ev.Call.Parameters,
			Iteration:  iteration,
		})

	case *backend.ToolResultEvent:
		e.emit(ToolResult{
			ToolName:   ev.Call.Name,
			Parameters: ev.Call.Parameters,
			Result:     ev.Result,
			Err:        ev.Err,
			Iteration:  iteration,
		})

	case *backend.ErrorEvent:
		// Backend-surfaced errors at this level are tool or exchange
		// failures the loop can continue past.
		e.emit(Error{Err: ev.Err, Iteration: iteration, Recoverable: true})
	}
}

// complete transitions to StateComplete. Only reached when the iteration cap
// is exhausted without error.
func (e *Engine) complete() (*Result, error) {
	e.mu.Lock()
	e.state = StateComplete
	result := e.buildResult(nil)
	e.mu.Unlock()

	e.emit(LoopComplete{Result: result})
	return result, nil
}

// fail transitions to StateFailed carrying err as the terminal identity.
func (e *Engine) fail(err error) (*Result, error) {
	e.mu.Lock()
	e.state = StateFailed
	result := e.buildResult(err)
	e.mu.Unlock()

	e.log.Warn("loop failed", "run_id", e.runID, "error", err)
	e.emit(LoopFailed{Err: err, Result: result})
	return result, err
}

// cancelled transitions to StateCancelled.
func (e *Engine) cancelled() (*Result, error) {
	e.mu.Lock()
	e.state = StateCancelled
	result := e.buildResult(ErrCancelled)
	e.mu.Unlock()

	e.emit(LoopCancelled{Result: result})
	return result, ErrCancelled
}

// buildResult snapshots the run outcome. Caller holds the lock.
func (e *Engine) buildResult(err error) *Result {
	return &Result{
		RunID:      e.runID,
		State:      e.state,
		Iterations: e.iteration,
		Duration:   time.Since(e.startTime),
		Err:        err,
	}
}

func (e *Engine) emit(ev Event) {
	e.emitter.Emit(ev)
}
