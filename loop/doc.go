// Package loop implements the iteration engine for unattended AI task loops.
//
// An Engine feeds the same task prompt to a conversational code-assistant
// backend over and over, watching the response stream for a tagged completion
// phrase, until it hits the configured iteration cap, the wall-clock timeout,
// or an external cancellation.
//
// The Engine is a single-use state machine:
//
//	StateIdle -> StateRunning -> one of {StateComplete, StateFailed, StateCancelled}
//
// Progress is narrated on a typed event channel consumed by exactly one
// display collaborator per run. The channel is closed once, after the
// terminal event.
//
// # Quick Start
//
//	cfg := loop.DefaultConfig()
//	cfg.Prompt = "Add unit tests for the parser module"
//	engine := loop.NewEngine(cfg, client)
//
//	go func() {
//	    for ev := range engine.Events() {
//	        fmt.Printf("[%s] %v\n", ev.Kind(), ev)
//	    }
//	}()
//
//	result, err := engine.Start(ctx)
package loop
