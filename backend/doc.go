// Package backend adapts a conversational code-assistant backend to the
// loop engine.
//
// A Session performs exactly one prompt/response exchange per SendPrompt
// call, translating the backend's raw notifications into a normalized event
// stream. Transient transport failures are retried internally on a small
// fixed schedule; everything else surfaces as a single Error event.
//
// The backend itself is reached through the Transport interface. Transports
// that execute filesystem-touching tools route each tool invocation through
// the Session's authorization check, which gates every candidate path
// against the configured sandbox.
package backend
