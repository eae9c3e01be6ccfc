// Package agent wraps the conversational-agent backend. A Runner consumes
// the backend's event stream to completion and reports the last session
// handle and last result seen; everything else about the backend is
// opaque to the router.
package agent

import "context"

// Request is one agent invocation: the assembled prompt, the group's
// working directory, and the session handle to resume (empty for a fresh
// conversation).
type Request struct {
	Prompt string
	Dir    string
	Resume string
}

// Outcome carries the side effects extracted from an invocation's event
// stream. SessionID is empty when the backend issued no new handle;
// Result is empty when no terminal result arrived.
type Outcome struct {
	SessionID string
	Result    string
}

// Runner invokes the agent backend. Invoke blocks until the backend's
// event stream is exhausted; a failure at any point surfaces as a single
// error and the partial outcome is discarded by callers.
type Runner interface {
	Invoke(ctx context.Context, req Request) (*Outcome, error)
	Close()
}
