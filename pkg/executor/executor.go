package executor

import "context"

// Executor is the contract every worker backend implements. Backends are
// interchangeable from the planner's point of view: validation, credential
// TTL checks, and audit events behave identically regardless of transport.
type Executor interface {
	// Dispatch runs one task to completion on the backend
	Dispatch(ctx context.Context, req *Request) (*Response, error)

	// Ping performs a cheap health check
	Ping(ctx context.Context) (*Response, error)

	// Close releases the backend's resources and flushes its audit ring
	Close() error
}
