// Package gateway defines the interface for operator-facing entry points.
package gateway

import "context"

// Gateway is an operator-facing interface over a session (console, HTTP).
type Gateway interface {
	// Start runs the gateway and blocks until it exits or the context is
	// canceled. Returns an error only on failure.
	Start(ctx context.Context) error

	// Stop performs graceful shutdown within the context deadline.
	Stop(ctx context.Context) error
}
