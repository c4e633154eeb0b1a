package session

import "context"

// CloseOptions are passed to Transport.CloseSession.
type CloseOptions struct {
	// SilenceErrors asks the transport not to surface the failure to the user.
	// The error is still returned so the caller can record it.
	SilenceErrors bool
}

// Transport performs the backend calls. Implementations own timeouts and retries.
type Transport interface {
	// CreateSession creates a new backend session for the definition.
	CreateSession(ctx context.Context, def Definition) (*Handle, error)
	// CloseSession closes the backend session addressed by the full handle.
	CloseSession(ctx context.Context, handle *Handle, opts CloseOptions) error
}
