package gateway

import "errors"

// Sentinel errors for session operations.
var (
	// ErrNotConnected is returned when a send is attempted while the
	// interpreter is not in a connectable status.
	ErrNotConnected = errors.New("interpreter not connected")
	// ErrHandshakeTimeout is returned when the interpreter does not answer
	// the info round-trip in time.
	ErrHandshakeTimeout = errors.New("interpreter handshake timed out")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("gateway closed")
)
