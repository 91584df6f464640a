package coordinator

import "errors"

// Sentinel errors for run operations.
var (
	// ErrConnectTimeout is returned when the session does not become ready
	// within the configured bound.
	ErrConnectTimeout = errors.New("timed out waiting for interpreter connection")
	// ErrSessionReset rejects pending runs abandoned by a session reset.
	ErrSessionReset = errors.New("session was reset")
	// ErrDisconnected rejects pending runs when the interpreter dies
	// underneath them.
	ErrDisconnected = errors.New("interpreter disconnected")
)
