package gateway

import (
	"context"

	"github.com/jupyter-desktop/kernelcore/core/protocol"
)

// Transport creates interpreter connections. Implementations own the
// server/process specifics; the Gateway owns lifecycle, status tracking,
// and multiplexing on top.
type Transport interface {
	// Connect creates a fresh interpreter and returns a live connection
	// to it.
	Connect(ctx context.Context) (Connection, error)
}

// Connection is one live interpreter connection.
type Connection interface {
	// Send writes an outbound message on its tagged channel.
	Send(ctx context.Context, msg *protocol.Message) error
	// Recv blocks until the next inbound message arrives. A returned error
	// means the connection is dead and will produce no further messages.
	Recv(ctx context.Context) (*protocol.Message, error)
	// Interrupt asks the interpreter to abort the currently running code.
	Interrupt(ctx context.Context) error
	// Restart replaces the interpreter process while keeping the connection.
	Restart(ctx context.Context) error
	// Close tears the connection down and releases the interpreter.
	Close() error
}
