package gateway

import "time"

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReconnectDelay   = 3 * time.Second
	defaultSubscriberBuffer = 256
)

// Config holds gateway timing and buffering parameters.
type Config struct {
	// HandshakeTimeout bounds the info round-trip after session creation.
	HandshakeTimeout time.Duration `json:"handshake_timeout,omitempty"`
	// ReconnectDelay is the fixed delay before the single reconnection
	// attempt after interpreter death.
	ReconnectDelay time.Duration `json:"reconnect_delay,omitempty"`
	// SubscriberBuffer is the per-subscriber channel capacity on the
	// fan-out message stream.
	SubscriberBuffer int `json:"subscriber_buffer,omitempty"`
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: defaultHandshakeTimeout,
		ReconnectDelay:   defaultReconnectDelay,
		SubscriberBuffer: defaultSubscriberBuffer,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.HandshakeTimeout > 0 {
		c.HandshakeTimeout = source.HandshakeTimeout
	}
	if source.ReconnectDelay > 0 {
		c.ReconnectDelay = source.ReconnectDelay
	}
	if source.SubscriberBuffer > 0 {
		c.SubscriberBuffer = source.SubscriberBuffer
	}
}
