package schedule

import "time"

const (
	defaultEstablishTimeout = 5 * time.Second
	defaultStaleBuffer      = 16
)

// Config holds schedule channel parameters.
type Config struct {
	// EstablishTimeout bounds the wait for the tracker's establish
	// acknowledgement. On timeout the channel is treated as absent.
	EstablishTimeout time.Duration `json:"establish_timeout,omitempty"`
	// StaleBuffer is the per-subscriber buffer of the stale-window feed.
	StaleBuffer int `json:"stale_buffer,omitempty"`
}

// DefaultConfig returns the default schedule channel configuration.
func DefaultConfig() Config {
	return Config{
		EstablishTimeout: defaultEstablishTimeout,
		StaleBuffer:      defaultStaleBuffer,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.EstablishTimeout > 0 {
		c.EstablishTimeout = source.EstablishTimeout
	}
	if source.StaleBuffer > 0 {
		c.StaleBuffer = source.StaleBuffer
	}
}
