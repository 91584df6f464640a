package coordinator

import "time"

const (
	defaultReadyTimeout  = 15 * time.Second
	defaultReadyInterval = 250 * time.Millisecond
)

// Config holds coordinator timing parameters.
type Config struct {
	// ReadyTimeout bounds how long RunPython waits for the session to
	// become ready before failing with ErrConnectTimeout.
	ReadyTimeout time.Duration `json:"ready_timeout,omitempty"`
	// ReadyInterval is the poll interval while waiting for readiness.
	ReadyInterval time.Duration `json:"ready_interval,omitempty"`
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		ReadyTimeout:  defaultReadyTimeout,
		ReadyInterval: defaultReadyInterval,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.ReadyTimeout > 0 {
		c.ReadyTimeout = source.ReadyTimeout
	}
	if source.ReadyInterval > 0 {
		c.ReadyInterval = source.ReadyInterval
	}
}
