package desktop

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jupyter-desktop/kernelcore/coordinator"
	"github.com/jupyter-desktop/kernelcore/gateway"
	"github.com/jupyter-desktop/kernelcore/router"
	"github.com/jupyter-desktop/kernelcore/schedule"
)

// Config holds initialization parameters for all desktop subsystems.
// Each section delegates to that subsystem's config-driven constructor.
type Config struct {
	Server      gateway.ServerConfig `json:"server"`
	Gateway     gateway.Config       `json:"gateway"`
	Coordinator coordinator.Config   `json:"coordinator"`
	Router      router.Config        `json:"router"`
	Schedule    schedule.Config      `json:"schedule"`
}

// DefaultConfig returns a Config with sensible defaults for all subsystems.
func DefaultConfig() Config {
	return Config{
		Server:      gateway.DefaultServerConfig(),
		Gateway:     gateway.DefaultConfig(),
		Coordinator: coordinator.DefaultConfig(),
		Router:      router.DefaultConfig(),
		Schedule:    schedule.DefaultConfig(),
	}
}

// Merge applies non-zero values from source into c, delegating to each
// subsystem's Merge method.
func (c *Config) Merge(source *Config) {
	c.Server.Merge(&source.Server)
	c.Gateway.Merge(&source.Gateway)
	c.Coordinator.Merge(&source.Coordinator)
	c.Router.Merge(&source.Router)
	c.Schedule.Merge(&source.Schedule)
}

// LoadConfig reads a JSON config file, merges it with defaults, and returns
// the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
