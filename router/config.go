package router

// defaultDenyList drops interpreter-internal diagnostics that would
// otherwise clutter window logs. Matching is cosmetic only.
var defaultDenyList = []string{
	"[IPKernelApp]",
	"ipyflow",
}

// Config holds router filtering parameters.
type Config struct {
	// DenyList is a set of case-insensitive substrings; a record whose
	// flattened text contains any of them is dropped silently.
	DenyList []string `json:"deny_list,omitempty"`
}

// DefaultConfig returns the default router configuration.
func DefaultConfig() Config {
	return Config{DenyList: append([]string(nil), defaultDenyList...)}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.DenyList != nil {
		c.DenyList = source.DenyList
	}
}
