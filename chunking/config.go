package chunking

import "errors"

// Config controls chunk sizes. All sizes are measured in runes.
type Config struct {
	// TargetSize is the maximum length of a chunk's text, overlap included.
	// Default: 1000
	TargetSize int

	// Overlap is the minimum number of runes each chunk after the first repeats
	// from the end of its predecessor. A chunk whose first sentence would not fit
	// otherwise repeats less. Zero produces disjoint chunks.
	// Default: 50
	Overlap int

	// MinChars is the shortest text that is chunked at all. Shorter text yields no chunks.
	// Default: 0
	MinChars int
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithTargetSize sets the target chunk size.
func WithTargetSize(n int) ConfigOption {
	return func(c *Config) {
		c.TargetSize = n
	}
}

// WithOverlap sets the overlap between consecutive chunks.
func WithOverlap(n int) ConfigOption {
	return func(c *Config) {
		c.Overlap = n
	}
}

// WithMinChars sets the minimum text length that produces chunks.
func WithMinChars(n int) ConfigOption {
	return func(c *Config) {
		c.MinChars = n
	}
}

// DefaultConfig returns the default chunking configuration.
func DefaultConfig() Config {
	return Config{
		TargetSize: 1000,
		Overlap:    50,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
func NewConfig(opts ...ConfigOption) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.TargetSize <= 0 {
		return errors.New("chunking config: TargetSize must be positive")
	}
	if c.Overlap < 0 {
		return errors.New("chunking config: Overlap cannot be negative")
	}
	if c.Overlap >= c.TargetSize {
		return errors.New("chunking config: Overlap must be less than TargetSize")
	}
	if c.MinChars < 0 {
		return errors.New("chunking config: MinChars cannot be negative")
	}
	return nil
}
