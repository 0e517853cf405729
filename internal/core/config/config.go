package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lockstep-engine/lockstep/internal/core/observability/log"
	"github.com/lockstep-engine/lockstep/pkg/encoding"
)

var _ encoding.Serializable[Config] = (*Config)(nil)

// Config is the process configuration for a simulation host.
type Config struct {
	// LogLevel is one of debug, info, warn, error, fatal, silent.
	LogLevel string `json:"log_level" yaml:"log_level"`

	// TickRate is the number of simulation steps per second.
	TickRate int `json:"tick_rate" yaml:"tick_rate"`

	// HashParallelism bounds the goroutines used for state hashing.
	// Zero hashes sequentially.
	HashParallelism int `json:"hash_parallelism" yaml:"hash_parallelism"`

	// HashEvery emits a state hash every N steps. Zero disables hashing.
	HashEvery int `json:"hash_every" yaml:"hash_every"`

	// Stages is the dispatcher stage order.
	Stages []string `json:"stages" yaml:"stages"`

	// Profile enables pprof-style profiling: "", "cpu" or "mem".
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		LogLevel:        "info",
		TickRate:        30,
		HashParallelism: 0,
		HashEvery:       1,
		Stages:          []string{"input", "simulate", "commit"},
	}
}

// Load reads a YAML config from the reader, filling unset fields with
// defaults.
func Load(r io.Reader) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile reads a YAML config from a path.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Validate rejects values no simulation can run with.
func (c *Config) Validate() error {
	if c.TickRate <= 0 {
		return fmt.Errorf("config: tick_rate must be positive, got %d", c.TickRate)
	}
	if c.HashParallelism < 0 {
		return fmt.Errorf("config: hash_parallelism must not be negative, got %d", c.HashParallelism)
	}
	if c.HashEvery < 0 {
		return fmt.Errorf("config: hash_every must not be negative, got %d", c.HashEvery)
	}
	if len(c.Stages) == 0 {
		return fmt.Errorf("config: at least one stage is required")
	}
	switch c.Profile {
	case "", "cpu", "mem":
	default:
		return fmt.Errorf("config: profile must be empty, cpu or mem, got %q", c.Profile)
	}
	return nil
}

// Level returns the parsed log level. Unknown strings fall back to info.
func (c *Config) Level() log.Level {
	return log.ParseLevel(c.LogLevel)
}

// Serialize encodes the config as YAML.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// Deserialize replaces the config with the decoded YAML document.
func (c *Config) Deserialize(data []byte) error {
	return yaml.Unmarshal(data, c)
}
