package configsource

import (
	"fmt"
	"time"
)

const defaultTimeout = 10 * time.Second

// Config selects and tunes the remote configuration source.
type Config struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Provider names a registered source: "consul", "vault" or "springcloud".
	Provider    string   `yaml:"provider" mapstructure:"provider"`
	Application string   `yaml:"application" mapstructure:"application"`
	Profiles    []string `yaml:"profiles" mapstructure:"profiles"`
	// FailFast makes Start fail when the source is unreachable or returns
	// nothing.
	FailFast bool `yaml:"fail_fast" mapstructure:"fail_fast"`
	// Timeout bounds one fetch including its retries.
	Timeout string `yaml:"timeout" mapstructure:"timeout"`
	// RetryAttempts is the number of fetch attempts on transport errors.
	RetryAttempts int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Timeout == "" {
		c.Timeout = defaultTimeout.String()
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Provider == "" {
		return fmt.Errorf("configsource: provider is required")
	}
	if c.Application == "" {
		return fmt.Errorf("configsource: application is required")
	}
	if d, err := time.ParseDuration(c.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("configsource: invalid timeout %q", c.Timeout)
	}
	return nil
}

// FetchTimeout returns the parsed timeout.
func (c *Config) FetchTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return defaultTimeout
	}
	return d
}
