package redis

import (
	"fmt"
	"time"
)

// Config holds Redis connection configuration. Durations are strings such as
// "5s" parsed when the client is created.
type Config struct {
	// Enabled controls whether the Redis component is active.
	Enabled bool `mapstructure:"enabled"`

	// Addr is the Redis server address (host:port).
	Addr string `mapstructure:"addr"`

	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// PoolSize is the maximum number of socket connections.
	PoolSize int `mapstructure:"pool_size"`

	// MaxRetries is the maximum number of retries before giving up.
	MaxRetries int `mapstructure:"max_retries"`

	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`

	// KeyPrefix namespaces every key written by stores built on this client.
	KeyPrefix string `mapstructure:"key_prefix"`
}

type timeouts struct {
	dial, read, write time.Duration
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.DialTimeout == "" {
		c.DialTimeout = "5s"
	}
	if c.ReadTimeout == "" {
		c.ReadTimeout = "3s"
	}
	if c.WriteTimeout == "" {
		c.WriteTimeout = "3s"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "discoverykit"
	}
}

// Validate checks that required fields are present and parseable.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	_, err := c.timeouts()
	return err
}

func (c *Config) timeouts() (timeouts, error) {
	var t timeouts
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"dial_timeout", c.DialTimeout, &t.dial},
		{"read_timeout", c.ReadTimeout, &t.read},
		{"write_timeout", c.WriteTimeout, &t.write},
	} {
		d, err := time.ParseDuration(f.raw)
		if err != nil || d < 0 {
			return t, fmt.Errorf("invalid %s %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return t, nil
}
