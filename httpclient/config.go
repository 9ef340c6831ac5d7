package httpclient

import (
	"fmt"
	"time"

	"github.com/kbukum/discoverykit/resilience"
	"github.com/kbukum/discoverykit/security"
)

const defaultTimeout = 10 * time.Second

// Config configures the registry transport.
type Config struct {
	// BaseURL is prepended to every request path, e.g. "http://127.0.0.1:8500".
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Timeout bounds every call that does not carry its own Request.Timeout.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	Auth *AuthConfig `yaml:"auth" mapstructure:"auth"`

	TLS *security.TLSConfig `yaml:"tls" mapstructure:"tls"`

	// Headers are default headers applied to all requests.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`

	// Retry enables in-call retries of transport errors. Nil disables retry;
	// the registrar and resolver loops do their own backoff.
	Retry *resilience.RetryConfig `yaml:"-" mapstructure:"-"`

	// CircuitBreaker fails fast after repeated transport errors. Nil disables it.
	CircuitBreaker *resilience.CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("httpclient: timeout must be positive")
	}
	if err := c.TLS.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}
