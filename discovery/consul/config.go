package consul

import (
	"fmt"
	"time"

	"github.com/kbukum/discoverykit/resilience"
	"github.com/kbukum/discoverykit/security"
)

// Config holds Consul connection and query settings.
type Config struct {
	// Address is the Consul agent address (default: localhost:8500).
	Address string `yaml:"address" mapstructure:"address"`

	// Scheme is the URI scheme (http/https).
	Scheme string `yaml:"scheme" mapstructure:"scheme"`

	// Datacenter to use. Empty means the agent's datacenter.
	Datacenter string `yaml:"datacenter" mapstructure:"datacenter"`

	// Token is the ACL token sent as X-Consul-Token.
	Token string `yaml:"token" mapstructure:"token"`

	// Namespace for Consul Enterprise.
	Namespace string `yaml:"namespace" mapstructure:"namespace"`

	// Partition for Consul Enterprise.
	Partition string `yaml:"partition" mapstructure:"partition"`

	// TLS configuration.
	TLS *security.TLSConfig `yaml:"tls" mapstructure:"tls"`

	// Timeout bounds calls that carry no deadline of their own.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// PassingOnly asks Consul to return only instances whose checks pass.
	// Off by default so callers can filter on Status themselves.
	PassingOnly bool `yaml:"passing_only" mapstructure:"passing_only"`

	// Tag restricts discovery to instances carrying this tag.
	Tag string `yaml:"tag" mapstructure:"tag"`

	// CircuitBreaker fails registry calls fast after repeated transport
	// errors. Nil disables it.
	CircuitBreaker *resilience.CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
}

// ApplyDefaults sets sensible defaults for Config.
func (c *Config) ApplyDefaults() {
	if c.Address == "" {
		c.Address = "localhost:8500"
	}
	if c.Scheme == "" {
		c.Scheme = "http"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Validate checks if the Consul configuration is valid.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("consul address is required")
	}
	if c.Scheme != "http" && c.Scheme != "https" {
		return fmt.Errorf("consul scheme must be 'http' or 'https', got '%s'", c.Scheme)
	}
	if c.TLS.IsEnabled() && c.Scheme != "https" {
		return fmt.Errorf("TLS enabled but scheme is not https")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	return c.TLS.Validate()
}
