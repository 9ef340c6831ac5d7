package eureka

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kbukum/discoverykit/httpclient"
	"github.com/kbukum/discoverykit/resilience"
	"github.com/kbukum/discoverykit/security"
)

// Config holds Eureka server settings.
type Config struct {
	// ServiceURL is the Eureka REST root, e.g. http://localhost:8761/eureka.
	ServiceURL string `yaml:"service_url" mapstructure:"service_url"`

	// Timeout bounds every call.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// Auth is usually basic auth for a secured server.
	Auth *httpclient.AuthConfig `yaml:"auth" mapstructure:"auth"`

	TLS *security.TLSConfig `yaml:"tls" mapstructure:"tls"`

	// DataCenter is the dataCenterInfo name sent on registration.
	DataCenter string `yaml:"data_center" mapstructure:"data_center"`

	CircuitBreaker *resilience.CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
}

// ApplyDefaults sets sensible defaults for Config.
func (c *Config) ApplyDefaults() {
	if c.ServiceURL == "" {
		c.ServiceURL = "http://localhost:8761/eureka"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.DataCenter == "" {
		c.DataCenter = "MyOwn"
	}
}

// Validate checks if the Eureka configuration is valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServiceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("eureka service_url %q must be an absolute http(s) URL", c.ServiceURL)
	}
	return nil
}
