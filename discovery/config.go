package discovery

import (
	"fmt"
	"time"

	"github.com/kbukum/discoverykit/resilience"
)

// Config holds service discovery and registration configuration.
type Config struct {
	// Enabled controls whether the discovery component is active.
	Enabled bool `mapstructure:"enabled"`

	// Provider selects the registry backend: "consul", "eureka" or "static".
	Provider string `mapstructure:"provider"`

	// Registration configures self-registration. Disabled registration still
	// allows discovery.
	Registration RegistrationConfig `mapstructure:"registration"`

	// Resolver configures discovery caching and refresh.
	Resolver ResolverConfig `mapstructure:"resolver"`
}

// RegistrationConfig is the descriptor of the local instance plus the
// registrar's timing.
type RegistrationConfig struct {
	Enabled    bool                   `mapstructure:"enabled"`
	Descriptor RegistrationDescriptor `mapstructure:",squash"`
	Registrar  RegistrarConfig        `mapstructure:",squash"`
}

// RegistrarConfig tunes the registration state machine.
type RegistrarConfig struct {
	// RenewInterval defaults to a third of the health-check TTL, or 10s when
	// the TTL is not set either.
	RenewInterval time.Duration `mapstructure:"renew_interval"`

	// CallTimeout bounds every register and renew call.
	CallTimeout time.Duration `mapstructure:"call_timeout"`

	// DeregisterTimeout bounds the single deregistration on shutdown.
	DeregisterTimeout time.Duration `mapstructure:"deregister_timeout"`

	// Backoff is the retry curve after a failed registration.
	Backoff resilience.Backoff `mapstructure:"backoff"`
}

// ResolverConfig tunes the discovery cache.
type ResolverConfig struct {
	// StaleAfter is how long a refreshed snapshot stays fresh.
	StaleAfter time.Duration `mapstructure:"stale_after"`

	// SyncTimeout bounds the refresh a caller waits for on a stale entry.
	SyncTimeout time.Duration `mapstructure:"sync_timeout"`

	// RefreshInterval is the polling period for registries without
	// blocking queries.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`

	// WaitTime is the long-poll duration requested from blocking registries.
	WaitTime time.Duration `mapstructure:"wait_time"`

	// CallTimeout bounds background queries. Long polls get WaitTime on top.
	CallTimeout time.Duration `mapstructure:"call_timeout"`

	// MinPollInterval is the least time between two long polls of one
	// service, for registries that answer a blocking query right away.
	MinPollInterval time.Duration `mapstructure:"min_poll_interval"`

	// MaxServices caps the number of cached services. Names beyond it are
	// not resolved; services in Watch are always admitted.
	MaxServices int `mapstructure:"max_services"`

	// AutoWatch starts a background watcher on the first resolve of a service.
	AutoWatch bool `mapstructure:"auto_watch"`

	// Watch lists services watched from startup.
	Watch []string `mapstructure:"watch"`

	// HealthyOnly keeps only UP instances.
	HealthyOnly bool `mapstructure:"healthy_only"`

	// Zone prefers instances in this zone, falling back to all instances
	// when none match.
	Zone string `mapstructure:"zone"`

	// Strategy is the default ResolveOne strategy.
	Strategy LoadBalancingStrategy `mapstructure:"strategy"`

	// Backoff is the retry curve after a failed background refresh.
	Backoff resilience.Backoff `mapstructure:"backoff"`
}

// ApplyDefaults fills zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "static"
	}
	hc := &c.Registration.Descriptor.HealthCheck
	c.Registration.Registrar.ApplyDefaults(hc.TTL)
	if hc.TTL == 0 {
		hc.TTL = DefaultTTL(c.Registration.Registrar.RenewInterval)
	}
	c.Resolver.ApplyDefaults()
}

// ApplyDefaults derives the renew interval from ttl when unset. Without a
// ttl the interval is 10s and the ttl follows from it (see DefaultTTL).
func (c *RegistrarConfig) ApplyDefaults(ttl time.Duration) {
	if c.RenewInterval <= 0 {
		if ttl > 0 {
			c.RenewInterval = ttl / 3
		} else {
			c.RenewInterval = defaultRenewInterval
		}
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.DeregisterTimeout <= 0 {
		c.DeregisterTimeout = 5 * time.Second
	}
	c.Backoff = c.Backoff.WithDefaults()
}

// ApplyDefaults fills zero-valued fields with sensible defaults.
func (c *ResolverConfig) ApplyDefaults() {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Second
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = 2 * time.Second
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 15 * time.Second
	}
	if c.WaitTime <= 0 {
		c.WaitTime = 55 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.MinPollInterval <= 0 {
		c.MinPollInterval = 100 * time.Millisecond
	}
	if c.MaxServices <= 0 {
		c.MaxServices = 256
	}
	if c.Strategy == "" {
		c.Strategy = StrategyRoundRobin
	}
	c.Backoff = c.Backoff.WithDefaults()
}

// Validate checks that required fields are present and consistent.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Provider == "" {
		return fmt.Errorf("discovery provider is required")
	}
	switch c.Resolver.Strategy {
	case "", StrategyRandom, StrategyRoundRobin, StrategyWeighted:
	default:
		return fmt.Errorf("unsupported load balancing strategy %q", c.Resolver.Strategy)
	}
	ttl := c.Registration.Descriptor.HealthCheck.TTL
	if c.Registration.Enabled && ttl > 0 && c.Registration.Registrar.RenewInterval >= ttl {
		return fmt.Errorf("renew_interval %s must be shorter than the health check ttl %s",
			c.Registration.Registrar.RenewInterval, ttl)
	}
	return nil
}

// Filters returns the filter chain configured for the resolver.
func (c *ResolverConfig) Filters() []Filter {
	var filters []Filter
	if c.HealthyOnly {
		filters = append(filters, HealthFilter(StatusUp))
	}
	if c.Zone != "" {
		filters = append(filters, ZoneAffinity(c.Zone))
	}
	return filters
}
