package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kbukum/discoverykit/config"
	"github.com/kbukum/discoverykit/configsource"
	"github.com/kbukum/discoverykit/configsource/consulkv"
	"github.com/kbukum/discoverykit/configsource/springcloud"
	"github.com/kbukum/discoverykit/configsource/vault"
	"github.com/kbukum/discoverykit/discovery"
	"github.com/kbukum/discoverykit/discovery/consul"
	"github.com/kbukum/discoverykit/discovery/eureka"
	"github.com/kbukum/discoverykit/discovery/static"
	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/observability"
	"github.com/kbukum/discoverykit/redis"
	"github.com/kbukum/discoverykit/server"
	"github.com/kbukum/discoverykit/version"
)

const serviceName = "discoveryd"

// Config is the daemon configuration. Provider sections are read only for
// the provider selected in configsource.provider and discovery.provider.
type Config struct {
	config.ServiceConfig `mapstructure:",squash"`

	ConfigSource  ConfigSourceConfig   `mapstructure:"configsource"`
	Discovery     DiscoveryConfig      `mapstructure:"discovery"`
	Redis         RedisConfig          `mapstructure:"redis"`
	Server        server.Config        `mapstructure:"server"`
	Observability observability.Config `mapstructure:"observability"`
}

// ConfigSourceConfig is configsource.Config plus one section per source.
type ConfigSourceConfig struct {
	configsource.Config `mapstructure:",squash"`

	Consul      consulkv.Config    `mapstructure:"consul"`
	Vault       vault.Config       `mapstructure:"vault"`
	SpringCloud springcloud.Config `mapstructure:"springcloud"`
}

// DiscoveryConfig is discovery.Config plus one section per backend.
type DiscoveryConfig struct {
	discovery.Config `mapstructure:",squash"`

	Consul consul.Config `mapstructure:"consul"`
	Eureka eureka.Config `mapstructure:"eureka"`
	Static static.Config `mapstructure:"static"`
}

// RedisConfig enables resolver snapshot persistence.
type RedisConfig struct {
	redis.Config `mapstructure:",squash"`

	// SnapshotTTL bounds how long a persisted membership is kept.
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = version.Get().String()
	}
	c.ServiceConfig.ApplyDefaults()
	c.ConfigSource.ApplyDefaults()
	if c.ConfigSource.Application == "" {
		c.ConfigSource.Application = c.Name
	}
	if len(c.ConfigSource.Profiles) == 0 {
		c.ConfigSource.Profiles = c.Profiles
	}
	c.Discovery.ApplyDefaults()
	desc := &c.Discovery.Registration.Descriptor
	if desc.ServiceName == "" {
		desc.ServiceName = c.Name
	}
	if _, ok := desc.Metadata["version"]; !ok {
		if desc.Metadata == nil {
			desc.Metadata = map[string]string{}
		}
		desc.Metadata["version"] = c.Version
	}
	c.Server.ApplyDefaults()
	if desc.Port == 0 {
		desc.Port = c.Server.Port
	}
	c.Redis.ApplyDefaults()
	c.Observability.ApplyDefaults()
}

func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.ConfigSource.Validate(); err != nil {
		return err
	}
	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if c.Redis.Enabled {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return c.Observability.Validate()
}

// sourceConfig returns the section of the selected configuration source.
func (c *ConfigSourceConfig) sourceConfig() any {
	switch c.Provider {
	case "consul":
		return &c.Consul
	case "vault":
		return &c.Vault
	case "springcloud":
		return &c.SpringCloud
	}
	return nil
}

// backendConfig returns the section of the selected registry backend.
func (c *DiscoveryConfig) backendConfig() any {
	switch c.Provider {
	case "consul":
		return &c.Consul
	case "eureka":
		return &c.Eureka
	case "static":
		return &c.Static
	}
	return nil
}

// loadConfig reads the local layers, fetches the remote property sources
// and decodes the merged result. The returned source component holds the
// fetched sources for the config endpoints.
func loadConfig(ctx context.Context, path string) (*Config, *configsource.Component, error) {
	var opts []config.LoaderOption
	if path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}
	cfg := &Config{}
	v, err := config.Load(serviceName, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.ConfigSource.Validate(); err != nil {
		return nil, nil, err
	}

	log := logger.Init(cfg.Logging, cfg.Name)
	src := configsource.NewComponent(cfg.ConfigSource.Config, cfg.ConfigSource.sourceConfig(), v.AllSettings(), log)
	if err := src.Start(ctx); err != nil {
		return nil, nil, err
	}
	if err := configsource.MergeInto(v, src.Resolver().Sources()); err != nil {
		return nil, nil, err
	}

	merged := &Config{}
	if err := config.Decode(v, merged); err != nil {
		return nil, nil, fmt.Errorf("config: decode merged configuration: %w", err)
	}
	return merged, src, nil
}
