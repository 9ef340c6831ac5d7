package config

import (
	"fmt"
	"slices"

	"github.com/kbukum/discoverykit/logger"
)

// ServiceConfig is embedded by every daemon config.
//
//	type Config struct {
//	    config.ServiceConfig `mapstructure:",squash"`
//	    Discovery discovery.Config `mapstructure:"discovery"`
//	}
type ServiceConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Environment string `yaml:"environment" mapstructure:"environment"`
	Version     string `yaml:"version" mapstructure:"version"`

	// Profiles are the active configuration profiles used when fetching
	// remote property sources.
	Profiles []string      `yaml:"profiles" mapstructure:"profiles"`
	Logging  logger.Config `yaml:"logging" mapstructure:"logging"`
}

// GetServiceConfig returns the base ServiceConfig.
func (c *ServiceConfig) GetServiceConfig() *ServiceConfig {
	return c
}

// ApplyDefaults applies default values to the base configuration.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if len(c.Profiles) == 0 {
		c.Profiles = []string{c.Environment}
	}
	c.Logging.ApplyDefaults()
}

// Validate validates the base configuration fields.
func (c *ServiceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config.name is required")
	}
	validEnvs := []string{"development", "test", "staging", "production"}
	if !slices.Contains(validEnvs, c.Environment) {
		return fmt.Errorf("config.environment must be one of %v (got: %s)", validEnvs, c.Environment)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("config.logging: %w", err)
	}
	return nil
}
