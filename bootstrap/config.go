package bootstrap

import (
	"github.com/kbukum/discoverykit/config"
)

// Config is the interface constraint for daemon configuration types.
// Any struct that embeds config.ServiceConfig satisfies it through promoted
// methods.
//
//	type Config struct {
//	    config.ServiceConfig `mapstructure:",squash"`
//	    Discovery discovery.Config `mapstructure:"discovery"`
//	}
//
//	app, err := bootstrap.NewApp[*Config](&cfg)
type Config interface {
	GetServiceConfig() *config.ServiceConfig
	ApplyDefaults()
	Validate() error
}
