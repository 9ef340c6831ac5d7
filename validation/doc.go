// Package validation checks registration descriptors and component configs
// with go-playground/validator struct tags. Failures are returned as
// CONFIGURATION_ERROR so a service never starts with an invalid descriptor.
//
//	type HealthCheck struct {
//	    Kind string `mapstructure:"kind" validate:"oneof=ttl http"`
//	}
package validation
