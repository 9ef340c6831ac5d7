// Package config loads a service's local configuration with Viper.
//
// Sources, lowest precedence first: defaults set in code, the YAML file
// (config.yml found under ./cmd/<service>, ./config or the working
// directory), a .env file loaded with godotenv, and process environment
// variables. Environment variables use the service prefix and underscores,
// so DISCOVERYD_DISCOVERY_RENEW_INTERVAL maps to discovery.renew_interval.
//
// Load returns the *viper.Viper it used so remote property sources fetched
// later (see package configsource) can be merged in and the struct
// re-decoded with Decode.
package config
