// Package security builds the TLS client configuration used to reach
// registries and config servers over https, including mutual TLS for Consul
// agents and Vault servers that require client certificates.
package security
