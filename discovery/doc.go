// Package discovery registers the local instance with a service registry and
// discovers peers of named services.
//
// # Architecture
//
//   - Backend: the register/renew/deregister/query capability of one registry
//   - Registrar: the registration state machine keeping the local lease alive
//   - Resolver: cached, filtered, serve-stale discovery with background refresh
//     and blocking-query support
//   - Component: selects the configured backend at startup and runs both
//
// # Backends
//
//   - discovery/consul: HashiCorp Consul agent registration and health queries
//   - discovery/eureka: Netflix Eureka REST API
//   - discovery/static: Static list of endpoints for development/testing
//
// Backends register themselves by provider name; import them for their side
// effect:
//
//	import _ "github.com/kbukum/discoverykit/discovery/consul"
package discovery
