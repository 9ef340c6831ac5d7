// Package server exposes the inspection API of a discoverykit process over
// HTTP, using Gin with h2c support.
//
// # Middleware
//
// server/middleware wraps the whole engine with plain http.Handler
// middleware: Recovery, RequestID, Tracing, CORS and RequestLogger.
//
// # Endpoints
//
// RegisterDefaultEndpoints mounts:
//
//   - /health, /alive, /ready: component health and probes
//   - /info: service identity and the registered instance id
//   - /discovery/services, /discovery/services/:name: resolved memberships,
//     or one instance picked with ?strategy=random|round_robin|weighted
//   - /discovery/lease: the local registration lease
//   - /config, /config/:key: effective properties and their source
package server
