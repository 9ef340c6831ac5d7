// Package component defines the lifecycle contract shared by the registrar,
// the resolver, configuration sources and the HTTP server, and a Registry
// that starts them in order and stops them in reverse.
package component
