// Package resilience holds the failure-handling primitives shared by the
// registry clients: a jittered exponential Backoff used by the registration
// and refresh loops, Retry for one-shot calls, and a CircuitBreaker the
// transport uses to fail fast against a registry that keeps timing out.
package resilience
