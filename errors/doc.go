// Package errors provides the structured error type shared by the registry
// transport, the registration state machine, the discovery resolver and the
// configuration sources. Every error carries a machine-readable code, a
// retryable flag and the HTTP status it was derived from.
package errors
