package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Registry errors
const (
	// ErrCodeTransport covers timeouts, refused connections, DNS failures and
	// server-side (5xx, 429) responses from a registry.
	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"
	// ErrCodeUnknownInstance indicates the registry has no record of the lease.
	ErrCodeUnknownInstance ErrorCode = "UNKNOWN_INSTANCE"
	// ErrCodeMalformedResponse indicates an unexpected payload shape.
	ErrCodeMalformedResponse ErrorCode = "MALFORMED_RESPONSE"
	// ErrCodeRejected indicates a 4xx response that is neither auth nor not-found.
	ErrCodeRejected ErrorCode = "REQUEST_REJECTED"
)

// Startup errors
const (
	// ErrCodeConfiguration indicates an invalid descriptor or component config.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"
)

// Resource errors
const (
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeTransport: true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
