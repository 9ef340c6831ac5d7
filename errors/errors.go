package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError is the error type returned by every registry-facing operation.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the registry status the error was derived from, or the
	// status to report when the error is served over HTTP.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	for k, v := range details {
		e.WithDetail(k, v)
	}
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// Transport creates a retryable error for a registry call that never produced
// a usable response.
func Transport(operation string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeTransport, Message: fmt.Sprintf("registry call %s failed", operation),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"operation": operation}, Cause: cause,
	}
}

// Timeout creates a transport error for a call that exceeded its deadline.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTransport, Message: fmt.Sprintf("registry call %s timed out", operation),
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"operation": operation, "timeout": true},
	}
}

// UnknownInstance reports that the registry no longer knows the instance.
// The registration state machine answers it by registering again.
func UnknownInstance(service, instanceID string) *AppError {
	return &AppError{
		Code: ErrCodeUnknownInstance, Message: fmt.Sprintf("registry has no instance %s of %s", instanceID, service),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"service": service, "instance_id": instanceID},
	}
}

// Malformed creates an error for a registry response that could not be decoded.
func Malformed(source string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeMalformedResponse, Message: fmt.Sprintf("malformed response from %s", source),
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]any{"source": source}, Cause: cause,
	}
}

// Configuration creates a fatal startup error.
func Configuration(message string) *AppError {
	return &AppError{
		Code: ErrCodeConfiguration, Message: message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Configurationf is Configuration with formatting.
func Configurationf(format string, args ...any) *AppError {
	return Configuration(fmt.Sprintf(format, args...))
}

// NotFound creates an error for a missing registry resource.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound, Details: details,
	}
}

// Unauthorized creates an error for a rejected token or credentials.
func Unauthorized(reason string) *AppError {
	if reason == "" {
		reason = "registry rejected credentials"
	}
	return &AppError{Code: ErrCodeUnauthorized, Message: reason, HTTPStatus: http.StatusUnauthorized}
}

// Internal wraps an unexpected error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "unexpected error",
		HTTPStatus: http.StatusInternalServerError, Cause: cause,
	}
}

// FromStatus classifies a non-2xx registry response.
func FromStatus(status int, operation string, body []byte) *AppError {
	var e *AppError
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		e = &AppError{
			Code: ErrCodeTransport, Message: fmt.Sprintf("registry call %s returned %d", operation, status),
			Retryable: true,
		}
	case status == http.StatusNotFound, status == http.StatusGone:
		e = &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf("registry call %s returned %d", operation, status)}
	case status == http.StatusUnauthorized:
		e = Unauthorized("")
	case status == http.StatusForbidden:
		e = &AppError{Code: ErrCodeForbidden, Message: "registry denied access"}
	default:
		e = &AppError{Code: ErrCodeRejected, Message: fmt.Sprintf("registry call %s returned %d", operation, status)}
	}
	e.HTTPStatus = status
	e.WithDetail("operation", operation)
	if len(body) > 0 {
		e.WithDetail("body", truncate(string(body), 256))
	}
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func hasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// IsTransport reports whether err is a transport-class (retryable) failure.
func IsTransport(err error) bool { return hasCode(err, ErrCodeTransport) }

// IsUnknownInstance reports whether err means the lease is gone remotely.
func IsUnknownInstance(err error) bool { return hasCode(err, ErrCodeUnknownInstance) }

// IsMalformed reports whether err is a decoding failure.
func IsMalformed(err error) bool { return hasCode(err, ErrCodeMalformedResponse) }

// IsConfiguration reports whether err is a fatal startup error.
func IsConfiguration(err error) bool { return hasCode(err, ErrCodeConfiguration) }

// IsNotFound reports whether err is a not-found response.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsRetryable reports whether err carries the retryable flag.
func IsRetryable(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Retryable
}

// IsDenied reports an UNAUTHORIZED or FORBIDDEN error.
func IsDenied(err error) bool {
	return hasCode(err, ErrCodeUnauthorized) || hasCode(err, ErrCodeForbidden)
}
