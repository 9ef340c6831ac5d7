package logger

import (
	"time"
)

// Field keys shared by every component.
const (
	FieldService   = "service"
	FieldComponent = "component"
	FieldTraceID   = "trace_id"
	FieldSpanID    = "span_id"
	FieldOperation = "operation"
	FieldError     = "error"
	FieldDuration  = "duration_ms"

	FieldBackend    = "backend"
	FieldInstanceID = "instance_id"
	FieldTarget     = "target_service"
	FieldState      = "state"
	FieldFromState  = "from_state"
	FieldAttempt    = "attempt"
	FieldBackoff    = "backoff_ms"
	FieldMisses     = "misses"
	FieldIndex      = "index"
	FieldInstances  = "instances"
	FieldSource     = "property_source"
)

// Fields builds a map from alternating key-value pairs.
//
//	log.Info("lease renewed", logger.Fields(logger.FieldInstanceID, id))
func Fields(kvs ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kvs)/2)
	for i := 0; i < len(kvs)-1; i += 2 {
		if key, ok := kvs[i].(string); ok {
			m[key] = kvs[i+1]
		}
	}
	return m
}

// ErrorFields creates fields for an operation that failed.
func ErrorFields(op string, err error) map[string]interface{} {
	return map[string]interface{}{
		FieldOperation: op,
		FieldError:     err.Error(),
	}
}

// DurationFields creates fields for a timed operation.
func DurationFields(op string, d time.Duration) map[string]interface{} {
	return map[string]interface{}{
		FieldOperation: op,
		FieldDuration:  d.Milliseconds(),
	}
}
