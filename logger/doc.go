// Package logger provides structured logging on top of zerolog.
//
// Loggers are scoped by component (registrar, resolver, consul, vault...)
// and carry the service name they were created for. Trace and span ids are
// attached from an OpenTelemetry span context when one is present.
//
//	logging:
//	  level: "info"
//	  format: "json"
package logger
