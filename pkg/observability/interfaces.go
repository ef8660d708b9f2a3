// Package observability provides logging and tracing shared by the answer cache
// components. Logging is structured (zerolog underneath) and tracing goes
// through OpenTelemetry.
package observability

import (
	"go.opentelemetry.io/otel/trace"
)

// Config groups logging and tracing settings
type Config struct {
	Tracing TracingConfig `mapstructure:"tracing"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// TracingConfig configures the OTLP exporter
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
	// Endpoint is the host:port of an OTLP/gRPC collector
	Endpoint string `mapstructure:"endpoint"`
	// SampleRatio is the share of root spans kept; zero or above one keeps all
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig configures the zerolog base logger
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format is json or console
	Format string `mapstructure:"format"`
}

// LogLevel defines log message severity
type LogLevel string

// Log levels
const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

// Logger defines the interface for logging
type Logger interface {
	// Core logging methods with fields
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Fatal(msg string, fields map[string]interface{})

	// Formatted logging methods
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// Context methods
	WithPrefix(prefix string) Logger
	With(fields map[string]interface{}) Logger
}

// Span is the tracing surface components use. Attributes accept strings,
// integers, floats and bools; anything else is recorded with %v.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	AddEvent(name string, attributes map[string]interface{})
	RecordError(err error)
	SpanContext() trace.SpanContext
}
