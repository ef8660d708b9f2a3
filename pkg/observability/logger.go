package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	baseMu sync.RWMutex
	base   = newBase(LoggingConfig{Level: "info", Format: "json"}, os.Stderr)
)

// Configure sets the level and format used by every logger created afterwards
// with NewLogger. Loggers created earlier keep their previous settings.
func Configure(cfg LoggingConfig, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	baseMu.Lock()
	defer baseMu.Unlock()
	base = newBase(cfg, out)
}

func newBase(cfg LoggingConfig, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	return zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ZerologLogger is the default Logger implementation
type ZerologLogger struct {
	prefix string
	// root carries every field except component
	root zerolog.Logger
	zl   zerolog.Logger
}

func newZerologLogger(prefix string, root zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{prefix: prefix, root: root, zl: root.With().Str("component", prefix).Logger()}
}

// NewLogger creates a logger tagged with the given component prefix
func NewLogger(prefix string) Logger {
	baseMu.RLock()
	zl := base
	baseMu.RUnlock()
	return newZerologLogger(prefix, zl)
}

// NewLoggerWithWriter creates a logger writing JSON lines to w at the given level
func NewLoggerWithWriter(prefix string, level LogLevel, w io.Writer) Logger {
	return newZerologLogger(prefix, newBase(LoggingConfig{Level: string(level)}, w))
}

// Debug logs a debug message
func (l *ZerologLogger) Debug(msg string, fields map[string]interface{}) {
	l.zl.Debug().Fields(fields).Msg(msg)
}

// Info logs an info message
func (l *ZerologLogger) Info(msg string, fields map[string]interface{}) {
	l.zl.Info().Fields(fields).Msg(msg)
}

// Warn logs a warning message
func (l *ZerologLogger) Warn(msg string, fields map[string]interface{}) {
	l.zl.Warn().Fields(fields).Msg(msg)
}

// Error logs an error message
func (l *ZerologLogger) Error(msg string, fields map[string]interface{}) {
	l.zl.Error().Fields(fields).Msg(msg)
}

// Fatal logs a fatal message and exits
func (l *ZerologLogger) Fatal(msg string, fields map[string]interface{}) {
	l.zl.Fatal().Fields(fields).Msg(msg)
}

// Debugf logs a formatted debug message
func (l *ZerologLogger) Debugf(format string, args ...interface{}) {
	l.zl.Debug().Msg(fmt.Sprintf(format, args...))
}

// Infof logs a formatted info message
func (l *ZerologLogger) Infof(format string, args ...interface{}) {
	l.zl.Info().Msg(fmt.Sprintf(format, args...))
}

// Warnf logs a formatted warning message
func (l *ZerologLogger) Warnf(format string, args ...interface{}) {
	l.zl.Warn().Msg(fmt.Sprintf(format, args...))
}

// Errorf logs a formatted error message
func (l *ZerologLogger) Errorf(format string, args ...interface{}) {
	l.zl.Error().Msg(fmt.Sprintf(format, args...))
}

// WithPrefix returns a child logger whose component is nested under this
// one, e.g. "answer" and "cache" give "answer.cache"
func (l *ZerologLogger) WithPrefix(prefix string) Logger {
	if l.prefix != "" {
		prefix = l.prefix + "." + prefix
	}
	return newZerologLogger(prefix, l.root)
}

// With returns a new logger that always carries the given fields
func (l *ZerologLogger) With(fields map[string]interface{}) Logger {
	return &ZerologLogger{
		prefix: l.prefix,
		root:   l.root.With().Fields(fields).Logger(),
		zl:     l.zl.With().Fields(fields).Logger(),
	}
}

// NoopLogger is a logger that does nothing
type NoopLogger struct{}

// NewNoopLogger creates a new NoopLogger
func NewNoopLogger() Logger {
	return &NoopLogger{}
}

// Debug implements Logger.Debug
func (l *NoopLogger) Debug(msg string, fields map[string]interface{}) {}

// Info implements Logger.Info
func (l *NoopLogger) Info(msg string, fields map[string]interface{}) {}

// Warn implements Logger.Warn
func (l *NoopLogger) Warn(msg string, fields map[string]interface{}) {}

// Error implements Logger.Error
func (l *NoopLogger) Error(msg string, fields map[string]interface{}) {}

// Fatal implements Logger.Fatal
func (l *NoopLogger) Fatal(msg string, fields map[string]interface{}) {}

// Debugf implements Logger.Debugf
func (l *NoopLogger) Debugf(format string, args ...interface{}) {}

// Infof implements Logger.Infof
func (l *NoopLogger) Infof(format string, args ...interface{}) {}

// Warnf implements Logger.Warnf
func (l *NoopLogger) Warnf(format string, args ...interface{}) {}

// Errorf implements Logger.Errorf
func (l *NoopLogger) Errorf(format string, args ...interface{}) {}

// WithPrefix implements Logger.WithPrefix
func (l *NoopLogger) WithPrefix(prefix string) Logger {
	return l
}

// With implements Logger.With
func (l *NoopLogger) With(fields map[string]interface{}) Logger {
	return l
}
