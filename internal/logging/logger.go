package logging

import (
	"fmt"
	"os"
	"reflect"
	"sync"

	"sceneforge/internal/observability"
)

// Logger defines a minimal, printf-style logging contract.
//
// Components depend on this interface instead of a concrete logger so
// they can be exercised headless in tests with Nop().
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

var (
	defaultLogger     *observability.Logger
	defaultLoggerOnce sync.Once
	defaultLoggerMu   sync.RWMutex
)

// SetDefault installs the process-wide structured logger used by
// NewComponentLogger. Intended to be called once during startup.
func SetDefault(logger *observability.Logger) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = logger
}

func getDefault() *observability.Logger {
	defaultLoggerMu.RLock()
	if defaultLogger != nil {
		defer defaultLoggerMu.RUnlock()
		return defaultLogger
	}
	defaultLoggerMu.RUnlock()

	defaultLoggerOnce.Do(func() {
		defaultLoggerMu.Lock()
		defer defaultLoggerMu.Unlock()
		if defaultLogger == nil {
			defaultLogger = observability.NewLogger(observability.LogConfig{
				Level:  "info",
				Format: "text",
				Output: os.Stderr,
			})
		}
	})

	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return FromObservabilityWithComponent(getDefault(), component)
}

type observabilityPrintfLogger struct {
	logger *observability.Logger
}

// FromObservabilityWithComponent wraps an observability logger and preserves
// printf-style call sites by formatting the message before emitting it.
func FromObservabilityWithComponent(logger *observability.Logger, component string) Logger {
	if logger == nil {
		return Nop()
	}
	scoped := logger
	if component != "" {
		scoped = scoped.With("component", component)
	}
	return &observabilityPrintfLogger{logger: scoped}
}

func (l *observabilityPrintfLogger) Debug(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *observabilityPrintfLogger) Info(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *observabilityPrintfLogger) Warn(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *observabilityPrintfLogger) Error(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
