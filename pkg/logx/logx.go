// Package logx provides leveled, component-tagged logging for the bot.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// Level identifies the severity of a log line.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes leveled log lines tagged with a component ID.
type Logger struct {
	component string
	logger    *log.Logger
}

// Global debug toggle, initialized from the DEBUG environment variable.
//
//nolint:gochecknoglobals // Process-wide debug switch
var (
	debugEnabled bool
	debugMu      sync.RWMutex
)

//nolint:gochecknoinits // Required for env var initialization
func init() {
	v := strings.ToLower(os.Getenv("DEBUG"))
	if v == "1" || v == "true" {
		debugEnabled = true
	}
}

// SetDebug enables or disables debug-level output at runtime.
func SetDebug(enabled bool) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugEnabled = enabled
}

// IsDebugEnabled reports whether debug-level output is active.
func IsDebugEnabled() bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debugEnabled
}

// NewLogger creates a logger tagged with the given component ID.
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", log.LstdFlags),
	}
}

// WithComponent returns a copy of the logger tagged with a different component ID.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{component: component, logger: l.logger}
}

// Component returns the logger's component ID.
func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) log(level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] %-5s %s", l.component, level, msg)
}

// Debug logs a debug-level message when debug output is enabled.
func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(LevelDebug, format, args...)
}

// Info logs an info-level message.
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning-level message.
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error-level message.
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Default logger for package-level helpers.
//
//nolint:gochecknoglobals // Shared convenience logger
var defaultLogger = NewLogger("warmbot")

// Debugf logs a debug message on the default logger.
func Debugf(format string, args ...any) {
	defaultLogger.Debug(format, args...)
}

// Infof logs an info message on the default logger.
func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

// Warnf logs a warning message on the default logger.
func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs an error message on the default logger and returns it as an error.
func Errorf(format string, args ...any) error {
	defaultLogger.Error(format, args...)
	return fmt.Errorf(format, args...)
}

// Wrap annotates err with msg while preserving the original error for errors.Is/As.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
