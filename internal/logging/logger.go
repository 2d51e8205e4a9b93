// Package logging provides the minimal logger used across the service.
package logging

import "log"

// Logger is a minimal interface compatible with stdlib loggers.
type Logger interface {
	Printf(format string, v ...interface{})
}

// NoopLogger discards all log messages.
type NoopLogger struct{}

func (NoopLogger) Printf(string, ...interface{}) {}

// Default returns the process-wide stdlib logger.
func Default() Logger {
	return log.Default()
}

// OrDefault returns l, or the stdlib logger when l is nil.
func OrDefault(l Logger) Logger {
	if l == nil {
		return Default()
	}
	return l
}
