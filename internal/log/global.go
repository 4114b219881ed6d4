package log

import "sync/atomic"

var defaultLogger atomic.Pointer[Logger]

// SetDefaultLogger replaces the process-wide logger used by components
// constructed without one.
func SetDefaultLogger(l *Logger) {
	defaultLogger.Store(l)
}

// DefaultLogger returns the process-wide logger, creating one from
// DefaultConfig on first use.
func DefaultLogger() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	defaultLogger.CompareAndSwap(nil, New(DefaultConfig()))
	return defaultLogger.Load()
}
