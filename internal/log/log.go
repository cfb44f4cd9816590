// Package log provides the process-wide logging facade backed by logrus.
package log

import (
	"sync"
)

type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

var (
	mu     sync.Mutex
	logger Logger
)

// GetLogger returns the process logger. If Init was never called a console
// logger with default settings is created on first use, so library code and
// tests never observe a nil logger.
func GetLogger() Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = newAdapter(DefaultConfig())
	}
	return logger
}

// Init replaces the process logger according to cfg. Calling Init more than
// once is allowed; the last call wins.
func Init(cfg *Config) error {
	adapter, err := newAdapterChecked(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	logger = adapter
	mu.Unlock()
	return nil
}
