// Package logging wraps a zap.SugaredLogger behind the printf-style call
// sites the teacher's pkg/webserver.Server uses for its own log lines
// (Server.printf/fatalf), so the rest of the tree logs through one
// structured sink instead of the standard library's bare *log.Logger.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

var (
	mu      sync.RWMutex
	current *zap.SugaredLogger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	current = l.Sugar()
}

// Configure swaps the process-wide logger, e.g. to a development logger
// with human-readable output, or to a level set from configuration.
func Configure(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	current = l.Sugar()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func Infof(format string, args ...interface{})  { get().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { get().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { get().Errorf(format, args...) }
func Debugf(format string, args ...interface{}) { get().Debugf(format, args...) }

// Fatalf logs at error level and then exits the process, mirroring the
// teacher's Server.fatalf behavior (used sparingly, only at startup).
func Fatalf(format string, args ...interface{}) {
	get().Errorf(format, args...)
	os.Exit(1)
}

// Sync flushes any buffered log entries; call before process exit.
func Sync() {
	_ = get().Sync()
}
