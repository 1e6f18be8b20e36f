// Package log provides the structured, leveled logging used by every
// flightcast service. It is a thin wrapper over go-kit/log that pins the
// output key set: ts, caller, level, module, msg, then call-site pairs.
package log

import (
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger is a leveled, module-tagged logger.
type Logger struct {
	logger log.Logger
	level  Level
	module string
}

// NewDefaultLogger returns a JSON logger on stdout at info level.
// Outside tests and early startup, prefer RootLogger() from
// `cmd/common` so the configured format and level apply.
func NewDefaultLogger(module string) *Logger {
	logger, err := NewLogger(module, os.Stdout, FmtJSON, LevelInfo)
	if err != nil {
		// NewLogger only fails on an unknown format.
		panic(err)
	}
	return logger
}

// NewLogger creates a logger writing to w in the given format.
func NewLogger(module string, w io.Writer, format Format, lvl Level) (*Logger, error) {
	// One frame above log.DefaultCaller, to skip the leveled methods
	// below.
	callerUnwind := 4

	var logger log.Logger
	switch format {
	case FmtLogfmt:
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	case FmtJSON:
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	default:
		return nil, fmt.Errorf("log: unsupported log format: %v", format)
	}

	prefixes := []interface{}{
		"ts", log.DefaultTimestampUTC,
		"caller", log.Caller(callerUnwind),
	}
	logger = log.WithPrefix(logger, prefixes...)

	return &Logger{
		logger: logger,
		level:  lvl,
		module: module,
	}, nil
}

// Debug logs msg and the key/value pairs at debug level.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	if l.level > LevelDebug {
		return
	}
	keyvals = append([]interface{}{"module", l.module, "msg", msg}, keyvals...)
	_ = level.Debug(l.logger).Log(keyvals...)
}

// Info logs msg and the key/value pairs at info level.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	if l.level > LevelInfo {
		return
	}
	keyvals = append([]interface{}{"module", l.module, "msg", msg}, keyvals...)
	_ = level.Info(l.logger).Log(keyvals...)
}

// Warn logs msg and the key/value pairs at warn level.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	if l.level > LevelWarn {
		return
	}
	keyvals = append([]interface{}{"module", l.module, "msg", msg}, keyvals...)
	_ = level.Warn(l.logger).Log(keyvals...)
}

// Error logs msg and the key/value pairs at error level.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	if l.level > LevelError {
		return
	}
	keyvals = append([]interface{}{"module", l.module, "msg", msg}, keyvals...)
	_ = level.Error(l.logger).Log(keyvals...)
}

// With returns a copy of the logger that emits the given key/value
// pairs on every subsequent line.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{
		logger: log.With(l.logger, keyvals...),
		level:  l.level,
		module: l.module,
	}
}

// WithModule returns a copy of the logger tagged with the given module
// name instead of the current one.
func (l *Logger) WithModule(module string) *Logger {
	return &Logger{
		logger: l.logger,
		level:  l.level,
		module: module,
	}
}

// Level returns the level below which lines are dropped.
func (l *Logger) Level() Level {
	return l.level
}
