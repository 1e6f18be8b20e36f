package log

import (
	"fmt"
	"strings"
)

// Level is a logging severity threshold. It implements the pflag.Value
// interface so it can be set from flags and config.
type Level uint

const (
	// LevelDebug passes everything through.
	LevelDebug Level = iota
	// LevelInfo drops debug lines.
	LevelInfo
	// LevelWarn keeps warnings and errors only.
	LevelWarn
	// LevelError keeps errors only.
	LevelError
)

// String returns the string representation of a Level.
func (l *Level) String() string {
	switch *l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		panic("log: unsupported level")
	}
}

// Set sets the Level from its string representation.
func (l *Level) Set(s string) error {
	switch strings.ToUpper(s) {
	case "DEBUG":
		*l = LevelDebug
	case "INFO":
		*l = LevelInfo
	case "WARN":
		*l = LevelWarn
	case "ERROR":
		*l = LevelError
	default:
		return fmt.Errorf("log: invalid log level: '%s'", s)
	}

	return nil
}

// Type returns the list of supported Levels.
func (l *Level) Type() string {
	return "[DEBUG,INFO,WARN,ERROR]"
}
