package log

import (
	"fmt"
	"strings"
)

// Format selects the output encoding of a logger. It implements the
// pflag.Value interface so it can be set from flags and config.
type Format uint

const (
	// FmtLogfmt is the "logfmt" output encoding.
	FmtLogfmt Format = iota
	// FmtJSON is the JSON output encoding.
	FmtJSON
)

// String returns the string representation of a Format.
func (f *Format) String() string {
	switch *f {
	case FmtLogfmt:
		return "logfmt"
	case FmtJSON:
		return "JSON"
	default:
		panic("log: unsupported format")
	}
}

// Set sets the Format from its string representation.
func (f *Format) Set(s string) error {
	switch strings.ToUpper(s) {
	case "LOGFMT":
		*f = FmtLogfmt
	case "JSON":
		*f = FmtJSON
	default:
		return fmt.Errorf("log: invalid log format: '%s'", s)
	}

	return nil
}

// Type returns the list of supported Formats.
func (f *Format) Type() string {
	return "[logfmt,JSON]"
}
