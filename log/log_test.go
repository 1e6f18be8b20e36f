package log

import (
	"bytes"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const tsRegex = `\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{0,9}Z`

func TestLogfmtOutput(t *testing.T) {
	var b bytes.Buffer
	l, err := NewLogger("submit", &b, FmtLogfmt, LevelDebug)
	require.NoError(t, err)

	l.Debug("envelope sealed")
	require.Regexp(t, regexp.MustCompile(
		`level=debug ts=`+tsRegex+` caller=log_test\.go:\d{1,4} module=submit msg="envelope sealed"`),
		b.String())
}

func TestJSONOutput(t *testing.T) {
	var b bytes.Buffer
	l, err := NewLogger("submit", &b, FmtJSON, LevelDebug)
	require.NoError(t, err)

	l.Debug("envelope sealed")
	require.Regexp(t, regexp.MustCompile(
		`{"caller":"log_test\.go:\d{1,4}","level":"debug","module":"submit","msg":"envelope sealed","ts":"`+tsRegex+`"}\n`),
		b.String())
}

func TestUnknownFormat(t *testing.T) {
	var b bytes.Buffer
	_, err := NewLogger("submit", &b, Format(255), LevelDebug)
	require.Error(t, err)
}

func TestWith(t *testing.T) {
	var b bytes.Buffer
	l, err := NewLogger("submit", &b, FmtJSON, LevelDebug)
	require.NoError(t, err)

	l.With("commit_index", 3).Debug("envelope sealed")
	require.Regexp(t, regexp.MustCompile(
		`{"caller":"log_test\.go:\d{1,4}","commit_index":3,"level":"debug","module":"submit","msg":"envelope sealed","ts":"`+tsRegex+`"}\n`),
		b.String())
}

func TestWithModule(t *testing.T) {
	var b bytes.Buffer
	l, err := NewLogger("submit", &b, FmtJSON, LevelDebug)
	require.NoError(t, err)

	l.WithModule("audit").Debug("envelope sealed")
	require.Regexp(t, regexp.MustCompile(
		`{"caller":"log_test\.go:\d{1,4}","level":"debug","module":"audit","msg":"envelope sealed","ts":"`+tsRegex+`"}\n`),
		b.String())
}

func TestLevelThresholds(t *testing.T) {
	for _, tc := range []struct {
		threshold Level
		emit      func(*Logger)
		wantLine  bool
	}{
		{LevelInfo, func(l *Logger) { l.Debug("dropped") }, false},
		{LevelDebug, func(l *Logger) { l.Debug("kept") }, true},
		{LevelWarn, func(l *Logger) { l.Info("dropped") }, false},
		{LevelInfo, func(l *Logger) { l.Info("kept") }, true},
		{LevelError, func(l *Logger) { l.Warn("dropped") }, false},
		{LevelWarn, func(l *Logger) { l.Warn("kept") }, true},
		{LevelError, func(l *Logger) { l.Error("kept") }, true},
	} {
		var b bytes.Buffer
		l, err := NewLogger("submit", &b, FmtJSON, tc.threshold)
		require.NoError(t, err)

		tc.emit(l)
		if tc.wantLine {
			require.NotEqual(t, 0, b.Len())
		} else {
			require.Equal(t, 0, b.Len())
		}
	}
}

func TestLevelFlagValue(t *testing.T) {
	var lvl Level
	ls := lvl.Type()

	for _, l := range strings.Split(ls[1:len(ls)-1], ",") {
		require.NoError(t, lvl.Set(l))
		require.Equal(t, l, lvl.String())
	}
	require.Error(t, lvl.Set("chatty"))

	lvl = Level(255)
	require.Panics(t, func() { _ = lvl.String() })
}

func TestFormatFlagValue(t *testing.T) {
	var fmt Format
	fs := fmt.Type()

	for _, f := range strings.Split(fs[1:len(fs)-1], ",") {
		require.NoError(t, fmt.Set(f))
		require.Equal(t, f, fmt.String())
	}
	require.Error(t, fmt.Set("xml"))

	fmt = Format(255)
	require.Panics(t, func() { _ = fmt.String() })
}
