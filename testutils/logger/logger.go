/*
Package logger provides logger for tests. Output is routed through t.Log so
it is shown only for failing tests (or when running with -v).
*/
package logger

import (
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/bookingswap/swapengine/logger"
)

/*
New returns logger for test t on debug level (can be overridden with
SWAPENGINE_TEST_LOG_LEVEL environment variable).
*/
func New(t testing.TB) *slog.Logger {
	lvl := slog.LevelDebug
	if s := os.Getenv("SWAPENGINE_TEST_LOG_LEVEL"); s != "" {
		if err := lvl.UnmarshalText([]byte(s)); err != nil {
			t.Fatalf("invalid SWAPENGINE_TEST_LOG_LEVEL value %q: %v", s, err)
		}
	}
	return NewLvl(t, lvl)
}

// NewLvl returns logger for test t on given level.
func NewLvl(t testing.TB, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// t.Log adds file:line and test runner adds timing, no need for time
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			if a.Key == slog.LevelKey && len(groups) == 0 {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= logger.LevelCritical {
					a.Value = slog.StringValue("CRITICAL")
				}
			}
			return a
		},
	}))
}

type testLogWriter struct {
	t testing.TB
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

/*
NewFactory returns logger factory for the CLI which ignores the configuration
and always builds logger for test t.
*/
func NewFactory(t testing.TB) func(*logger.LogConfiguration) (*slog.Logger, error) {
	return func(*logger.LogConfiguration) (*slog.Logger, error) {
		return New(t), nil
	}
}
