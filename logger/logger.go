package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
)

const (
	// LevelTrace is for very chatty logging (ie every ledger poll).
	LevelTrace slog.Level = slog.LevelDebug - 4
	// LevelCritical marks events which require operator intervention, ie
	// an asset stuck in locked state after failed rollback.
	LevelCritical slog.Level = slog.LevelError + 4
	// levelNone disables logging.
	levelNone slog.Level = math.MaxInt
)

/*
LogConfiguration describes logger. It is loaded from YAML file and
individual fields can be overridden by command line flags.
*/
type LogConfiguration struct {
	// minimum level to log, one of TRACE, DEBUG, INFO, WARN, ERROR, CRITICAL, NONE
	// with optional offset, ie "info+1"
	Level string `yaml:"defaultLevel"`
	// text, json, ecs or console
	Format string `yaml:"format"`
	// log file name or one of the special values: stdout, stderr, discard
	OutputPath string `yaml:"outputPath"`
	// Go time format string or "none" to not log time at all
	TimeFormat string `yaml:"timeFormat"`
	// whether to log source code location of the logging call
	ShowSource bool `yaml:"showSource"`

	// when not nil used as output instead of OutputPath
	writer io.Writer
}

/*
New creates logger based on the configuration. When cfg is nil default
configuration (INFO level text logger to stderr) is used.
*/
func New(cfg *LogConfiguration) (*slog.Logger, error) {
	if cfg == nil {
		cfg = &LogConfiguration{}
	}
	out, err := cfg.output()
	if err != nil {
		return nil, fmt.Errorf("creating log output: %w", err)
	}
	h, err := cfg.handler(out)
	if err != nil {
		return nil, fmt.Errorf("creating log handler: %w", err)
	}
	return slog.New(h), nil
}

func (cfg *LogConfiguration) handler(out io.Writer) (slog.Handler, error) {
	opts := &slog.HandlerOptions{
		Level:     cfg.logLevel(),
		AddSource: cfg.ShowSource,
	}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		opts.ReplaceAttr = composeAttrFmt(formatLevelAttr, formatTimeAttr(cfg.TimeFormat), formatDataAttrAsJSON)
		return slog.NewTextHandler(out, opts), nil
	case "console":
		opts.AddSource = false
		opts.ReplaceAttr = composeAttrFmt(formatLevelAttr, formatAttrConsole)
		return slog.NewTextHandler(out, opts), nil
	case "json":
		opts.ReplaceAttr = composeAttrFmt(formatLevelAttr, formatTimeAttr(cfg.TimeFormat))
		return slog.NewJSONHandler(out, opts), nil
	case "ecs":
		opts.AddSource = true
		opts.ReplaceAttr = composeAttrFmt(formatLevelAttr, formatAttrECS)
		return slog.NewJSONHandler(out, opts), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

func (cfg *LogConfiguration) logLevel() slog.Level {
	if cfg.OutputPath == "discard" || cfg.OutputPath == os.DevNull {
		return levelNone
	}

	switch strings.ToUpper(cfg.Level) {
	case "":
		return slog.LevelInfo
	case "NONE":
		return levelNone
	case "TRACE":
		return LevelTrace
	case "CRITICAL":
		return LevelCritical
	case "WARNING":
		return slog.LevelWarn
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func (cfg *LogConfiguration) output() (io.Writer, error) {
	if cfg.writer != nil {
		return cfg.writer, nil
	}

	switch cfg.OutputPath {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	case "discard", os.DevNull:
		return io.Discard, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0700); err != nil {
			return nil, fmt.Errorf("creating directory for log file: %w", err)
		}
		f, err := os.OpenFile(filepath.Clean(cfg.OutputPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // -rw-------
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		return f, nil
	}
}

// NOP returns logger which discards all records.
func NOP() *slog.Logger {
	return slog.New(nopHandler{})
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }
