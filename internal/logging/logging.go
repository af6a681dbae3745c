package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config selects level, format and destinations. File output is enabled when File is
// set and is rotated by size.
type Config struct {
	Level      string `yaml:"level" validate:"omitempty,loglevel"`
	Format     string `yaml:"format" validate:"omitempty,logformat"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	// Quiet disables console output; only the file receives entries.
	Quiet bool `yaml:"quiet"`
}

// DefaultConfig logs info and above as JSON to stderr.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     FormatJSON,
		MaxSizeMB:  100,
		MaxBackups: 3,
	}
}

// ZerologLogger implements Logger on top of zerolog.
type ZerologLogger struct {
	zl     zerolog.Logger
	closer io.Closer
}

// New builds a logger from cfg. component, when non-empty, is attached to every entry.
func New(cfg Config, component string) (*ZerologLogger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var (
		writers []io.Writer
		closer  io.Closer
	)
	if !cfg.Quiet {
		writers = append(writers, consoleWriter(os.Stderr, cfg.Format, false))
	}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    max(cfg.MaxSizeMB, 1),
			MaxBackups: cfg.MaxBackups,
			LocalTime:  true,
		}
		writers = append(writers, consoleWriter(lj, cfg.Format, true))
		closer = lj
	}
	if len(writers) == 0 {
		return nil, errors.New("no log outputs configured")
	}

	l := NewWithWriter(zerolog.MultiLevelWriter(writers...), level, component)
	l.closer = closer
	return l, nil
}

// NewWithWriter logs JSON lines at level to w.
func NewWithWriter(w io.Writer, level zerolog.Level, component string) *ZerologLogger {
	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if component != "" {
		ctx = ctx.Str("component", component)
	}
	return &ZerologLogger{zl: ctx.Logger()}
}

// NewStdoutLogger creates a JSON logger on stdout at debug level, used by tools and
// during development.
func NewStdoutLogger(component string) *ZerologLogger {
	return NewWithWriter(os.Stdout, zerolog.DebugLevel, component)
}

// ParseLevel maps a level name to zerolog. The empty string is info.
func ParseLevel(s string) (zerolog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func consoleWriter(w io.Writer, format string, noColor bool) io.Writer {
	if format == FormatConsole {
		return zerolog.ConsoleWriter{Out: w, NoColor: noColor, TimeFormat: time.RFC3339}
	}
	return w
}

func (l *ZerologLogger) Debug(msg string, fields ...Field) {
	withFields(l.zl.Debug(), fields).Msg(msg)
}

func (l *ZerologLogger) Info(msg string, fields ...Field) {
	withFields(l.zl.Info(), fields).Msg(msg)
}

func (l *ZerologLogger) Warn(msg string, fields ...Field) {
	withFields(l.zl.Warn(), fields).Msg(msg)
}

func (l *ZerologLogger) Error(msg string, fields ...Field) {
	withFields(l.zl.Error(), fields).Msg(msg)
}

func (l *ZerologLogger) With(fields ...Field) Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		switch v := f.Value.(type) {
		case error:
			ctx = ctx.AnErr(f.Key, v)
		case string:
			ctx = ctx.Str(f.Key, v)
		default:
			ctx = ctx.Interface(f.Key, v)
		}
	}
	return &ZerologLogger{zl: ctx.Logger(), closer: l.closer}
}

// Close releases the rotating log file, if any.
func (l *ZerologLogger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func withFields(ev *zerolog.Event, fields []Field) *zerolog.Event {
	if ev == nil {
		return nil
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case error:
			ev = ev.AnErr(f.Key, v)
		case string:
			ev = ev.Str(f.Key, v)
		case int:
			ev = ev.Int(f.Key, v)
		case int64:
			ev = ev.Int64(f.Key, v)
		case bool:
			ev = ev.Bool(f.Key, v)
		case time.Duration:
			ev = ev.Dur(f.Key, v)
		default:
			ev = ev.Interface(f.Key, v)
		}
	}
	return ev
}

type nopLogger struct{}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field)  {}
func (nopLogger) Warn(string, ...Field)  {}
func (nopLogger) Error(string, ...Field) {}
func (n nopLogger) With(...Field) Logger { return n }
