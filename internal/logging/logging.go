package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the desired logging configuration.
type Config struct {
	Level  string
	Format string
	// Console writes to stderr. The terminal UI turns it off because it owns the screen.
	Console bool
	// FilePath is where file logging writes when FileEnabled is set.
	FilePath    string
	FileEnabled bool
	FileMaxSize int // megabytes
	FileMaxAge  int // days
}

// SwappableHandler is a slog.Handler whose inner handler can be replaced at runtime.
type SwappableHandler struct {
	inner atomic.Pointer[slog.Handler]
}

// NewSwappableHandler creates a SwappableHandler wrapping h.
func NewSwappableHandler(h slog.Handler) *SwappableHandler {
	s := &SwappableHandler{}
	s.inner.Store(&h)
	return s
}

// Swap replaces the inner handler.
func (s *SwappableHandler) Swap(h slog.Handler) {
	s.inner.Store(&h)
}

func (s *SwappableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*s.inner.Load()).Enabled(ctx, level)
}

func (s *SwappableHandler) Handle(ctx context.Context, r slog.Record) error {
	return (*s.inner.Load()).Handle(ctx, r)
}

// WithAttrs and WithGroup bind to the inner handler current at call time;
// derived loggers do not follow later swaps. Use the default logger for
// anything that must honour Reconfigure.
func (s *SwappableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewSwappableHandler((*s.inner.Load()).WithAttrs(attrs))
}

func (s *SwappableHandler) WithGroup(name string) slog.Handler {
	return NewSwappableHandler((*s.inner.Load()).WithGroup(name))
}

// Manager owns the process logger and applies runtime changes such as
// toggling file logging from the user's settings.
type Manager struct {
	mu       sync.Mutex
	levelVar *slog.LevelVar
	handler  *SwappableHandler
	config   Config
	closer   io.Closer
	stderr   io.Writer
}

// NewManager builds a Manager and the logger that writes through it.
func NewManager(cfg Config) (*Manager, *slog.Logger) {
	return newManager(cfg, os.Stderr)
}

func newManager(cfg Config, stderr io.Writer) (*Manager, *slog.Logger) {
	lvl := &slog.LevelVar{}
	lvl.Set(ParseLevel(cfg.Level))

	m := &Manager{levelVar: lvl, config: cfg, stderr: stderr}
	w, closer := m.buildWriter(cfg)
	m.closer = closer
	m.handler = NewSwappableHandler(buildHandler(w, lvl, cfg.Format))
	return m, slog.New(m.handler)
}

// Reconfigure applies cfg. Level changes are applied in place; output
// changes rebuild the handler and close the previous log file.
func (m *Manager) Reconfigure(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.levelVar.Set(ParseLevel(cfg.Level))

	if cfg.Format != m.config.Format ||
		cfg.Console != m.config.Console ||
		cfg.FilePath != m.config.FilePath ||
		cfg.FileEnabled != m.config.FileEnabled ||
		cfg.FileMaxSize != m.config.FileMaxSize ||
		cfg.FileMaxAge != m.config.FileMaxAge {
		if m.closer != nil {
			m.closer.Close() //nolint:errcheck
			m.closer = nil
		}
		w, closer := m.buildWriter(cfg)
		m.handler.Swap(buildHandler(w, m.levelVar, cfg.Format))
		m.closer = closer
	}
	m.config = cfg
}

// SetFileLogging turns the log file on or off.
func (m *Manager) SetFileLogging(enabled bool) {
	cfg := m.Config()
	if cfg.FileEnabled == enabled {
		return
	}
	cfg.FileEnabled = enabled
	m.Reconfigure(cfg)
	slog.Info("file logging changed", "enabled", enabled, "path", cfg.FilePath)
}

// Config returns the current configuration.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Close releases the log file, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closer != nil {
		err := m.closer.Close()
		m.closer = nil
		return err
	}
	return nil
}

func (m *Manager) buildWriter(cfg Config) (io.Writer, io.Closer) {
	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, m.stderr)
	}

	var closer io.Closer
	if cfg.FileEnabled && cfg.FilePath != "" {
		maxSize := cfg.FileMaxSize
		if maxSize <= 0 {
			maxSize = 10
		}
		maxAge := cfg.FileMaxAge
		if maxAge <= 0 {
			maxAge = 30
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    maxSize,
			MaxBackups: 3,
			MaxAge:     maxAge,
		}
		writers = append(writers, lj)
		closer = lj
	}

	switch len(writers) {
	case 0:
		return io.Discard, nil
	case 1:
		return writers[0], closer
	default:
		return io.MultiWriter(writers...), closer
	}
}

func buildHandler(w io.Writer, leveler slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: leveler}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel converts "debug", "info", "warn" or "error" to a slog.Level.
// Unknown values default to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c Config) String() string {
	s := fmt.Sprintf("level=%s format=%s console=%t", c.Level, c.Format, c.Console)
	if c.FileEnabled {
		s += fmt.Sprintf(" file=%s", c.FilePath)
	}
	return s
}
