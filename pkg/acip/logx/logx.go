// Package logx wraps log/slog with category-gated debug helpers so noisy
// subsystem tracing can be switched on per concern.
package logx

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Level is the logging verbosity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category gates a class of debug logging independent of Level.
type Category string

const (
	CategoryTransport Category = "transport"
	CategoryCrypto    Category = "crypto"
	CategoryRegistry  Category = "registry"
	CategoryElection  Category = "election"
	CategoryHost      Category = "host"
	CategorySignaling Category = "signaling"
	CategoryAll       Category = "all"
)

var allCategories = []Category{
	CategoryTransport, CategoryCrypto, CategoryRegistry,
	CategoryElection, CategoryHost, CategorySignaling,
}

// Format determines the log output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config holds logger construction options.
type Config struct {
	Level             Level
	Format            Format
	OutputFile        string
	EnabledCategories map[Category]bool

	mu sync.RWMutex
}

// NewConfig returns a Config with defaults matching the CLI defaults.
func NewConfig() *Config {
	return &Config{
		Level:             LevelInfo,
		Format:            FormatText,
		EnabledCategories: make(map[Category]bool),
	}
}

// ParseLevel converts a flag string into a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
	}
}

// ParseFormat converts a flag string into a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json", "JSON":
		return FormatJSON, nil
	case "text", "TEXT", "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid log format: %s (must be text or json)", s)
	}
}

func (l Level) toSlog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnableCategory turns on debug logging for category, or every category
// when given CategoryAll.
func (c *Config) EnableCategory(cat Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cat == CategoryAll {
		for _, each := range allCategories {
			c.EnabledCategories[each] = true
		}
		return
	}
	c.EnabledCategories[cat] = true
}

// IsCategoryEnabled reports whether cat has been enabled.
func (c *Config) IsCategoryEnabled(cat Category) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.EnabledCategories[cat]
}

// IsDebugEnabled reports whether any category has been enabled.
func (c *Config) IsDebugEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.EnabledCategories) > 0
}

// Logger wraps slog.Logger with ACIP's category-gated debug helpers.
type Logger struct {
	*slog.Logger
	config *Config
	file   *os.File
}

// New builds a Logger from cfg, opening OutputFile if set.
func New(cfg *Config) (*Logger, error) {
	var w io.Writer = os.Stdout
	var f *os.File

	if cfg.OutputFile != "" {
		opened, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.OutputFile, err)
		}
		w = opened
		f = opened
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.toSlog()}
	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler), config: cfg, file: f}, nil
}

// Close closes the underlying log file, if one was opened.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// With wraps slog.Logger.With, preserving the category configuration.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), config: l.config, file: l.file}
}

func (l *Logger) debugCategory(cat Category, msg string, args ...any) {
	if l.config.IsCategoryEnabled(cat) {
		args = append([]any{"category", string(cat)}, args...)
		l.Debug(msg, args...)
	}
}

// DebugTransport logs transport-layer detail (dial attempts, reassembly, keepalive tuning).
func (l *Logger) DebugTransport(msg string, args ...any) { l.debugCategory(CategoryTransport, msg, args...) }

// DebugCrypto logs handshake and AEAD framing detail.
func (l *Logger) DebugCrypto(msg string, args ...any) { l.debugCategory(CategoryCrypto, msg, args...) }

// DebugRegistry logs discovery-service session/participant bookkeeping.
func (l *Logger) DebugRegistry(msg string, args ...any) { l.debugCategory(CategoryRegistry, msg, args...) }

// DebugElection logs NAT-quality gathering and host election comparisons.
func (l *Logger) DebugElection(msg string, args ...any) { l.debugCategory(CategoryElection, msg, args...) }

// DebugHost logs star-topology accept/fan-out activity.
func (l *Logger) DebugHost(msg string, args ...any) { l.debugCategory(CategoryHost, msg, args...) }

// DebugSignaling logs signaling relay forwarding.
func (l *Logger) DebugSignaling(msg string, args ...any) { l.debugCategory(CategorySignaling, msg, args...) }

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// SetDefault installs l as the package-level default logger used by Default().
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// Default returns the installed default logger, or a stdout text logger
// at info level if none was installed.
func Default() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}
	fallback, _ := New(NewConfig())
	return fallback
}
