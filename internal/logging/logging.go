// Package logging builds the hub's slog logger: console text output plus
// optional log file and Graylog (GELF) sinks.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
)

// Options selects the sinks and level.
type Options struct {
	Level string
	// Console defaults to os.Stdout.
	Console io.Writer
	// FilePath, when set, appends text logs to this file.
	FilePath string
	// GraylogAddress, when set, ships JSON records to a GELF UDP endpoint.
	GraylogAddress string
	// Facility is reported to Graylog.
	Facility string
}

// Manager owns the configured logger and the resources behind its sinks.
type Manager struct {
	logger  *slog.Logger
	closers []io.Closer
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func handlerOptions(lvl slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}
}

// Setup builds the logger. A sink that cannot be opened is reported as an
// error and no logger is returned.
func Setup(opts Options) (*Manager, error) {
	hopts := handlerOptions(parseLevel(opts.Level))
	m := &Manager{}

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	handlers := []slog.Handler{slog.NewTextHandler(console, hopts)}

	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		m.closers = append(m.closers, f)
		handlers = append(handlers, slog.NewTextHandler(f, hopts))
	}

	if opts.GraylogAddress != "" {
		w, err := gelf.NewWriter(opts.GraylogAddress)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("connecting to graylog at %s: %w", opts.GraylogAddress, err)
		}
		if opts.Facility != "" {
			w.Facility = opts.Facility
		}
		m.closers = append(m.closers, w)
		handlers = append(handlers, slog.NewJSONHandler(w, hopts))
	}

	m.logger = slog.New(NewMultiHandler(handlers...))
	return m, nil
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *Manager) Logger() *slog.Logger {
	if m == nil || m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Close releases file and network sinks.
func (m *Manager) Close() {
	if m == nil {
		return
	}
	for _, c := range m.closers {
		_ = c.Close()
	}
	m.closers = nil
}
