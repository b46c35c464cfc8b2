package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestSetup_ConsoleFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	m, err := Setup(Options{Level: "info", Console: &buf})
	require.NoError(t, err)
	defer m.Close()

	m.Logger().Debug("hidden")
	m.Logger().Info("shown", "client_id", "abc")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "client_id=abc")
	assert.Regexp(t, `time=\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z`, out)
}

func TestSetup_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "hub.log")
	var console bytes.Buffer

	m, err := Setup(Options{Level: "debug", Console: &console, FilePath: path})
	require.NoError(t, err)
	m.Logger().Debug("to both")
	m.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, console.String(), "to both")
}

func TestManager_NilLoggerFallsBack(t *testing.T) {
	var m *Manager
	assert.Equal(t, slog.Default(), m.Logger())
	assert.NotPanics(t, m.Close)
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (failingHandler) Handle(context.Context, slog.Record) error {
	return errors.New("sink down")
}

func TestMultiHandler_FailingSinkDoesNotBlockOthers(t *testing.T) {
	var buf bytes.Buffer
	h := NewMultiHandler(failingHandler{}, nil, slog.NewTextHandler(&buf, nil))
	logger := slog.New(h)

	logger.Info("still delivered")
	assert.Contains(t, buf.String(), "still delivered")
}

func TestMultiHandler_WithAttrsAndGroup(t *testing.T) {
	var a, b bytes.Buffer
	h := NewMultiHandler(slog.NewTextHandler(&a, nil), slog.NewTextHandler(&b, nil))
	logger := slog.New(h).With("task", "tick").WithGroup("sim")

	logger.Info("stepped", "entities", 3)
	for _, out := range []string{a.String(), b.String()} {
		assert.Contains(t, out, "task=tick")
		assert.Contains(t, out, "sim.entities=3")
	}
}
