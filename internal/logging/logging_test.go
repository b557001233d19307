package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"DEBUG": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestManager_LevelChangeIsImmediate(t *testing.T) {
	var buf bytes.Buffer
	m, logger := newManager(Config{Level: "info", Format: "text", Console: true}, &buf)
	defer m.Close()

	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	cfg := m.Config()
	cfg.Level = "debug"
	m.Reconfigure(cfg)

	logger.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestManager_ConsoleOff(t *testing.T) {
	var buf bytes.Buffer
	m, logger := newManager(Config{Level: "info", Format: "text"}, &buf)
	defer m.Close()

	logger.Info("nowhere")
	assert.Empty(t, buf.String())
}

func TestManager_SetFileLogging(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stickscan.log")
	var buf bytes.Buffer
	m, logger := newManager(Config{Level: "info", Format: "json", FilePath: path}, &buf)
	defer m.Close()

	logger.Info("before")
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "file must not exist while disabled")

	m.SetFileLogging(true)
	logger.Info("during", "k", "v")

	m.SetFileLogging(false)
	logger.Info("after")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"msg":"during"`)
	assert.False(t, strings.Contains(out, "before"))
	assert.False(t, strings.Contains(out, `"msg":"after"`))
}
