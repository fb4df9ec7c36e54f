package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInit_SimpleFormat(t *testing.T) {
	var buf bytes.Buffer
	Init(slog.LevelInfo, &buf, FormatSimple)

	slog.Debug("hidden")
	slog.Info("hello", "agent", "Gmail Agent")
	slog.With("component", "server").Warn("careful")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "INFO hello agent=Gmail Agent", lines[0])
	assert.Equal(t, "WARN careful component=server", lines[1])
}

func TestInit_VerboseFormatAddsSource(t *testing.T) {
	var buf bytes.Buffer
	Init(slog.LevelDebug, &buf, FormatVerbose)

	slog.Debug("tracing")

	out := buf.String()
	assert.Contains(t, out, "DEBUG tracing")
	assert.Contains(t, out, "source=")
	assert.Contains(t, out, "logger_test.go")
}

func TestInit_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init(slog.LevelInfo, &buf, FormatJSON)

	slog.Info("ready", "port", 8000)

	assert.Contains(t, buf.String(), `"msg":"ready"`)
	assert.Contains(t, buf.String(), `"port":8000`)
}

func TestFromModule(t *testing.T) {
	assert.True(t, fromModule(0))
}
