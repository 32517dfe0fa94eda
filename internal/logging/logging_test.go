package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("info", "json", &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("recording started", "stamp", "2026-01-01_00-00-00")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "recording started", rec["msg"])
	assert.Equal(t, "2026-01-01_00-00-00", rec["stamp"])
}

func TestTintFormatWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", "tint", &buf)
	require.NoError(t, err)

	logger.Debug("frame skipped", "error", "timeout")
	out := buf.String()
	assert.Contains(t, out, "frame skipped")
	assert.Contains(t, out, "error=timeout")
	assert.NotContains(t, out, "\x1b[", "no colour codes off a terminal")
}

func TestUnknownFormat(t *testing.T) {
	_, err := New("info", "xml", &bytes.Buffer{})
	assert.Error(t, err)

	_, err = New("shout", "text", &bytes.Buffer{})
	assert.Error(t, err)
}
