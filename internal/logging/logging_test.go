package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("Warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestConfigure_EnvOverride(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	t.Setenv(EnvLevel, "error")

	var buf bytes.Buffer
	log := Configure(&buf, "debug", "json")
	log.Warn("dropped")
	log.Error("kept", "collection", "car_reviews")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"msg":"kept"`)
	assert.Contains(t, out, `"collection":"car_reviews"`)
}

func TestSetLevel(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	t.Setenv(EnvLevel, "")

	var buf bytes.Buffer
	log := Configure(&buf, "info", "text")
	log.Debug("hidden")
	SetLevel(slog.LevelDebug)
	log.Debug("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
