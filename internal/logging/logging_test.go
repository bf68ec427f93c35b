package logging_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/vitalink/internal/logging"
)

func decode(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(b), &m))
	return m
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, logging.ParseLevel(in), in)
	}
}

func TestComponent(t *testing.T) {
	prev := logging.Logger()
	defer logging.SetLogger(prev)

	var buf bytes.Buffer
	logging.SetLogger(logging.NewTestLogger(&buf))
	l := logging.Component("ring")
	l.Info().Uint64("write_index", 7).Msg("published")

	m := decode(t, buf.Bytes())
	assert.Equal(t, "ring", m["component"])
	assert.Equal(t, "published", m["message"])
	assert.EqualValues(t, 7, m["write_index"])
}

func TestInitConsole(t *testing.T) {
	prev := logging.Logger()
	defer logging.SetLogger(prev)
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	logging.Init(logging.Config{Level: "warn", Format: "console", Output: &buf})
	logging.Info().Msg("hidden")
	logging.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(logging.NewSlogHandler(logging.NewTestLogger(&buf)))

	logger.With("service", "source").WithGroup("supervisor").Warn("restarting", "attempt", 3)

	m := decode(t, buf.Bytes())
	assert.Equal(t, "warn", m["level"])
	assert.Equal(t, "restarting", m["message"])
	assert.Equal(t, "source", m["service"])
	assert.EqualValues(t, 3, m["supervisor.attempt"])
}
