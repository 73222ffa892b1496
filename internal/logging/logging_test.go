package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Configure("warn", "json", &buf)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Str("qname", "example.com").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"qname":"example.com"`)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}

func TestConfigure_Console(t *testing.T) {
	var buf bytes.Buffer
	_, err := Configure("debug", "console", &buf)
	require.NoError(t, err)

	log.Debug().Msg("through the global logger")
	assert.Contains(t, buf.String(), "through the global logger")
	assert.NotContains(t, buf.String(), `"message"`)
}

func TestConfigure_BadLevel(t *testing.T) {
	_, err := Configure("loud", "json", &bytes.Buffer{})
	assert.Error(t, err)
}
