package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestInitJSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	require.NoError(t, initTo(&buf, "info", "json"))

	log.Debug().Msg("hidden")
	log.Info().Str("store_id", "810").Msg("indexed")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "indexed", entry["message"])
	assert.Equal(t, "810", entry["store_id"])
}

func TestInitRejectsUnknownFormat(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	assert.Error(t, initTo(&bytes.Buffer{}, "info", "xml"))
}
