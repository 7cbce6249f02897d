package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := New("flight-weather", "debug", &buf)

	l.Info("subscription created", map[string]any{"subscriber": "abc"})
	require.NoError(t, l.Stop())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "subscription created", entry["msg"])
	assert.Equal(t, "abc", entry["subscriber"])
	assert.Equal(t, "flight-weather", entry["app_name"])
	assert.Equal(t, "info", entry["level"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New("flight-weather", "warn", &buf)

	l.Debug("dropped")
	l.Info("dropped too")
	l.Error(errors.New("boom"), map[string]any{"job": "update"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"error":"boom"`)
	assert.Contains(t, lines[0], `"job":"update"`)
}
