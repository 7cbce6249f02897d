package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "flight-weather", cfg.AppName)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "openweather", cfg.Weather.Provider)
	assert.Equal(t, 15*time.Second, cfg.UpdateDelay)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.True(t, cfg.Live.Embedded)
	assert.Equal(t, "tcp://localhost:1883", cfg.Live.BrokerURL())
	assert.True(t, cfg.RunsAirportLoader())
}

func TestLoadFileEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9926")
	t.Setenv("WEATHER_API_KEY", "secret")
	t.Setenv("UPDATE_DELAY", "2s")
	t.Setenv("LIVE_BROKER_PROTOCOL", "ws")
	t.Setenv("LIVE_BROKER_PORT", "9927")
	t.Setenv("INSTANCE_INDEX", "2")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "9926", cfg.Port)
	assert.Equal(t, "secret", cfg.Weather.APIKey)
	assert.Equal(t, 2*time.Second, cfg.UpdateDelay)
	assert.Equal(t, "ws://localhost:9927", cfg.Live.BrokerURL())
	assert.False(t, cfg.RunsAirportLoader())
}

func TestLoadFileYAMLWins(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
weather:
  provider: openmeteo
store:
  driver: sqlite
  database_path: /tmp/fw.db
update_delay: 30s
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "openmeteo", cfg.Weather.Provider)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/fw.db", cfg.Store.DatabasePath)
	assert.Equal(t, 30*time.Second, cfg.UpdateDelay)
}

func TestLoadFileValidation(t *testing.T) {
	t.Setenv("WEATHER_PROVIDER", "darksky")
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
