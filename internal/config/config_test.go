package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfg := `{
		"logLevel": "debug",
		"cacheDir": "/var/artifacts",
		"catalog": { "serverUrl": "https://catalog.example.com", "apiKey": "k1" },
		"pool": { "capacity": 4 }
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "artifact_engine.cfg.json"), []byte(cfg), 0644))

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "/var/artifacts", viper.GetString("cacheDir"))
	assert.Equal(t, "https://catalog.example.com", viper.GetString("catalog.serverUrl"))
	assert.Equal(t, "k1", viper.GetString("catalog.apiKey"))
	assert.Equal(t, 4, viper.GetInt("pool.capacity"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "artifact_engine.cfg.json"), []byte(`{}`), 0644))

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./logs", viper.GetString("logsDir"))
	assert.Equal(t, "./cache", viper.GetString("cacheDir"))
	assert.Equal(t, "http://localhost:8080", viper.GetString("catalog.serverUrl"))
	assert.Equal(t, "", viper.GetString("catalog.apiKey"))
	assert.Equal(t, 15, viper.GetInt("catalog.timeoutSeconds"))
	assert.Equal(t, "sqlite", viper.GetString("storage.backend"))
	assert.Equal(t, "localhost", viper.GetString("db.host"))
	assert.Equal(t, "5432", viper.GetString("db.port"))
	assert.Equal(t, 10, viper.GetInt("pool.capacity"))
	assert.Equal(t, 30, viper.GetInt("pool.ttlMinutes"))
	assert.Equal(t, 5, viper.GetInt("pool.failureCooldownMinutes"))
	assert.Equal(t, 1000, viper.GetInt("history.limit"))
	assert.Equal(t, 2000, viper.GetInt("history.flushDebounceMs"))
	assert.Equal(t, 3, viper.GetInt("host.fadeDelaySeconds"))
	assert.Equal(t, false, viper.GetBool("api.enabled"))
	assert.Equal(t, "127.0.0.1:9180", viper.GetString("api.listenAddr"))
	assert.Equal(t, false, viper.GetBool("influx.enabled"))
	assert.Equal(t, false, viper.GetBool("otel.enabled"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestGetDuration(t *testing.T) {
	t.Cleanup(viper.Reset)

	SetDefaults()
	assert.Equal(t, 2*time.Second, GetDuration("history.flushDebounceMs", time.Millisecond))
	assert.Equal(t, 30*time.Minute, GetDuration("pool.ttlMinutes", time.Minute))
}
