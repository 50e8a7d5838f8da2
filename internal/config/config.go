package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName("artifact_engine.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// SetDefaults registers the default value for every config key.
// Exposed separately so tests and ephemeral setups can run without a file.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("cacheDir", "./cache")

	viper.SetDefault("catalog.serverUrl", "http://localhost:8080")
	viper.SetDefault("catalog.apiKey", "")
	viper.SetDefault("catalog.timeoutSeconds", 15)

	viper.SetDefault("download.timeoutSeconds", 120)

	viper.SetDefault("storage.backend", "sqlite")
	viper.SetDefault("storage.sqlitePath", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "artifacts")

	viper.SetDefault("pool.capacity", 10)
	viper.SetDefault("pool.ttlMinutes", 30)
	viper.SetDefault("pool.failureCooldownMinutes", 5)

	viper.SetDefault("history.limit", 1000)
	viper.SetDefault("history.flushDebounceMs", 2000)

	viper.SetDefault("host.fadeDelaySeconds", 3)

	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listenAddr", "127.0.0.1:9180")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "artifact-metrics")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.endpoint", "")
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration builds a duration from a numeric key and the given unit.
func GetDuration(key string, unit time.Duration) time.Duration {
	return time.Duration(viper.GetInt(key)) * unit
}
