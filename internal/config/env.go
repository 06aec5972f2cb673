package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides layers ODIN_SYNC_* environment variables over a loaded
// configuration. Environment values win over file values.
func applyEnvOverrides(cfg *Config) {
	cfg.Cloud.Host = getEnvStr("ODIN_SYNC_CLOUD_HOST", cfg.Cloud.Host)
	cfg.Cloud.Port = getEnvInt("ODIN_SYNC_CLOUD_PORT", cfg.Cloud.Port)
	cfg.Cloud.Database = getEnvStr("ODIN_SYNC_CLOUD_DATABASE", cfg.Cloud.Database)
	cfg.Cloud.Username = getEnvStr("ODIN_SYNC_CLOUD_USERNAME", cfg.Cloud.Username)
	cfg.Cloud.Password = getEnvStr("ODIN_SYNC_CLOUD_PASSWORD", cfg.Cloud.Password)
	cfg.Cloud.TLS = getEnvBool("ODIN_SYNC_CLOUD_TLS", cfg.Cloud.TLS)

	cfg.Local.Path = getEnvStr("ODIN_SYNC_LOCAL_PATH", cfg.Local.Path)

	cfg.Redis.Addr = getEnvStr("ODIN_SYNC_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnvStr("ODIN_SYNC_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("ODIN_SYNC_REDIS_DB", cfg.Redis.DB)

	cfg.Sync.OrgID = getEnvStr("ODIN_SYNC_ORG_ID", cfg.Sync.OrgID)
	cfg.Sync.EventLookbackDays = getEnvInt("ODIN_SYNC_EVENT_LOOKBACK_DAYS", cfg.Sync.EventLookbackDays)
	cfg.Sync.BatchSize = getEnvInt("ODIN_SYNC_BATCH_SIZE", cfg.Sync.BatchSize)
	cfg.Sync.MaxSyncAgeMinutes = getEnvInt("ODIN_SYNC_MAX_SYNC_AGE_MINUTES", cfg.Sync.MaxSyncAgeMinutes)
	cfg.Sync.RetentionDays = getEnvInt("ODIN_SYNC_RETENTION_DAYS", cfg.Sync.RetentionDays)

	cfg.API.ListenAddr = getEnvStr("ODIN_SYNC_API_LISTEN_ADDR", cfg.API.ListenAddr)
}

// getEnvStr reads a string from an environment variable, returning the default if unset.
func getEnvStr(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
