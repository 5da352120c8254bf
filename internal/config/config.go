package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	AdminUser     string
	AdminPassword string

	// StorageDriver selects the KeyStore implementation: "file" (JSON
	// document at StoragePath), "sql" (gorm, DatabaseURL) or "memory".
	StorageDriver string
	StoragePath   string
	DatabaseURL   string

	ListenAddr string

	LogLevel  string
	LogFormat string

	// StrictActivation makes Activate refuse expired or deactivated keys.
	// Off by default: activation only checks the activation ceiling.
	StrictActivation bool

	// TrialRatePerHour bounds public trial key generation per client IP.
	// Zero disables the limit.
	TrialRatePerHour int

	SessionTTL time.Duration

	// AuditRetentionDays is how long lifecycle events are kept when a
	// SQL database is configured.
	AuditRetentionDays int
}

// Load reads configuration from environment variables and applies
// defaults for anything unset.
func Load() *Config {
	cfg := &Config{
		AdminUser:          getenv("APP_ADMIN_USER", "admin"),
		AdminPassword:      getenv("APP_ADMIN_PASSWORD", "admin123"),
		StorageDriver:      strings.ToLower(getenv("APP_STORAGE_DRIVER", "file")),
		StoragePath:        getenv("APP_STORAGE_PATH", "database/keys.json"),
		DatabaseURL:        os.Getenv("APP_DATABASE_URL"),
		ListenAddr:         getenv("APP_LISTEN_ADDR", ""),
		LogLevel:           getenv("APP_LOG_LEVEL", "info"),
		LogFormat:          getenv("APP_LOG_FORMAT", "text"),
		StrictActivation:   getbool("APP_STRICT_ACTIVATION", false),
		TrialRatePerHour:   getint("APP_TRIAL_RATE_PER_HOUR", 10),
		SessionTTL:         time.Duration(getint("APP_SESSION_TTL_HOURS", 12)) * time.Hour,
		AuditRetentionDays: getint("APP_AUDIT_RETENTION_DAYS", 90),
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":" + getenv("PORT", "5000")
	}
	if cfg.DatabaseURL != "" && os.Getenv("APP_STORAGE_DRIVER") == "" {
		cfg.StorageDriver = "sql"
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func getbool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
