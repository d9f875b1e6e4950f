package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"lyceum/cmd/internal/pgsql"
)

// Config contains the process-level runtime configuration. Component configs (auth, gateway)
// are loaded by their own packages.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" or "pretty"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	// Empty DatabaseURL selects the in-memory stores.
	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// Empty RedisURL selects the in-memory view cache.
	RedisURL string
	CacheTTL time.Duration

	NotificationPurgeInterval time.Duration

	// If true, /readyz returns 503 unless Postgres is configured and reachable.
	ReadinessRequireDB bool

	// DevSeed seeds demo users and coursework and logs their tokens. Memory stores only.
	DevSeed bool
}

// LoadConfig loads the optional env file named by LYCEUM_ENV_FILE (default ".env") and then
// reads Config from the environment.
func LoadConfig() (Config, error) {
	if err := LoadEnvFile(EnvString("LYCEUM_ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	cfg := Config{
		HTTPAddr:  EnvString("LYCEUM_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("LYCEUM_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("LYCEUM_LOG_FORMAT", "json")),

		ReadHeaderTimeout: EnvDuration("LYCEUM_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("LYCEUM_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("LYCEUM_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("LYCEUM_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("LYCEUM_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("LYCEUM_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL: EnvString("LYCEUM_DATABASE_URL", ""),
		DBSchema:    EnvString("LYCEUM_DB_SCHEMA", pgsql.DefaultSchema),
		DBMaxConns:  EnvInt32("LYCEUM_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("LYCEUM_DB_MIN_CONNS", 0),

		RedisURL: EnvString("LYCEUM_REDIS_URL", ""),
		CacheTTL: EnvDuration("LYCEUM_CACHE_TTL", 5*time.Minute),

		NotificationPurgeInterval: EnvDuration("LYCEUM_NOTIFICATION_PURGE_INTERVAL", time.Hour),

		ReadinessRequireDB: EnvBool("LYCEUM_READINESS_REQUIRE_DB", false),
		DevSeed:            EnvBool("LYCEUM_DEV_SEED", false),
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("config: LYCEUM_HTTP_ADDR is empty")
	}
	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("config: LYCEUM_LOG_FORMAT must be json or pretty, got %q", c.LogFormat)
	}
	if c.DatabaseURL != "" {
		if _, err := pgsql.CheckSchema("app", c.DBSchema); err != nil {
			return fmt.Errorf("config: LYCEUM_DB_SCHEMA: %w", err)
		}
		if c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns {
			return errors.New("config: LYCEUM_DB_MIN_CONNS exceeds LYCEUM_DB_MAX_CONNS")
		}
	}
	if c.ReadinessRequireDB && c.DatabaseURL == "" {
		return errors.New("config: LYCEUM_READINESS_REQUIRE_DB needs LYCEUM_DATABASE_URL")
	}
	if c.DevSeed && c.DatabaseURL != "" {
		return errors.New("config: LYCEUM_DEV_SEED only works with the in-memory stores")
	}
	if c.CacheTTL <= 0 || c.NotificationPurgeInterval <= 0 {
		return errors.New("config: cache ttl and purge interval must be positive")
	}
	return nil
}
