package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	LogLevel  string
	LogFormat string

	OTLPEndpoint string
	OTLPProtocol string
	OTLPEnabled  bool

	HTTPAddr string
	NodeID   int64

	Sync        SyncConfig
	Allocation  AllocationConfig
	MetricsPush MetricsPushConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBURL             string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// SyncConfig controls the reconciliation loop.
type SyncConfig struct {
	Enabled    bool
	Interval   time.Duration
	ProviderID string
}

// AllocationConfig points at the external allocation service.
type AllocationConfig struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	PageSize int
}

// MetricsPushConfig selects where a one-shot run ships its metrics.
type MetricsPushConfig struct {
	Exporter string
	Endpoint string
	Token    string
}

const (
	DBTypePostgres = "postgres"
	DBTypeMySQL    = "mysql"
	DBTypeSQLite   = "sqlite"
	DBTypeMongo    = "mongo"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:      getenv("APP_SERVICE", "allocsync"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		LogLevel:     strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:    strings.ToLower(getenv("LOG_FORMAT", "json")),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPProtocol: strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		OTLPEnabled:  getenvBool("OTEL_ENABLED", false),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		NodeID:       int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
		Sync: SyncConfig{
			Enabled:    getenvBool("SYNC_ENABLED", true),
			Interval:   getenvDuration("SYNC_INTERVAL", time.Minute),
			ProviderID: strings.TrimSpace(getenv("SYNC_PROVIDER_ID", "")),
		},
		Allocation: AllocationConfig{
			BaseURL:  strings.TrimSpace(getenv("ALLOCATION_API_URL", "")),
			Token:    strings.TrimSpace(getenv("ALLOCATION_API_TOKEN", "")),
			Timeout:  getenvDuration("ALLOCATION_API_TIMEOUT", 30*time.Second),
			PageSize: getenvInt("ALLOCATION_API_PAGE_SIZE", 100),
		},
		MetricsPush: MetricsPushConfig{
			Exporter: strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", "")),
			Endpoint: strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			Token:    strings.TrimSpace(getenv("METRICS_PUSH_TOKEN", "")),
		},
		DBType:            normalizeDBType(getenv("DATABASE_TYPE", DBTypePostgres)),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "allocsync"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBURL:             strings.TrimSpace(getenv("DATABASE_URL", "")),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
	}
}

func (c Config) IsMongo() bool {
	return c.DBType == DBTypeMongo
}

func normalizeDBType(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "postgresql", "pg":
		return DBTypePostgres
	case "mongodb":
		return DBTypeMongo
	case "sqlite3":
		return DBTypeSQLite
	default:
		return value
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("90s") or a bare number of seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return def
}
