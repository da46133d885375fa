package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"

	EmailMatchExact = "exact"
	EmailMatchFold  = "fold"
)

type Config struct {
	ServerPort     string
	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers are
	// believed. Empty means the remote address is always the client IP.
	TrustedProxies []string
	UserStore      string
	Postgres       PostgresConfig
	Mongo          MongoConfig
	Redis          RedisConfig
	Logging        LoggingConfig
	Auth           AuthConfig
}

type PostgresConfig struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

type MongoConfig struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

// RedisConfig is optional; an empty Addr keeps login throttling in memory.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
}

type AuthConfig struct {
	EmailMatch     string
	EqualizeTiming bool
	BcryptCost     int
	MaxAttempts    int
	AttemptWindow  time.Duration
	LockDuration   time.Duration
}

// FoldEmailCase reports whether email lookups ignore letter case.
func (a AuthConfig) FoldEmailCase() bool {
	return a.EmailMatch == EmailMatchFold
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerPort:     envOrDefault("PORT", "8080"),
		TrustedProxies: splitList(os.Getenv("TRUSTED_PROXIES")),
		UserStore:      strings.ToLower(envOrDefault("USER_STORE", StorePostgres)),
		Postgres: PostgresConfig{
			DSN:               firstEnv("POSTGRES_URL", "POSTGRES_DSN"),
			MaxConns:          parseInt32(envOrDefault("POSTGRES_MAX_CONNS", "8"), 8),
			MinConns:          parseInt32(envOrDefault("POSTGRES_MIN_CONNS", "1"), 1),
			MaxConnLifetime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_LIFETIME", "1h"), time.Hour),
			MaxConnIdleTime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_IDLE", "30m"), 30*time.Minute),
			HealthCheckPeriod: parseDuration(envOrDefault("POSTGRES_HEALTH_CHECK_PERIOD", "1m"), time.Minute),
			ConnectTimeout:    parseDuration(envOrDefault("POSTGRES_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Mongo: MongoConfig{
			URI:            strings.TrimSpace(os.Getenv("MONGO_URI")),
			Database:       envOrDefault("MONGO_DATABASE", "credauth"),
			Collection:     envOrDefault("MONGO_USERS_COLLECTION", "users"),
			ConnectTimeout: parseDuration(envOrDefault("MONGO_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Redis: RedisConfig{
			Addr:      strings.TrimSpace(os.Getenv("REDIS_ADDR")),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        parseInt(envOrDefault("REDIS_DB", "0"), 0),
			KeyPrefix: envOrDefault("REDIS_KEY_PREFIX", "credauth:login:"),
		},
		Logging: LoggingConfig{
			Level:        strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
			Encoding:     strings.ToLower(envOrDefault("LOG_ENCODING", "console")),
			Development:  parseBool(envOrDefault("LOG_DEVELOPMENT", "false"), false),
			EnableCaller: parseBool(envOrDefault("LOG_CALLER", "false"), false),
			ServiceName:  envOrDefault("SERVICE_NAME", "credauth"),
		},
		Auth: AuthConfig{
			EmailMatch:     strings.ToLower(envOrDefault("AUTH_EMAIL_MATCH", EmailMatchExact)),
			EqualizeTiming: parseBool(envOrDefault("AUTH_EQUALIZE_TIMING", "true"), true),
			BcryptCost:     parseInt(envOrDefault("AUTH_BCRYPT_COST", "10"), 10),
			MaxAttempts:    parseInt(envOrDefault("AUTH_MAX_ATTEMPTS", "5"), 5),
			AttemptWindow:  parseDuration(envOrDefault("AUTH_ATTEMPT_WINDOW", "15m"), 15*time.Minute),
			LockDuration:   parseDuration(envOrDefault("AUTH_LOCK_DURATION", "10m"), 10*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports missing or contradictory settings. A missing connection
// string for the selected user store is fatal at startup.
func (c *Config) Validate() error {
	missing := make([]string, 0, 2)

	switch c.UserStore {
	case StorePostgres:
		if c.Postgres.DSN == "" {
			missing = append(missing, "POSTGRES_URL")
		}
	case StoreMongo:
		if c.Mongo.URI == "" {
			missing = append(missing, "MONGO_URI")
		}
	default:
		return fmt.Errorf("config: unsupported USER_STORE %q", c.UserStore)
	}

	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}

	switch c.Auth.EmailMatch {
	case EmailMatchExact, EmailMatchFold:
	default:
		return fmt.Errorf("config: unsupported AUTH_EMAIL_MATCH %q", c.Auth.EmailMatch)
	}

	return nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(value string, fallback int) int {
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return i
}

func parseInt32(value string, fallback int32) int32 {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return int32(i)
}

func parseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}
