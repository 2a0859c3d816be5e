package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Lock backends.
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Schedule conflict modes.
const (
	ConflictModeExact   = "exact"
	ConflictModeOverlap = "overlap"
)

const defaultJWTSecret = "dev-secret"

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Lock     LockConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Realtime RealtimeConfig
	Schedule ScheduleConfig
	Events   EventsConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	// SeedUsers preloads the in-memory user store as "id:role[:name]"
	// entries separated by commas. Ignored when Postgres is configured.
	SeedUsers string
}

// PostgresConfig holds DB connection values. An empty DSN selects the
// in-memory repository.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LockConfig selects where contended-key locks live.
type LockConfig struct {
	Backend    string
	TTLSeconds int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
	// Format is "json" or "console".
	Format  string
	Service string
}

// AuthConfig defines token verification parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// RealtimeConfig tunes websocket delivery.
type RealtimeConfig struct {
	WriteTimeoutMS     int
	IdleTimeoutSeconds int
}

// ScheduleConfig tunes the booking conflict guard.
type ScheduleConfig struct {
	ConflictMode           string
	DefaultDurationMinutes int
}

// EventsConfig configures the optional Kafka event export.
type EventsConfig struct {
	KafkaBrokers string
	KafkaTopic   string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "counseling-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			SeedUsers:             os.Getenv("DEV_SEED_USERS"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Lock: LockConfig{
			Backend:    strings.ToLower(getEnv("LOCK_BACKEND", LockBackendMemory)),
			TTLSeconds: getEnvAsInt("LOCK_TTL_SECONDS", 10),
		},
		Logger: LoggerConfig{
			Level:   getEnv("LOG_LEVEL", "info"),
			Format:  strings.ToLower(getEnv("LOG_FORMAT", "json")),
			Service: getEnv("APP_NAME", "counseling-service"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", defaultJWTSecret),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 1440),
		},
		Realtime: RealtimeConfig{
			WriteTimeoutMS:     getEnvAsInt("WS_WRITE_TIMEOUT_MS", 5000),
			IdleTimeoutSeconds: getEnvAsInt("WS_IDLE_TIMEOUT_SECONDS", 300),
		},
		Schedule: ScheduleConfig{
			ConflictMode:           strings.ToLower(getEnv("SCHEDULE_CONFLICT_MODE", ConflictModeExact)),
			DefaultDurationMinutes: getEnvAsInt("SCHEDULE_DEFAULT_DURATION_MINUTES", 60),
		},
		Events: EventsConfig{
			KafkaBrokers: os.Getenv("KAFKA_BROKERS"),
			KafkaTopic:   getEnv("KAFKA_EVENTS_TOPIC", "counseling.events"),
		},
	}

	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Lock.Backend {
	case LockBackendMemory, LockBackendRedis:
	default:
		return fmt.Errorf("config: unknown LOCK_BACKEND %q", c.Lock.Backend)
	}
	switch c.Schedule.ConflictMode {
	case ConflictModeExact, ConflictModeOverlap:
	default:
		return fmt.Errorf("config: unknown SCHEDULE_CONFLICT_MODE %q", c.Schedule.ConflictMode)
	}
	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: unknown LOG_FORMAT %q", c.Logger.Format)
	}
	if c.Schedule.DefaultDurationMinutes <= 0 {
		return errors.New("config: SCHEDULE_DEFAULT_DURATION_MINUTES must be positive")
	}
	if c.App.Env == "production" && c.Auth.JWTSecret == defaultJWTSecret {
		return errors.New("config: in production AUTH_JWT_SECRET is required")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// TTL returns the lock lease duration.
func (l LockConfig) TTL() time.Duration {
	return time.Duration(l.TTLSeconds) * time.Second
}

// WriteTimeout bounds a single websocket write.
func (r RealtimeConfig) WriteTimeout() time.Duration {
	return time.Duration(r.WriteTimeoutMS) * time.Millisecond
}

// IdleTimeout is how long a socket may stay silent before it is dropped.
func (r RealtimeConfig) IdleTimeout() time.Duration {
	if r.IdleTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(r.IdleTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
