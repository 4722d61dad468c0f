package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	PostgresMaxConns int

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers         []string
	KafkaGroupID         string
	ResolutionEventTopic string

	// Auth
	JWTSecret   string
	JWTIssuer   string
	JWTTTL      time.Duration
	AdminToken  string
	MobileToken string

	// Conflict resolution
	ResolutionWriteTimeout time.Duration
	DefaultPageSize        int
	MaxPageSize            int

	// Entomology
	MetricsCacheTTL time.Duration
	FedStatuses     []string
	ConfigFile      string

	// Gateway
	RateLimitRPS   int
	RateLimitBurst int
}

// Load reads a .env file when one is present and then builds the config from
// the environment. A YAML file named by CONFIG_FILE may override the
// entomology section.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "vectorwatch"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "vectorwatch"),
		PostgresDB:       getEnv("POSTGRES_DB", "vectorwatch"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresMaxConns: getIntEnv("POSTGRES_MAX_CONNS", 20),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:         getStringSliceEnv("KAFKA_BROKERS", nil),
		KafkaGroupID:         getEnv("KAFKA_GROUP_ID", "vectorwatch"),
		ResolutionEventTopic: getEnv("RESOLUTION_EVENT_TOPIC", "session-conflict-resolutions"),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", "vectorwatch"),
		JWTTTL:      getDuration("JWT_TTL", 12*time.Hour),
		AdminToken:  getEnv("ADMIN_TOKEN", ""),
		MobileToken: getEnv("MOBILE_TOKEN", ""),

		ResolutionWriteTimeout: getDuration("RESOLUTION_WRITE_TIMEOUT", 15*time.Second),
		DefaultPageSize:        getIntEnv("DEFAULT_PAGE_SIZE", 20),
		MaxPageSize:            getIntEnv("MAX_PAGE_SIZE", 100),

		MetricsCacheTTL: getDuration("METRICS_CACHE_TTL", 5*time.Minute),
		FedStatuses:     getStringSliceEnv("FED_STATUSES", []string{"Fed", "Blood-fed"}),
		ConfigFile:      getEnv("CONFIG_FILE", ""),

		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),
	}

	if cfg.ConfigFile != "" {
		overlay, err := LoadEntomologyFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		overlay.Apply(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}
	if c.ResolutionWriteTimeout <= 0 {
		return errors.New("RESOLUTION_WRITE_TIMEOUT must be positive")
	}
	if c.DefaultPageSize <= 0 || c.MaxPageSize < c.DefaultPageSize {
		return errors.New("page size limits are inconsistent")
	}
	if len(c.FedStatuses) == 0 {
		return errors.New("at least one fed status is required")
	}
	trimmed := make([]string, 0, len(c.FedStatuses))
	for _, status := range c.FedStatuses {
		status = strings.TrimSpace(status)
		if status == "" {
			return errors.New("fed statuses must not be blank")
		}
		trimmed = append(trimmed, status)
	}
	c.FedStatuses = trimmed
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getStringSliceEnv splits a comma separated value, dropping blanks.
func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
