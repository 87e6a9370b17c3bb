package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName string
	HTTPAddr    string
	ObsHTTPAddr string

	DatabaseDriver string
	DatabaseURL    string
	RedisAddr      string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	AuthMode       string
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AllowedOrigins []string

	RateLimitRequests int
	RateLimitWindow   time.Duration
	RequestTimeout    time.Duration

	ConcealMembership bool
	IdempotencyTTL    time.Duration

	OutboxBatchSize    int
	OutboxPollInterval time.Duration
	OutboxMaxRetries   int

	NotifyTimeout time.Duration

	TracingEnabled bool
	JaegerURL      string
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServiceName: getEnv("SERVICE_NAME", "messaging"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		ObsHTTPAddr: getEnv("OBS_HTTP_ADDR", ":9090"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "postgres"),
		DatabaseURL:    mustEnv("DATABASE_URL"),
		RedisAddr:      getEnv("REDIS_ADDR", ""),

		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "messaging.events"),
		KafkaGroup:   getEnv("KAFKA_GROUP", "messaging-delivery"),

		AuthMode:       getEnv("AUTH_MODE", "jwt"),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		JWTIssuer:      getEnv("JWT_ISSUER", ""),
		JWTAudience:    getEnv("JWT_AUDIENCE", ""),
		AllowedOrigins: getEnvList("WS_ALLOWED_ORIGINS"),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 5*time.Second),

		ConcealMembership: getEnvBool("CONCEAL_MEMBERSHIP", false),
		IdempotencyTTL:    getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		OutboxBatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 100),
		OutboxPollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxMaxRetries:   getEnvInt("OUTBOX_MAX_RETRIES", 5),

		NotifyTimeout: getEnvDuration("NOTIFY_TIMEOUT", 5*time.Second),

		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		JaegerURL:      getEnv("JAEGER_URL", "http://localhost:14268/api/traces"),
	}
}

type AuthConfig struct {
	Mode     string
	Secret   string
	Issuer   string
	Audience string
}

// LoadAuth reads only the identity settings. Commands that never touch the
// database use it instead of Load.
func LoadAuth() AuthConfig {
	_ = godotenv.Load()

	return AuthConfig{
		Mode:     getEnv("AUTH_MODE", "jwt"),
		Secret:   getEnv("JWT_SECRET", ""),
		Issuer:   getEnv("JWT_ISSUER", ""),
		Audience: getEnv("JWT_AUDIENCE", ""),
	}
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true"
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

// getEnvList splits a comma separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func mustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic("missing required env: " + k)
	}
	return v
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
