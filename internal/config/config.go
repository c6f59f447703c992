// Package config loads binary configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is read once at startup and treated as immutable.
type Config struct {
	// Server
	ServerPort string
	BaseURL    string

	// Redis. An empty address starts an in-process miniredis.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Postgres profile store. Empty keeps profiles in Redis.
	DatabaseURL string

	// Tokens
	JWTSecret  string
	JWTIssuer  string
	AccessTTL  time.Duration
	SessionTTL time.Duration

	// Guards
	ProfileTimeout time.Duration

	// Rate Limit
	RateLimitPerSecond float64
	RateLimitBurst     int
	MaxSignInAttempts  int

	// Audit
	KafkaBrokers []string
	KafkaTopic   string
	AuditBuffer  int

	// Bootstrap account granted admin and approved at registration.
	AdminEmail  string
	AutoApprove bool

	// TrustProxy takes client IPs from X-Forwarded-For.
	TrustProxy bool

	// Cookie
	CookieSecure bool

	// Logging
	LogLevel string
}

// Load reads the environment. JWT_SECRET is required.
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.DatabaseURL = getEnvString("DATABASE_URL", "")
	cfg.JWTIssuer = getEnvString("JWT_ISSUER", "gatekeeper")
	cfg.AccessTTL = getEnvDuration("ACCESS_TTL", 15*time.Minute)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 24*time.Hour)
	cfg.ProfileTimeout = getEnvDuration("PROFILE_TIMEOUT", 5*time.Second)
	cfg.RateLimitPerSecond = getEnvFloat("RATE_LIMIT_PER_SECOND", 20)
	cfg.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 40)
	cfg.MaxSignInAttempts = getEnvInt("MAX_SIGN_IN_ATTEMPTS", 5)
	cfg.KafkaBrokers = getEnvList("KAFKA_BROKERS")
	cfg.KafkaTopic = getEnvString("KAFKA_TOPIC", "gatekeeper.audit")
	cfg.AuditBuffer = getEnvInt("AUDIT_BUFFER", 1024)
	cfg.AdminEmail = getEnvString("ADMIN_EMAIL", "")
	cfg.AutoApprove = getEnvBool("AUTO_APPROVE", false)
	cfg.TrustProxy = getEnvBool("TRUST_PROXY", false)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
