package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds teleconsult server configuration.
type Config struct {
	AppEnv   string // APP_ENV
	AppHost  string // APP_HOST
	HTTPPort string // APP_PORT
	LogLevel string // LOG_LEVEL

	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}

	JWTSecret     string
	PublicBaseURL string
	CORSOrigins   []string

	// Signaling
	PollInterval     time.Duration
	SignalBatchLimit int
	WSMaxMessageSize int64
	ICEServers       []string

	// Maintenance
	SweepInterval time.Duration
}

// Load loads config from environment (.env if present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	pollInterval, err := time.ParseDuration(getEnv("SIGNAL_POLL_INTERVAL", "1s"))
	if err != nil {
		return nil, fmt.Errorf("config: SIGNAL_POLL_INTERVAL: %w", err)
	}
	sweepInterval, err := time.ParseDuration(getEnv("SWEEP_INTERVAL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("config: SWEEP_INTERVAL: %w", err)
	}
	batch, _ := strconv.Atoi(getEnv("SIGNAL_BATCH_LIMIT", "200"))
	maxMsg, _ := strconv.ParseInt(getEnv("WS_MAX_MESSAGE_SIZE", "65536"), 10, 64)

	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		AppHost:          getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:         getEnv("APP_PORT", "8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		PublicBaseURL:    strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		CORSOrigins:      splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		PollInterval:     pollInterval,
		SignalBatchLimit: batch,
		WSMaxMessageSize: maxMsg,
		ICEServers:       splitList(getEnv("ICE_SERVERS", "stun:stun.l.google.com:19302")),
		SweepInterval:    sweepInterval,
	}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "teleconsult")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg, nil
}

// Validate checks required fields and production safety.
func (c *Config) Validate() error {
	if c.DB.Host == "" {
		return errors.New("config: DB_HOST is required")
	}
	if c.DB.User == "" {
		return errors.New("config: DB_USER is required")
	}
	if c.DB.Database == "" {
		return errors.New("config: DB_DATABASE is required")
	}
	if c.JWTSecret == "" {
		if c.AppEnv == "production" {
			return errors.New("config: in production JWT_SECRET is required")
		}
		c.JWTSecret = "dev-secret"
	}
	if c.AppEnv == "production" && c.DB.Password == "" {
		return errors.New("config: in production DB_PASSWORD is required")
	}
	if c.PollInterval <= 0 {
		return errors.New("config: SIGNAL_POLL_INTERVAL must be positive")
	}
	if c.SignalBatchLimit <= 0 {
		c.SignalBatchLimit = 200
	}
	return nil
}

// DSN returns the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

// DatabaseURL returns the postgres URL for golang-migrate.
func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

// Addr returns listen address for HTTP server.
func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
