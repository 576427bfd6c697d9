package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Ticker feed
	StreamBaseURL  string
	ReconnectDelay time.Duration

	// Persistence
	StoreBackend  string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// HTTP
	APIAddr     string
	MetricsAddr string
	CORSOrigins []string

	// Live feed change-check interval
	LiveInterval time.Duration

	LogLevel string

	// Cron spec for refreshing valuation gauges, e.g. "@every 10s"
	ValuationSchedule string
}

// Load reads configuration from the environment, after applying a .env file
// from the working directory if one exists.
func Load() (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()

	reconnect, err := getEnvDuration("RECONNECT_DELAY", 5*time.Second)
	if err != nil {
		return nil, err
	}
	live, err := getEnvDuration("LIVE_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		StreamBaseURL:  getEnv("STREAM_BASE_URL", "wss://stream.binance.com:9443"),
		ReconnectDelay: reconnect,

		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite)),
		SQLitePath:    getEnv("SQLITE_PATH", "data/portfolio.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       redisDB,

		APIAddr:     getEnv("API_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),

		LiveInterval: live,

		LogLevel: getEnv("LOG_LEVEL", "info"),

		ValuationSchedule: getEnv("VALUATION_SCHEDULE", "@every 10s"),
	}

	switch cfg.StoreBackend {
	case BackendSQLite, BackendRedis, BackendMemory:
	default:
		return nil, fmt.Errorf("config: unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	if cfg.ReconnectDelay <= 0 {
		return nil, fmt.Errorf("config: RECONNECT_DELAY must be positive, got %s", cfg.ReconnectDelay)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			slog.Debug("skipping empty list entry", slog.String("component", "config"))
			continue
		}
		out = append(out, p)
	}
	return out
}
