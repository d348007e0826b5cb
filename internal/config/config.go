// Package config loads runtime configuration for the translation server.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the admission/dispatch engine
// and its HTTP surface.
type Config struct {
	APIHost string
	APIPort int

	APIReadTimeout  time.Duration
	APIWriteTimeout time.Duration
	APIIdleTimeout  time.Duration

	// DatabaseType selects the task-store backend: "sqlite" or "postgres".
	DatabaseType string
	DatabaseURL  string
	DBMaxConns   int
	DBMinConns   int

	// ExecutorCount is the fixed size of the executor pool.
	ExecutorCount int

	// TaskCacheSize bounds the read-through LRU cache in front of the task store.
	TaskCacheSize int

	// DefaultBatchSize is used when a batch request omits batch_size.
	DefaultBatchSize int

	EnablePrometheus bool
	PrometheusPort   int

	// EnableProgressHub toggles the supplemental WebSocket progress tail.
	EnableProgressHub bool
}

// Load reads configuration from the environment, applying .env overrides
// the same way the rest of this codebase does.
func Load() Config {
	loadEnvironmentConfig()

	cfg := Config{
		APIHost:            getEnv("API_HOST", "0.0.0.0"),
		APIPort:            getEnvInt("API_PORT", 8080),
		APIReadTimeout:     time.Duration(getEnvInt("API_READ_TIMEOUT_SEC", 30)) * time.Second,
		APIWriteTimeout:    time.Duration(getEnvInt("API_WRITE_TIMEOUT_SEC", 60)) * time.Second,
		APIIdleTimeout:     time.Duration(getEnvInt("API_IDLE_TIMEOUT_SEC", 120)) * time.Second,
		DatabaseType:       getEnv("DATABASE_TYPE", "sqlite"),
		DatabaseURL:        getEnv("DATABASE_URL", "./data/tasks.db"),
		DBMaxConns:         getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:         getEnvInt("DB_MIN_CONNS", 1),
		ExecutorCount:      getEnvInt("EXECUTOR_COUNT", 2),
		TaskCacheSize:      getEnvInt("TASK_CACHE_SIZE", 1024),
		DefaultBatchSize:   getEnvInt("DEFAULT_BATCH_SIZE", 4),
		EnablePrometheus:   getEnvBool("ENABLE_PROMETHEUS", true),
		PrometheusPort:     getEnvInt("PROMETHEUS_PORT", 9090),
		EnableProgressHub:  getEnvBool("ENABLE_PROGRESS_HUB", true),
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation error: %v", err)
	}

	return cfg
}

// Validate checks for configuration combinations that would make the
// server unable to start.
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("invalid API_PORT: %d", c.APIPort)
	}
	if c.ExecutorCount <= 0 {
		return fmt.Errorf("EXECUTOR_COUNT must be >= 1, got %d", c.ExecutorCount)
	}
	switch c.DatabaseType {
	case "sqlite", "sqlite3", "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported DATABASE_TYPE: %s", c.DatabaseType)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || v == "true"
	}
	return def
}

// loadEnvironmentConfig loads .env overrides the same way the rest of
// this codebase does: a default file, then an environment-specific one.
func loadEnvironmentConfig() {
	if err := godotenv.Load(); err == nil {
		log.Printf("config: loaded default .env file")
	} else {
		log.Printf("config: no .env file found, using system environment variables")
	}

	env := getEnv("APP_ENV", "")
	if env != "" {
		envFile := fmt.Sprintf(".env.%s", strings.ToLower(env))
		if err := godotenv.Overload(envFile); err == nil {
			log.Printf("config: loaded environment override file: %s", envFile)
		}
	}
}
