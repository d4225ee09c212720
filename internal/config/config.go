// Package config loads runtime settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings shared by the relay daemon and the agent.
type Config struct {
	// Relay daemon.
	ListenAddr string

	// Agent connection.
	RelayURL   string
	Room       string
	ClientName string

	// Reconnect tuning.
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// Snapshot persistence. An empty DSN selects the in-memory store.
	DBHost           string
	DBPort           string
	DBUser           string
	DBPassword       string
	DBName           string
	DBSSLMode        string
	DBEnabled        bool
	AutosaveInterval time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		RelayURL:   getEnv("RELAY_URL", "ws://localhost:8080"),
		Room:       getEnv("ROOM", "default"),
		ClientName: getEnv("CLIENT_NAME", ""),

		MaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 5),
		BaseBackoff: getEnvDuration("RECONNECT_BASE_BACKOFF", 250*time.Millisecond),
		MaxBackoff:  getEnvDuration("RECONNECT_MAX_BACKOFF", 5*time.Second),

		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnv("DB_PORT", "5432"),
		DBUser:           getEnv("DB_USER", "postgres"),
		DBPassword:       getEnv("DB_PASSWORD", "postgres"),
		DBName:           getEnv("DB_NAME", "collabsync"),
		DBSSLMode:        getEnv("DB_SSLMODE", "disable"),
		DBEnabled:        getEnvBool("DB_ENABLED", false),
		AutosaveInterval: getEnvDuration("AUTOSAVE_INTERVAL", 30*time.Second),
	}

	if cfg.Room == "" {
		return nil, fmt.Errorf("ROOM must not be empty")
	}

	return cfg, nil
}

// DatabaseDSN builds the Postgres connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}

	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}

	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}

	return defaultValue
}
