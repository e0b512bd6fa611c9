// Package config loads all application configuration from environment
// variables, with optional .env support for development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config carries every configuration value the app needs. One struct
// per concern.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Cache    CacheConfig
	Email    EmailConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string
}

// JWTConfig holds token signing settings.
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry int // minutes
}

// CacheConfig holds aggregate cache settings.
type CacheConfig struct {
	TTLMinutes     int
	CleanupMinutes int
}

// EmailConfig holds outbound email settings. Email sending is disabled
// when APIKey is empty.
type EmailConfig struct {
	APIKey    string
	FromEmail string
	AppURL    string
}

// Load builds a Config from the environment. A .env file is loaded
// first if present; missing files are not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := strconv.Atoi(getEnv("SERVER_PORT", "9090"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	accessExpiry, err := strconv.Atoi(getEnv("JWT_ACCESS_EXPIRY_MINUTES", "15"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_ACCESS_EXPIRY_MINUTES: %w", err)
	}

	cacheTTL, err := strconv.Atoi(getEnv("CACHE_TTL_MINUTES", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL_MINUTES: %w", err)
	}

	cacheCleanup, err := strconv.Atoi(getEnv("CACHE_CLEANUP_MINUTES", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_CLEANUP_MINUTES: %w", err)
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./data/commsapp.db"),
		},
		JWT: JWTConfig{
			Secret:            jwtSecret,
			AccessTokenExpiry: accessExpiry,
		},
		Cache: CacheConfig{
			TTLMinutes:     cacheTTL,
			CleanupMinutes: cacheCleanup,
		},
		Email: EmailConfig{
			APIKey:    getEnv("RESEND_API_KEY", ""),
			FromEmail: getEnv("EMAIL_FROM", "noreply@commsapp.dev"),
			AppURL:    getEnv("APP_URL", "http://localhost:5173"),
		},
	}

	return cfg, nil
}

// Addr returns the listen address, e.g. "0.0.0.0:9090".
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
