package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/02loveslollipop/aws-rainfall/internal/failover"
	"github.com/02loveslollipop/aws-rainfall/internal/logging"
)

// Config holds environment-driven settings for the REST API.
type Config struct {
	DatabaseURL  string
	FailoverDir  string
	Port         int
	BearerToken  string
	DefaultLimit int
	MaxLimit     int
	Logging      logging.Config
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		FailoverDir:  failover.DefaultDir,
		Port:         8080,
		DefaultLimit: 288,
		MaxLimit:     5000,
		Logging:      logging.Config{Level: "info", Format: "text"},
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	if dir := os.Getenv("FAILOVER_DIR"); dir != "" {
		cfg.FailoverDir = dir
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid PORT: %s", portStr)
		}
	} else if portStr := os.Getenv("API_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid API_PORT: %s", portStr)
		}
	}

	if limitStr := os.Getenv("API_DEFAULT_LIMIT"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			cfg.DefaultLimit = limit
		} else {
			return cfg, fmt.Errorf("invalid API_DEFAULT_LIMIT: %s", limitStr)
		}
	}

	if maxStr := os.Getenv("API_MAX_LIMIT"); maxStr != "" {
		if limit, err := strconv.Atoi(maxStr); err == nil && limit > 0 {
			cfg.MaxLimit = limit
		} else {
			return cfg, fmt.Errorf("invalid API_MAX_LIMIT: %s", maxStr)
		}
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		return cfg, fmt.Errorf("API_DEFAULT_LIMIT %d exceeds API_MAX_LIMIT %d", cfg.DefaultLimit, cfg.MaxLimit)
	}

	cfg.BearerToken = os.Getenv("API_BEARER_TOKEN")
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	return cfg, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
