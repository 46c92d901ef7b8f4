// Package config loads the gateway's process configuration from the
// environment, optionally from a .env file in development (grounded on the
// teacher pack's godotenv.Load() convention).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the gateway's full runtime configuration.
type Config struct {
	ListenAddr string
	APIKey     string // the shared bearer key clients authenticate with

	RedisAddr string // prefix-cache key-value store; empty disables caching

	RefreshSkew   time.Duration
	RefreshPeriod time.Duration

	MaxRetryAttempts int
	ErrorThreshold   int

	OTLPEndpoint string
	Debug        bool
}

// Load reads configuration from the environment. If a .env file is present
// in the working directory it is loaded first (development convenience);
// its absence is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:       getenv("GATEWAY_LISTEN_ADDR", ":8080"),
		APIKey:           os.Getenv("GATEWAY_API_KEY"),
		RedisAddr:        os.Getenv("GATEWAY_REDIS_ADDR"),
		RefreshSkew:      getenvDuration("GATEWAY_REFRESH_SKEW", 2*time.Minute),
		RefreshPeriod:    getenvDuration("GATEWAY_REFRESH_PERIOD", 15*time.Minute),
		MaxRetryAttempts: getenvInt("GATEWAY_MAX_RETRY_ATTEMPTS", 3),
		ErrorThreshold:   getenvInt("GATEWAY_ERROR_THRESHOLD", 3),
		OTLPEndpoint:     os.Getenv("GATEWAY_OTLP_ENDPOINT"),
		Debug:            getenvBool("GATEWAY_DEBUG", false),
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("config: GATEWAY_API_KEY is required")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
