// Package config loads daemon settings from the environment and the approval
// policy profile from YAML.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds daemon configuration.
type Config struct {
	Port         string
	LogLevel     string
	LedgerPath   string
	DatabaseURL  string
	RedisAddr    string
	PoliciesPath string
	TokenKey     string
	TokenTTL     time.Duration
	ScanInterval time.Duration
	OTLPEndpoint string
	// NotifyWebhookURL receives escalation notifications as JSON POSTs.
	// Empty means notifications go to the log.
	NotifyWebhookURL string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	ledgerPath := os.Getenv("LEDGER_PATH")
	if ledgerPath == "" {
		ledgerPath = "failsafe-audit.db"
	}

	policiesPath := os.Getenv("POLICIES_PATH")
	if policiesPath == "" {
		policiesPath = "policies.yaml"
	}

	return &Config{
		Port:             port,
		LogLevel:         logLevel,
		LedgerPath:       ledgerPath,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		PoliciesPath:     policiesPath,
		TokenKey:         os.Getenv("TOKEN_KEY"),
		TokenTTL:         durationEnv("TOKEN_TTL", 5*time.Minute),
		ScanInterval:     durationEnv("SCAN_INTERVAL", 5*time.Second),
		OTLPEndpoint:     os.Getenv("OTLP_ENDPOINT"),
		NotifyWebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
	}
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Bare numbers are treated as seconds.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
