package config

import (
	"os"
	"strconv"
	"strings"
)

const (
	envDataDir        = "PROBITY_DATA_DIR"
	envEnvironment    = "PROBITY_ENV"
	envHolderRole     = "PROBITY_HOLDER_ROLE"
	envStorageBackend = "PROBITY_STORAGE_BACKEND"
	envStoragePath    = "PROBITY_STORAGE_PATH"
	envJournalDSN     = "PROBITY_JOURNAL_DSN"
	envListen         = "PROBITY_LISTEN"
	envRatePerMin     = "PROBITY_RATE_PER_MIN"
	envJWTSecret      = "PROBITY_JWT_SECRET"
	envOTLPEndpoint   = "PROBITY_OTLP_ENDPOINT"
	envOTLPInsecure   = "PROBITY_OTLP_INSECURE"
	envLogFile        = "PROBITY_LOG_FILE"
)

// applyEnv overrides file settings with PROBITY_* environment variables.
func applyEnv(cfg *Config) {
	cfg.DataDir = stringFromEnv(envDataDir, cfg.DataDir)
	cfg.Environment = stringFromEnv(envEnvironment, cfg.Environment)
	cfg.Shutdown.HolderRole = stringFromEnv(envHolderRole, cfg.Shutdown.HolderRole)
	cfg.Storage.Backend = stringFromEnv(envStorageBackend, cfg.Storage.Backend)
	cfg.Storage.Path = stringFromEnv(envStoragePath, cfg.Storage.Path)
	cfg.Journal.DSN = stringFromEnv(envJournalDSN, cfg.Journal.DSN)
	cfg.Server.Listen = stringFromEnv(envListen, cfg.Server.Listen)
	cfg.Server.RateLimitPerMinute = intFromEnv(envRatePerMin, cfg.Server.RateLimitPerMinute)
	cfg.Auth.HMACSecret = stringFromEnv(envJWTSecret, cfg.Auth.HMACSecret)
	cfg.Telemetry.Endpoint = stringFromEnv(envOTLPEndpoint, cfg.Telemetry.Endpoint)
	cfg.Telemetry.Insecure = boolFromEnv(envOTLPInsecure, cfg.Telemetry.Insecure)
	cfg.Log.File = stringFromEnv(envLogFile, cfg.Log.File)
}

func stringFromEnv(key, fallback string) string {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func boolFromEnv(key string, fallback bool) bool {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func intFromEnv(key string, fallback int) int {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}
