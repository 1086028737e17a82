package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all costopt server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	Region            string  `json:"region"`
	ModelID           string  `json:"model_id"`
	DBPath            string  `json:"db_path"`
	ArtifactDir       string  `json:"artifact_dir"`
	LogLevel          string  `json:"log_level"`
	PoolSize          int     `json:"pool_size"`
	TTLDays           int     `json:"ttl_days"`
	TimeoutMinutes    int     `json:"timeout_minutes"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float32 `json:"temperature"`
	RetryMaxAttempts  int     `json:"retry_max_attempts"`
	RetryMode         string  `json:"retry_mode"`
	PurgeSchedule     string  `json:"purge_schedule"`
	ReconcileSchedule string  `json:"reconcile_schedule"`
	StaleAfterMinutes int     `json:"stale_after_minutes"`
}

func defaultConfig() Config {
	return Config{
		Region:            "us-east-1",
		ModelID:           "anthropic.claude-3-5-sonnet-20241022-v2:0",
		DBPath:            filepath.Join(costoptDir(), "costopt.db"),
		ArtifactDir:       filepath.Join(costoptDir(), "reports"),
		LogLevel:          "info",
		PoolSize:          5,
		TTLDays:           30,
		TimeoutMinutes:    15,
		MaxTokens:         4096,
		Temperature:       0.2,
		RetryMaxAttempts:  5,
		RetryMode:         "standard",
		PurgeSchedule:     "0 3 * * *",
		ReconcileSchedule: "*/15 * * * *",
		StaleAfterMinutes: 60,
	}
}

func costoptDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".costopt"
	}
	return filepath.Join(home, ".costopt")
}

func settingsPath() string {
	return filepath.Join(costoptDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("COSTOPT_REGION"); v != "" {
		cfg.Region = v
	}
	if v := os.Getenv("COSTOPT_MODEL_ID"); v != "" {
		cfg.ModelID = v
	}
	if v := os.Getenv("COSTOPT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("COSTOPT_ARTIFACT_DIR"); v != "" {
		cfg.ArtifactDir = v
	}
	if v := os.Getenv("COSTOPT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("COSTOPT_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("COSTOPT_TTL_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TTLDays = n
		}
	}
	if v := os.Getenv("COSTOPT_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TimeoutMinutes = n
		}
	}
	if v := os.Getenv("COSTOPT_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryMaxAttempts = n
		}
	}
	if v := os.Getenv("COSTOPT_RETRY_MODE"); v != "" {
		cfg.RetryMode = v
	}
	if v := os.Getenv("COSTOPT_PURGE_SCHEDULE"); v != "" {
		cfg.PurgeSchedule = v
	}
	if v := os.Getenv("COSTOPT_RECONCILE_SCHEDULE"); v != "" {
		cfg.ReconcileSchedule = v
	}
	if v := os.Getenv("COSTOPT_STALE_AFTER_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StaleAfterMinutes = n
		}
	}

	return cfg
}
