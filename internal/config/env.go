package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment overrides. They win over tracker.conf.
const (
	EnvAPIURL        = "CLOSET_API_URL"
	EnvWSURL         = "CLOSET_WS_URL"
	EnvStorageDir    = "CLOSET_STORAGE_DIR"
	EnvLogLevel      = "CLOSET_LOG_LEVEL"
	EnvGraceSeconds  = "CLOSET_FAILURE_GRACE_SECONDS"
	EnvProxyPassword = "CLOSET_PROXY_PASSWORD"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process
// environment without overriding variables that are already set. A
// missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment overrides onto cfg.
func (cfg *Config) ApplyEnv() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.Server.APIURL = v
	}
	if v := os.Getenv(EnvWSURL); v != "" {
		cfg.Server.WSURL = v
	}
	if v := os.Getenv(EnvStorageDir); v != "" {
		cfg.Tracker.StorageDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvGraceSeconds); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tracker.FailureGraceSeconds = n
		}
	}
	if v := os.Getenv(EnvProxyPassword); v != "" {
		cfg.Proxy.Password = v
	}
}

// LoadWithOverrides loads .env from dotEnvPath, tracker.conf from path,
// then applies environment overrides and validates the result.
func LoadWithOverrides(path, dotEnvPath string) (*Config, error) {
	if err := LoadDotEnv(dotEnvPath); err != nil {
		return nil, err
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
