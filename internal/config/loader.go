// Package config loads the service configuration from layered JSON files
// with environment variable overrides for deployment secrets.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): environment, project config,
// global config, defaults. Missing files are not errors; malformed JSON
// returns an error.
func Load(globalPath, projectPath string) (*CrucibleConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.crucible/config.json
// Project: .crucible/config.json (relative to cwd)
func LoadDefault() (*CrucibleConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".crucible", "config.json")
	projectPath := filepath.Join(".crucible", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges its non-zero fields
// into the base config. Missing files are silently skipped.
func mergeConfigFile(base *CrucibleConfig, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded CrucibleConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	mergeString(&base.Store.Driver, loaded.Store.Driver)
	mergeString(&base.Store.Path, loaded.Store.Path)
	mergeString(&base.Store.URI, loaded.Store.URI)
	mergeString(&base.Store.User, loaded.Store.User)
	mergeString(&base.Store.Password, loaded.Store.Password)

	mergeString(&base.API.Addr, loaded.API.Addr)
	mergeString(&base.API.JWTSecret, loaded.API.JWTSecret)
	mergeInt(&base.API.JWTExpireSeconds, loaded.API.JWTExpireSeconds)

	mergeString(&base.Log.Level, loaded.Log.Level)
	mergeString(&base.Log.Format, loaded.Log.Format)
	mergeString(&base.Log.File, loaded.Log.File)
	mergeInt(&base.Log.MaxSizeMB, loaded.Log.MaxSizeMB)
	mergeInt(&base.Log.MaxBackups, loaded.Log.MaxBackups)
	mergeInt(&base.Log.MaxAgeDays, loaded.Log.MaxAgeDays)

	return nil
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// applyEnv overrides config fields from the environment so secrets stay
// out of config files.
func applyEnv(cfg *CrucibleConfig) {
	if v := os.Getenv("CRUCIBLE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("CRUCIBLE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CRUCIBLE_NEO4J_URI"); v != "" {
		cfg.Store.URI = v
	}
	if v := os.Getenv("CRUCIBLE_NEO4J_USER"); v != "" {
		cfg.Store.User = v
	}
	if v := os.Getenv("CRUCIBLE_NEO4J_PASSWORD"); v != "" {
		cfg.Store.Password = v
	}
	if v := os.Getenv("CRUCIBLE_API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("CRUCIBLE_JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}
	if v := os.Getenv("CRUCIBLE_JWT_EXPIRE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.API.JWTExpireSeconds = n
		}
	}
	if v := os.Getenv("CRUCIBLE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks the configuration for a runnable service.
func (c *CrucibleConfig) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case "neo4j":
		if c.Store.URI == "" {
			return fmt.Errorf("store.uri is required for the neo4j driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.API.Addr == "" {
		return fmt.Errorf("api.addr is required")
	}
	if c.API.JWTSecret == "" {
		return fmt.Errorf("api.jwt_secret is required (or set CRUCIBLE_JWT_SECRET)")
	}
	return nil
}
