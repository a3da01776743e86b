package config

// StoreConfig selects and parameterizes the state store backend.
type StoreConfig struct {
	Driver   string `json:"driver"`             // "sqlite", "memory", or "neo4j"
	Path     string `json:"path,omitempty"`     // sqlite database path
	URI      string `json:"uri,omitempty"`      // neo4j bolt URI
	User     string `json:"user,omitempty"`     // neo4j user
	Password string `json:"password,omitempty"` // neo4j password
}

// APIConfig parameterizes the HTTP compute API.
type APIConfig struct {
	Addr             string `json:"addr"`
	JWTSecret        string `json:"jwt_secret,omitempty"`
	JWTExpireSeconds int    `json:"jwt_expire_seconds,omitempty"`
}

// LogConfig parameterizes structured logging and file rotation.
type LogConfig struct {
	Level      string `json:"level"`          // debug, info, warn, error
	Format     string `json:"format"`         // "json" or "console"
	File       string `json:"file,omitempty"` // empty logs to stderr only
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// CrucibleConfig is the top-level configuration.
type CrucibleConfig struct {
	Store StoreConfig `json:"store"`
	API   APIConfig   `json:"api"`
	Log   LogConfig   `json:"log"`
}
