package config

// DefaultConfig returns the built-in configuration: a local SQLite store
// and a loopback API listener. The JWT secret has no default; it must come
// from a config file or CRUCIBLE_JWT_SECRET.
func DefaultConfig() *CrucibleConfig {
	return &CrucibleConfig{
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   ".crucible/state.db",
		},
		API: APIConfig{
			Addr:             "127.0.0.1:8811",
			JWTExpireSeconds: 1800,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}
