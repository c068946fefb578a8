package persistence

import (
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Backend identifies a storage implementation.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
	BackendJSON     Backend = "json"
)

// Names of the files kept under DataDir.
const (
	sqliteFileName   = "byov.db"
	fallbackFileName = "fallback_store.json"
)

// Config captures the persistence knobs, populated from the environment.
type Config struct {
	// DatabaseURL, when set, points at a PostgreSQL server and selects the
	// postgres backend.
	DatabaseURL string `env:"DATABASE_URL"`
	// Backend forces a specific backend ("postgres", "sqlite", "json"),
	// overriding automatic selection.
	Backend string `env:"STORAGE_BACKEND"`
	// DataDir holds the SQLite database file, the fallback document store,
	// and backups.
	DataDir string `env:"DATA_DIR" envDefault:"data"`
	// LogLevel sets the minimum log severity.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// SelectBackend resolves which backend to use. An explicit STORAGE_BACKEND
// wins; otherwise a configured DATABASE_URL selects postgres and SQLite is
// the default. The json backend is only ever chosen explicitly, though the
// relational backends still read the fallback document when degraded.
func (c Config) SelectBackend() (Backend, error) {
	switch c.Backend {
	case "":
	case string(BackendPostgres):
		if c.DatabaseURL == "" {
			return "", fmt.Errorf("postgres backend requires DATABASE_URL")
		}
		return BackendPostgres, nil
	case string(BackendSQLite):
		return BackendSQLite, nil
	case string(BackendJSON):
		return BackendJSON, nil
	default:
		return "", fmt.Errorf("unknown storage backend %q", c.Backend)
	}

	if c.DatabaseURL != "" {
		return BackendPostgres, nil
	}
	return BackendSQLite, nil
}

// SQLitePath is the location of the SQLite database file.
func (c Config) SQLitePath() string {
	return filepath.Join(c.DataDir, sqliteFileName)
}

// FallbackPath is the location of the JSON document store.
func (c Config) FallbackPath() string {
	return filepath.Join(c.DataDir, fallbackFileName)
}
