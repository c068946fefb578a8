package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectBackendAutomatic(t *testing.T) {
	backend, err := Config{DataDir: "data"}.SelectBackend()
	require.NoError(t, err)
	require.Equal(t, BackendSQLite, backend)

	backend, err = Config{DatabaseURL: "postgres://localhost/app"}.SelectBackend()
	require.NoError(t, err)
	require.Equal(t, BackendPostgres, backend)
}

func TestSelectBackendExplicitOverride(t *testing.T) {
	// An explicit choice wins even when DATABASE_URL is set.
	backend, err := Config{DatabaseURL: "postgres://localhost/app", Backend: "sqlite"}.SelectBackend()
	require.NoError(t, err)
	require.Equal(t, BackendSQLite, backend)

	backend, err = Config{Backend: "json"}.SelectBackend()
	require.NoError(t, err)
	require.Equal(t, BackendJSON, backend)

	backend, err = Config{DatabaseURL: "postgres://localhost/app", Backend: "postgres"}.SelectBackend()
	require.NoError(t, err)
	require.Equal(t, BackendPostgres, backend)
}

func TestSelectBackendRejectsBadInput(t *testing.T) {
	_, err := Config{Backend: "postgres"}.SelectBackend()
	require.Error(t, err, "postgres without DATABASE_URL must fail")

	_, err = Config{Backend: "mongodb"}.SelectBackend()
	require.Error(t, err)
}

func TestDataFilePaths(t *testing.T) {
	cfg := Config{DataDir: filepath.Join("var", "appdata")}
	require.Equal(t, filepath.Join("var", "appdata", "byov.db"), cfg.SQLitePath())
	require.Equal(t, filepath.Join("var", "appdata", "fallback_store.json"), cfg.FallbackPath())
}
