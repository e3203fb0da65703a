package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
)

// DBConfig is a config.Provider with fixed values, so database tests do not
// need the server-only settings.
type DBConfig struct {
	URL, Namespace, Database, User, Pass string
}

func (c DBConfig) GetDBURL() string                   { return c.URL }
func (c DBConfig) GetDBNs() string                    { return c.Namespace }
func (c DBConfig) GetDBDb() string                    { return c.Database }
func (c DBConfig) GetDBUser() string                  { return c.User }
func (c DBConfig) GetDBPass() string                  { return c.Pass }
func (c DBConfig) GetDBQueryTimeout() time.Duration   { return 5 * time.Second }
func (c DBConfig) GetDBExecuteTimeout() time.Duration { return 10 * time.Second }

// DBConfigForTests loads .env.test from the project root (when present) and
// returns the SurrealDB settings for integration tests. It skips the calling
// test in short mode or when no database is configured.
func DBConfigForTests(t *testing.T) DBConfig {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	if root, ok := projectRoot(); ok {
		if env, err := godotenv.Read(filepath.Join(root, ".env.test")); err == nil {
			for key, value := range env {
				t.Setenv(key, value)
			}
		}
	}

	cfg := DBConfig{
		URL:       os.Getenv("SURREAL_URL"),
		Namespace: os.Getenv("SURREAL_NS"),
		Database:  os.Getenv("SURREAL_DB"),
		User:      os.Getenv("SURREAL_USER"),
		Pass:      os.Getenv("SURREAL_PASS"),
	}
	if cfg.URL == "" {
		t.Skip("SURREAL_URL not set, skipping integration test")
	}
	return cfg
}

// projectRoot finds the directory holding go.mod.
func projectRoot() (string, bool) {
	path, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if _, err := os.Stat(filepath.Join(path, "go.mod")); err == nil {
			return path, true
		}
		if path == filepath.Dir(path) {
			return "", false
		}
		path = filepath.Dir(path)
	}
}
