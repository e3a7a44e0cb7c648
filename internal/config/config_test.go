package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "dev", c.App.Env)
	require.Equal(t, ":8080", c.Server.Addr)
	require.Equal(t, "http://localhost:8080", c.Server.PublicURL)
	require.Equal(t, "memory", c.Storage.Driver)
	require.Equal(t, 60, c.Rate.MaxRequests)
	require.Equal(t, time.Minute, c.RateWindow())
	require.Equal(t, 10*time.Second, c.UpstreamTimeout())
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  env: prod
server:
  addr: ":9000"
  public_url: "https://auth.example.com/"
storage:
  driver: postgres
  dsn: "postgres://o2:o2@localhost/o2"
  postgres:
    migrate: true
rate:
  enabled: true
  max_requests: 10
  window: 30s
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "prod", c.App.Env)
	require.Equal(t, ":9000", c.Server.Addr)
	// sin slash final
	require.Equal(t, "https://auth.example.com", c.Server.PublicURL)
	require.Equal(t, "postgres", c.Storage.Driver)
	require.True(t, c.Storage.Postgres.Migrate)
	require.True(t, c.Rate.Enabled)
	require.Equal(t, 30*time.Second, c.RateWindow())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":7777")
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("RATE_MAX_REQUESTS", "5")

	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":7777", c.Server.Addr)
	require.Equal(t, "postgres", c.Storage.Driver)
	require.Equal(t, "postgres://env", c.Storage.DSN)
	require.Equal(t, 5, c.Rate.MaxRequests)
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "cassandra")
	_, err := Load("")
	require.Error(t, err)

	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	_, err = Load("")
	require.Error(t, err)
}
