package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{EnvFiles: []string{}})
	require.NoError(t, err)

	assert.Equal(t, domain.TierCommunity, cfg.Tier)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, "channel", cfg.EventBus.Type)
	assert.Equal(t, 5*time.Minute, cfg.Quoting.CatalogTTL)
	assert.Equal(t, []string{"default"}, cfg.Quoting.WorkerTenants())
}

func TestLoadProTier(t *testing.T) {
	t.Setenv("KESTREL_TIER", "pro")

	cfg, err := Load(Options{EnvFiles: []string{}})
	require.NoError(t, err)

	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "nats", cfg.EventBus.Type)
	assert.True(t, cfg.Quoting.AsyncWorker)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeFile(t, "kestrel.yaml", `
server:
  port: 9090
repository:
  sqlitePath: /tmp/quotes.db
quoting:
  catalogTtl: 90s
  catalogFile: ./catalog.yaml
  tenants: [acme, globex]
logging:
  format: text
`)

	cfg, err := Load(Options{File: path, EnvFiles: []string{}})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset keys keep defaults")
	assert.Equal(t, "/tmp/quotes.db", cfg.Repository.SQLitePath)
	assert.Equal(t, 90*time.Second, cfg.Quoting.CatalogTTL)
	assert.Equal(t, "./catalog.yaml", cfg.Quoting.CatalogFile)
	assert.Equal(t, []string{"acme", "globex"}, cfg.Quoting.WorkerTenants())
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "kestrel.yaml", "server:\n  port: 9090\n")
	t.Setenv("KESTREL_PORT", "7070")
	t.Setenv("KESTREL_TENANTS", " a, b ,,c ")
	t.Setenv("KESTREL_CATALOG_TTL", "2m")
	t.Setenv("KESTREL_DEBUG", "true")
	t.Setenv("KESTREL_SEED_DEFAULT_RULES", "false")

	cfg, err := Load(Options{File: path, EnvFiles: []string{}})
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Quoting.Tenants)
	assert.Equal(t, 2*time.Minute, cfg.Quoting.CatalogTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Quoting.SeedDefaultRules)
}

func TestLoadEnvFile(t *testing.T) {
	envPath := writeFile(t, ".env", "KESTREL_DEFAULT_TENANT=from-dotenv\nKESTREL_HOST=127.0.0.1\n")
	t.Cleanup(func() {
		os.Unsetenv("KESTREL_DEFAULT_TENANT")
		os.Unsetenv("KESTREL_HOST")
	})
	// Process environment wins over the file.
	t.Setenv("KESTREL_HOST", "10.0.0.1")

	cfg, err := Load(Options{EnvFiles: []string{envPath}})
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.Quoting.DefaultTenant)
	assert.Equal(t, "10.0.0.1", cfg.Server.Host)
}

func TestLoadMissingEnvFileIgnored(t *testing.T) {
	_, err := Load(Options{EnvFiles: []string{filepath.Join(t.TempDir(), "missing.env")}})
	assert.NoError(t, err)
}

func TestLoadErrors(t *testing.T) {
	t.Run("bad int", func(t *testing.T) {
		t.Setenv("KESTREL_PORT", "eighty")
		_, err := Load(Options{EnvFiles: []string{}})
		assert.ErrorContains(t, err, "KESTREL_PORT")
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("KESTREL_CATALOG_TTL", "soon")
		_, err := Load(Options{EnvFiles: []string{}})
		assert.ErrorContains(t, err, "KESTREL_CATALOG_TTL")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(Options{File: "/nonexistent/kestrel.yaml", EnvFiles: []string{}})
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "server: [")
		_, err := Load(Options{File: path, EnvFiles: []string{}})
		assert.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("KESTREL_DB_DRIVER", "oracle")
		_, err := Load(Options{EnvFiles: []string{}})
		assert.ErrorContains(t, err, "oracle")
	})
}

func TestValidate(t *testing.T) {
	cfg := domain.DefaultConfig()
	require.NoError(t, Validate(cfg))

	cfg.Server.Port = 0
	cfg.Cache.Type = "memcached"
	cfg.Logging.Level = "loud"
	err := Validate(cfg)
	require.Error(t, err)
	assert.ErrorContains(t, err, "port")
	assert.ErrorContains(t, err, "memcached")
	assert.ErrorContains(t, err, "loud")
}

func TestParseLevel(t *testing.T) {
	lvl, err := parseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	lvl, err = parseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)

	_, err = parseLevel("verbose")
	assert.Error(t, err)

	assert.NotNil(t, NewLogger(domain.LoggingConfig{Level: "debug", Format: "text"}))
}
