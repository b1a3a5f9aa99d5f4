package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadConfigKeepsDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: "9090"
store:
  backend: badger
  badger:
    path: /var/lib/agentrep
protocol:
  genesis:
    enabled: true
    authority: "0x0101010101010101010101010101010101010101010101010101010101010101"
    decay_rate_per_day: 250
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/agentrep", cfg.Store.Badger.Path)
	assert.Equal(t, uint64(250), cfg.Protocol.Genesis.DecayRatePerDay)
	// Untouched keys fall back to defaults.
	assert.Equal(t, 0.5, cfg.Store.Badger.GCDiscardRatio)
	assert.Equal(t, "agentreputation_dao", cfg.Protocol.ProgramSeed)
	assert.Equal(t, uint64(100), cfg.Protocol.Genesis.MinReputationForVouching)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("AGENTREP_STORE_BACKEND", "redis")
	t.Setenv("AGENTREP_REDIS_ADDR", "redis:6380")
	t.Setenv("AGENTREP_REDIS_DB", "3")
	t.Setenv("AGENTREP_KEEPER_ENABLED", "true")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis:6380", cfg.Store.Redis.Addr)
	assert.Equal(t, 3, cfg.Store.Redis.DB)
	assert.True(t, cfg.Keeper.Enabled)
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("AGENTREP_REDIS_DB", "three")
	assert.Error(t, Default().ApplyEnv())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "sqlite" }},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = "postgres" }},
		{"spanner incomplete", func(c *Config) {
			c.Store.Backend = "spanner"
			c.Store.Spanner.Project = "p"
		}},
		{"pubsub without project", func(c *Config) { c.Events.Backend = "pubsub" }},
		{"genesis without authority", func(c *Config) { c.Protocol.Genesis.Enabled = true }},
		{"decay rate above 100%", func(c *Config) {
			c.Protocol.Genesis.Enabled = true
			c.Protocol.Genesis.Authority = "01"
			c.Protocol.Genesis.DecayRatePerDay = 10001
		}},
		{"negative lockup", func(c *Config) {
			c.Protocol.Genesis.Enabled = true
			c.Protocol.Genesis.Authority = "01"
			c.Protocol.Genesis.VouchLockupSeconds = -1
		}},
		{"keeper without interval", func(c *Config) {
			c.Keeper.Enabled = true
			c.Keeper.IntervalSeconds = 0
		}},
		{"keeper without idle days", func(c *Config) {
			c.Keeper.Enabled = true
			c.Keeper.IdleDays = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestManagerOverlay(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yaml")
	overlay := filepath.Join(dir, "config.production.yaml")
	require.NoError(t, os.WriteFile(base, []byte("server:\n  port: \"8000\"\n  env: development\n"), 0o600))
	require.NoError(t, os.WriteFile(overlay, []byte("server:\n  env: production\n"), 0o600))

	m, err := NewManager(base, overlay)
	require.NoError(t, err)
	cfg := m.Get()
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "production", cfg.Server.Env)

	require.NoError(t, os.WriteFile(base, []byte("server:\n  port: \"8001\"\n"), 0o600))
	require.NoError(t, m.Reload())
	assert.Equal(t, "8001", m.Get().Server.Port)
	assert.Equal(t, "production", m.Get().Server.Env)
}

func TestManagerMissingOverlay(t *testing.T) {
	base := writeFile(t, "config.yaml", "server:\n  port: \"8000\"\n")
	m, err := NewManager(base, filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "development", m.Get().Server.Env)
}

func TestManagerKeepsConfigOnBadReload(t *testing.T) {
	base := writeFile(t, "config.yaml", "server:\n  port: \"8000\"\n")
	m, err := NewManager(base, "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(base, []byte("store:\n  backend: floppy\n"), 0o600))
	assert.Error(t, m.Reload())
	assert.Equal(t, "8000", m.Get().Server.Port)
}

func TestLoadWithoutFilesUsesDefaults(t *testing.T) {
	t.Setenv("AGENTREP_PORT", "9191")
	m, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, "9191", m.Get().Server.Port)
	assert.Equal(t, "memory", m.Get().Store.Backend)
}
