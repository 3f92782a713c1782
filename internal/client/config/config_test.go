package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "127.0.0.1:50051", c.ServerEndpointAddr)
	assert.Equal(t, "session.db", c.DatabasePath)
	assert.Equal(t, 30*time.Minute, c.IdleTimeout)
	assert.Equal(t, 2*time.Minute, c.WarningWindow)
	assert.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"no server", func(c *Config) { c.ServerEndpointAddr = "" }, true},
		{"no database", func(c *Config) { c.DatabasePath = "" }, true},
		{"zero idle", func(c *Config) { c.IdleTimeout = 0 }, true},
		{"zero warning", func(c *Config) { c.WarningWindow = 0 }, true},
		{"warning equals idle", func(c *Config) { c.WarningWindow = c.IdleTimeout }, true},
		{"warning longer than idle", func(c *Config) { c.IdleTimeout = time.Minute; c.WarningWindow = 2 * time.Minute }, true},
		{"short session", func(c *Config) { c.IdleTimeout = time.Minute; c.WarningWindow = 10 * time.Second }, false},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.mutate(&c)
			if tt.wantErr {
				assert.Error(t, c.Validate())
			} else {
				assert.NoError(t, c.Validate())
			}
		})
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	dotEnvFile = filepath.Join(t.TempDir(), "missing.env")
	t.Cleanup(func() { dotEnvFile = ".env" })

	path := writeTempJSON(t, "", "", map[string]any{
		"server_endpoint_addr": "json:1",
		"database_path":        "json.db",
		"idle_timeout":         "10m",
	})
	t.Setenv("SK_CLIENT_DB", "env.db")

	os.Args = []string{"sk", "-c", path, "-a", "flag:2"}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "flag:2", cfg.ServerEndpointAddr)
	assert.Equal(t, "env.db", cfg.DatabasePath)
	assert.Equal(t, 10*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 2*time.Minute, cfg.WarningWindow)
}

func TestLoadConfig_InvalidFails(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	dotEnvFile = filepath.Join(t.TempDir(), "missing.env")
	t.Cleanup(func() { dotEnvFile = ".env" })

	os.Args = []string{"sk", "-i", "1", "-w", "120"}

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestParseEnv_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SK_WARNING_WINDOW=45s\n"), 0o600))
	dotEnvFile = path
	t.Cleanup(func() {
		dotEnvFile = ".env"
		os.Unsetenv("SK_WARNING_WINDOW")
	})

	var c Config
	c.LoadDefaults()
	require.NoError(t, parseEnv(&c))
	assert.Equal(t, 45*time.Second, c.WarningWindow)
}
