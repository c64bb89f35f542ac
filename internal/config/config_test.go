package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func env(vars map[string]string) func(string) string {
	return func(name string) string { return vars[name] }
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, TransportMarionette, cfg.Transport)
	assert.Equal(t, 2828, cfg.ConnectPort())
	assert.Nil(t, cfg.RequireTor)
}

func TestLoadFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), `
transport: bidi
host: 10.0.0.2
bidi_port: 9333
timeout: 1m
interval: 50ms
max_attempts: 5
require_tor: true
headless: true
`)
	cfg := Default()

	used, err := LoadFile(cfg, p)
	require.NoError(t, err)
	assert.Equal(t, p, used)

	assert.Equal(t, TransportBiDi, cfg.Transport)
	assert.Equal(t, "10.0.0.2", cfg.Host)
	assert.Equal(t, 9333, cfg.ConnectPort())
	assert.Equal(t, time.Minute, cfg.Timeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Interval)
	assert.Equal(t, 5, cfg.MaxAttempts)
	require.NotNil(t, cfg.RequireTor)
	assert.True(t, *cfg.RequireTor)
	assert.True(t, cfg.Headless)

	// untouched keys keep their defaults
	assert.Equal(t, 2828, cfg.Port)
	assert.Equal(t, "json", cfg.Output)
}

func TestLoadFile_FirstFoundWins(t *testing.T) {
	first := writeFile(t, t.TempDir(), "host: first\n")
	second := writeFile(t, t.TempDir(), "host: second\n")
	cfg := Default()

	used, err := LoadFile(cfg, filepath.Join(t.TempDir(), "missing.yaml"), first, second)
	require.NoError(t, err)
	assert.Equal(t, first, used)
	assert.Equal(t, "first", cfg.Host)
}

func TestLoadFile_NoneFound(t *testing.T) {
	cfg := Default()
	used, err := LoadFile(cfg, filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	assert.Empty(t, used)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile_EmptyFile(t *testing.T) {
	cfg := Default()
	_, err := LoadFile(cfg, writeFile(t, t.TempDir(), "\n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile_MalformedIsAnError(t *testing.T) {
	for name, content := range map[string]string{
		"bad yaml":     "host: [unclosed\n",
		"unknown key":  "hots: typo\n",
		"bad duration": "timeout: soon\n",
		"wrong type":   "port: lots\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(Default(), writeFile(t, t.TempDir(), content))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(cfg, env(map[string]string{
		"FOXTROT_HOST":        "remote",
		"FOXTROT_PORT":        "2900",
		"FOXTROT_TIMEOUT":     "5s",
		"FOXTROT_REQUIRE_TOR": "false",
		"FOXTROT_HEADLESS":    "1",
		"FOXTROT_OUTPUT":      "text",
	}))
	require.NoError(t, err)

	assert.Equal(t, "remote", cfg.Host)
	assert.Equal(t, 2900, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	require.NotNil(t, cfg.RequireTor)
	assert.False(t, *cfg.RequireTor)
	assert.True(t, cfg.Headless)
	assert.Equal(t, "text", cfg.Output)
}

func TestApplyEnv_Malformed(t *testing.T) {
	for _, name := range []string{"FOXTROT_PORT", "FOXTROT_TIMEOUT", "FOXTROT_HEADLESS", "FOXTROT_REQUIRE_TOR"} {
		t.Run(name, func(t *testing.T) {
			err := ApplyEnv(Default(), env(map[string]string{name: "not-a-value"}))
			assert.Error(t, err)
		})
	}
}

func TestNegativeDurationsRejected(t *testing.T) {
	cfg := Default()
	_, err := LoadFile(cfg, writeFile(t, t.TempDir(), "retry_interval: -1s\n"))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())

	cfg = Default()
	require.NoError(t, ApplyEnv(cfg, env(map[string]string{"FOXTROT_TIMEOUT": "-5s"})))
	assert.Error(t, cfg.Validate())
}

func TestPrecedence_EnvOverridesFile(t *testing.T) {
	cfg := Default()
	_, err := LoadFile(cfg, writeFile(t, t.TempDir(), "host: from-file\nport: 3000\n"))
	require.NoError(t, err)
	require.NoError(t, ApplyEnv(cfg, env(map[string]string{"FOXTROT_HOST": "from-env"})))

	assert.Equal(t, "from-env", cfg.Host)
	assert.Equal(t, 3000, cfg.Port)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"transport":    func(c *Config) { c.Transport = "cdp" },
		"output":       func(c *Config) { c.Output = "xml" },
		"port":         func(c *Config) { c.Port = 0 },
		"bidi port":    func(c *Config) { c.BiDiPort = 70000 },
		"max attempts": func(c *Config) { c.MaxAttempts = -1 },
		"interval":     func(c *Config) { c.Interval = 0 },
		"neg interval": func(c *Config) { c.Interval = -time.Second },
		"timeout":      func(c *Config) { c.Timeout = -time.Second },
		"retry":        func(c *Config) { c.RetryInterval = -time.Millisecond },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
