package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no .env here

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "0.0.0.0:9999", cfg.TCPAddr())
	assert.Equal(t, "127.0.0.1:9999", cfg.ServerAddr)
	assert.Equal(t, 16<<20, cfg.MaxFrameSize)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 10*time.Second, cfg.DialTimeout)
	assert.Equal(t, 30*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 10.0, cfg.ChatRateLimit)
	assert.Equal(t, 20, cfg.ChatBurst)
	assert.Equal(t, time.Second, cfg.ShutdownGrace)
	assert.Empty(t, cfg.RedisURL)
	assert.Empty(t, cfg.StatusAddr)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "screenshots", cfg.ScreenshotDir)
	assert.True(t, cfg.IsDevelopment())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_ENV", "production")
	t.Setenv("TCP_HOST", "127.0.0.1")
	t.Setenv("TCP_PORT", "7000")
	t.Setenv("MAX_FRAME_SIZE", "1024")
	t.Setenv("CHAT_RATE_LIMIT", "0.5")
	t.Setenv("SHUTDOWN_GRACE", "250ms")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("STATUS_ADDR", "127.0.0.1:8088")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "127.0.0.1:7000", cfg.TCPAddr())
	assert.Equal(t, 1024, cfg.MaxFrameSize)
	assert.Equal(t, 0.5, cfg.ChatRateLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.ShutdownGrace)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "127.0.0.1:8088", cfg.StatusAddr)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"TCP_PORT":        "ninety",
		"WRITE_TIMEOUT":   "soon",
		"CHAT_RATE_LIMIT": "fast",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(key, value)

			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadConfig_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TCP_PORT=6001\nSCREENSHOT_DIR=/tmp/shots\n"), 0o600))
	t.Chdir(dir)

	// godotenv never overrides variables that are already set, even to "".
	// Setenv first so the values it loads are restored afterwards.
	for _, key := range []string{"TCP_PORT", "SCREENSHOT_DIR"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 6001, cfg.TCPPort)
	assert.Equal(t, "/tmp/shots", cfg.ScreenshotDir)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			TCPPort:       9999,
			ServerAddr:    "127.0.0.1:9999",
			MaxFrameSize:  1 << 20,
			ChatRateLimit: 10,
			ChatBurst:     20,
			SessionTTL:    time.Hour,
			LogLevel:      "info",
			LogFormat:     "text",
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port out of range", func(c *Config) { c.TCPPort = 70000 }, "TCP_PORT"},
		{"server addr without port", func(c *Config) { c.ServerAddr = "localhost" }, "SERVER_ADDR"},
		{"status addr without port", func(c *Config) { c.StatusAddr = "localhost" }, "STATUS_ADDR"},
		{"zero frame size", func(c *Config) { c.MaxFrameSize = 0 }, "MAX_FRAME_SIZE"},
		{"burst missing", func(c *Config) { c.ChatBurst = 0 }, "CHAT_BURST"},
		{"negative timeout", func(c *Config) { c.WriteTimeout = -time.Second }, "timeouts"},
		{"redis without ttl", func(c *Config) { c.RedisURL = "redis://x:6379"; c.SessionTTL = 0 }, "SESSION_TTL"},
		{"log level", func(c *Config) { c.LogLevel = "verbose" }, "LOG_LEVEL"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
