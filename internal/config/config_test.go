package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 256, cfg.WorkerPoolSize)
	assert.Equal(t, 100000, cfg.MaxConnections)
	assert.Equal(t, 10*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 256, cfg.SendQueueSize)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, "http://localhost:5173", cfg.ClientURL)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 10, cfg.RateLimitMessages)
	assert.Equal(t, 10*time.Second, cfg.RateLimitWindow)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("SEND_QUEUE_SIZE", "16")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("RATE_LIMIT_WINDOW", "1m")
	t.Setenv("CLIENT_URL", "https://chat.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 16, cfg.SendQueueSize)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, "https://chat.example.com", cfg.ClientURL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"WORKER_POOL_SIZE":    "0",
		"SEND_QUEUE_SIZE":     "-1",
		"RATE_LIMIT_MESSAGES": "0",
		"RATE_LIMIT_WINDOW":   "10ms",
		"READ_TIMEOUT":        "soon",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(key, value)

			_, err := Load()
			require.Error(t, err)
		})
	}
}
