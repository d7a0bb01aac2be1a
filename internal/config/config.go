// Package config loads the chat server settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable of the chat server. Field defaults apply when
// the variable is unset.
type Config struct {
	ListenAddr     string        `envconfig:"LISTEN_ADDR" default:":8080"`
	WorkerPoolSize int           `envconfig:"WORKER_POOL_SIZE" default:"256"`
	MaxConnections int           `envconfig:"MAX_CONNECTIONS" default:"100000"`
	ReadTimeout    time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout   time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	SendQueueSize  int           `envconfig:"SEND_QUEUE_SIZE" default:"256"`

	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatTimeout  time.Duration `envconfig:"HEARTBEAT_TIMEOUT" default:"10s"`

	// ClientURL is the allowed CORS origin of the browser client.
	ClientURL string `envconfig:"CLIENT_URL" default:"http://localhost:5173"`

	// RedisAddr enables per-connection rate limiting when set.
	RedisAddr         string        `envconfig:"REDIS_ADDR"`
	RateLimitMessages int           `envconfig:"RATE_LIMIT_MESSAGES" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"10s"`

	// NATSURL enables the moderation feed when set.
	NATSURL string `envconfig:"NATS_URL"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads a .env file when one is present and decodes the environment
// into a Config.
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.WorkerPoolSize < 1:
		return fmt.Errorf("config: WORKER_POOL_SIZE must be positive, got %d", c.WorkerPoolSize)
	case c.MaxConnections < 1:
		return fmt.Errorf("config: MAX_CONNECTIONS must be positive, got %d", c.MaxConnections)
	case c.SendQueueSize < 1:
		return fmt.Errorf("config: SEND_QUEUE_SIZE must be positive, got %d", c.SendQueueSize)
	case c.RateLimitMessages < 1:
		return fmt.Errorf("config: RATE_LIMIT_MESSAGES must be positive, got %d", c.RateLimitMessages)
	case c.RateLimitWindow < time.Second:
		return fmt.Errorf("config: RATE_LIMIT_WINDOW must be at least 1s, got %s", c.RateLimitWindow)
	}
	return nil
}
