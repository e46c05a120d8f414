package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	BrokerURL          string `env:"CHAT_BROKER_URL" envDefault:"ws://localhost:8080/ws"`
	AccessToken        string `env:"CHAT_ACCESS_TOKEN"`
	HeartbeatSeconds   int    `env:"CHAT_HEARTBEAT_SECONDS" envDefault:"10"`
	RedialSeconds      int    `env:"CHAT_REDIAL_SECONDS" envDefault:"5"`
	TokenInURL         bool   `env:"CHAT_TOKEN_IN_URL" envDefault:"false"`
	HistoryDatabaseURL string `env:"CHAT_HISTORY_DATABASE_URL"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

func (c *Config) RedialDelay() time.Duration {
	return time.Duration(c.RedialSeconds) * time.Second
}

func (c *Config) Validate() error {
	if !strings.HasPrefix(c.BrokerURL, "ws://") && !strings.HasPrefix(c.BrokerURL, "wss://") {
		return fmt.Errorf("CHAT_BROKER_URL must use ws:// or wss://, got %q", c.BrokerURL)
	}
	if c.HeartbeatSeconds <= 0 {
		return fmt.Errorf("CHAT_HEARTBEAT_SECONDS must be positive")
	}
	if c.RedialSeconds <= 0 {
		return fmt.Errorf("CHAT_REDIAL_SECONDS must be positive")
	}

	if c.TokenInURL {
		log.Warn().Msg("CHAT_TOKEN_IN_URL is enabled: the access token will appear in the connection URL and may leak into proxy logs")
	}
	if strings.HasPrefix(c.BrokerURL, "ws://") && !strings.Contains(c.BrokerURL, "localhost") &&
		!strings.Contains(c.BrokerURL, "127.0.0.1") {
		log.Warn().Msg("CHAT_BROKER_URL uses ws:// (not TLS) against a non-local broker: consider wss://")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
