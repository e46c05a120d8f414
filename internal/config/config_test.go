package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "ws://localhost:8080/ws", cfg.BrokerURL)
		assert.Equal(t, 10, cfg.HeartbeatSeconds)
		assert.Equal(t, 5, cfg.RedialSeconds)
		assert.False(t, cfg.TokenInURL)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("reads the environment", func(t *testing.T) {
		t.Setenv("CHAT_BROKER_URL", "wss://chat.example.com/ws")
		t.Setenv("CHAT_ACCESS_TOKEN", "secret")
		t.Setenv("CHAT_HEARTBEAT_SECONDS", "30")
		t.Setenv("CHAT_TOKEN_IN_URL", "true")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "wss://chat.example.com/ws", cfg.BrokerURL)
		assert.Equal(t, "secret", cfg.AccessToken)
		assert.Equal(t, 30, cfg.HeartbeatSeconds)
		assert.True(t, cfg.TokenInURL)
	})
}

func TestDurations(t *testing.T) {
	cfg := &Config{HeartbeatSeconds: 10, RedialSeconds: 5}
	assert.Equal(t, 10*time.Second, cfg.Heartbeat())
	assert.Equal(t, 5*time.Second, cfg.RedialDelay())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			BrokerURL:        "ws://localhost:8080/ws",
			HeartbeatSeconds: 10,
			RedialSeconds:    5,
		}
	}

	t.Run("accepts a valid config", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("rejects a non-websocket URL", func(t *testing.T) {
		cfg := valid()
		cfg.BrokerURL = "https://chat.example.com/ws"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects a non-positive heartbeat", func(t *testing.T) {
		cfg := valid()
		cfg.HeartbeatSeconds = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects a non-positive redial delay", func(t *testing.T) {
		cfg := valid()
		cfg.RedialSeconds = -1
		assert.Error(t, cfg.Validate())
	})
}

func TestPongWait(t *testing.T) {
	assert.Equal(t, 25*time.Second, PongWait(10*time.Second))
}
