package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
engine:
  hold_buffer: "1.25"
  lanes: 4
kafka:
  enabled: true
  brokers: ["kafka-1:9092", "kafka-2:9092"]
gateway:
  read_timeout: 5s
logging:
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.25").Equal(cfg.Engine.HoldBuffer))
	assert.Equal(t, 4, cfg.Engine.Lanes)
	assert.Equal(t, 5, cfg.Engine.DepthLevel, "unset keys keep defaults")
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "order-service.order-created", cfg.Kafka.Topics.OrderCreated)
	assert.Equal(t, 5*time.Second, cfg.Gateway.ReadTimeout)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BLITZ_KAFKA_BROKERS", "a:1, b:2,")
	t.Setenv("BLITZ_KAFKA_ENABLED", "true")
	t.Setenv("BLITZ_GATEWAY_PORT", "7000")
	t.Setenv("BLITZ_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, 7000, cfg.Gateway.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, "engine:\n  lanes: 0\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(writeConfig(t, "logging:\n  format: xml\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	t.Setenv("BLITZ_GATEWAY_PORT", "nope")
	_, err = Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
