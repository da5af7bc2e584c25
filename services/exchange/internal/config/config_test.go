package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "exchange-service", cfg.ServiceName)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, 8004, cfg.HTTP.Port)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, []string{"localhost:9093"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Second, cfg.Pickup.Timeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Pickup.InitialInterval)
	assert.Equal(t, time.Minute, cfg.Worker.ReconcileInterval)
	assert.True(t, cfg.Exchange.DecrementStock)
	assert.False(t, cfg.Exchange.RequireRejectNotes)
	assert.Equal(t, uint16(1), cfg.MachineID)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "exchange.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
storage: memory
http:
  port: 9000
pickup:
  timeout: 2s
exchange:
  require_reject_notes: true
`), 0o600))

	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, 9100, cfg.HTTP.Port)
	assert.Equal(t, 2*time.Second, cfg.Pickup.Timeout)
	assert.True(t, cfg.Exchange.RequireRejectNotes)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.KafkaEnabled())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Storage:  StoragePostgres,
			HTTP:     HTTPConfig{Port: 8004},
			Database: DatabaseConfig{DSN: "postgres://x"},
			Kafka:    KafkaConfig{Enabled: true, Brokers: []string{"k:9092"}},
			Pickup:   PickupConfig{Timeout: time.Second, MaxAttempts: 3, InitialInterval: time.Millisecond},
			Worker: WorkerConfig{
				OutboxInterval: time.Second, OutboxBatchSize: 10,
				ReconcileInterval: time.Minute, ReconcileBatchSize: 10,
			},
			Auth: AuthConfig{JWTSecret: "s"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown storage", func(c *Config) { c.Storage = "mysql" }, "unknown storage"},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }, "database.dsn"},
		{"memory needs no dsn", func(c *Config) { c.Storage = StorageMemory; c.Database.DSN = "" }, ""},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "jwt_secret"},
		{"zero interval", func(c *Config) { c.Worker.OutboxInterval = 0 }, "intervals"},
		{"zero attempts", func(c *Config) { c.Pickup.MaxAttempts = 0 }, "max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
