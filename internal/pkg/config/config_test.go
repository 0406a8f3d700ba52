package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "4000", cfg.App.Port)
	assert.Equal(t, int64(1000), cfg.Payments.PlatformFeeBPS)
	assert.Equal(t, 30*time.Minute, cfg.Payments.CheckoutSessionTTL)
	assert.Equal(t, 60*time.Second, cfg.Payments.MerchantStatusTTL)
	assert.Equal(t, 5*time.Minute, cfg.Payments.WebhookTolerance)
	assert.Equal(t, 5*time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, 30*time.Minute, cfg.Reconcile.Deadline)
	assert.Equal(t, 100, cfg.Reconcile.Batch)
	assert.Equal(t, 720*time.Hour, cfg.Ledger.Retention)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("RECONCILE_DEADLINE", "45m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 45*time.Minute, cfg.Reconcile.Deadline)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.DB.Driver = "sqlite" }},
		{"fee too high", func(c *Config) { c.Payments.PlatformFeeBPS = 10000 }},
		{"short session ttl", func(c *Config) { c.Payments.CheckoutSessionTTL = 10 * time.Minute }},
		{"bad currency", func(c *Config) { c.Payments.Currency = "euro" }},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	assert.NoError(t, validConfig().Validate())
}

func validConfig() *Config {
	return &Config{
		DB:        Database{Driver: "mysql"},
		Payments:  Payments{PlatformFeeBPS: 500, Currency: "eur", CheckoutSessionTTL: time.Hour},
		Reconcile: Reconcile{Batch: 10},
	}
}
