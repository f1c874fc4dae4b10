package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("STORE_DRIVER", DriverMemory)
	t.Setenv("PORT", "9090")
	t.Setenv("TX_TIMEOUT", "2s")
	t.Setenv("TX_MAX_RETRIES", "5")
	t.Setenv("PAGE_MAX_LIMIT", "50")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("LOG_PRETTY", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 2*time.Second, cfg.Ledger.TxTimeout)
	assert.Equal(t, 5, cfg.Ledger.MaxRetries)
	assert.Equal(t, 50, cfg.Ledger.MaxPageLimit)
	assert.Equal(t, 10, cfg.Ledger.DefaultPageLimit)
	assert.InDelta(t, 2.5, cfg.HTTP.RateLimitRPS, 0.001)
	assert.False(t, cfg.Log.Pretty)
	assert.Equal(t, "ledger.transactions", cfg.Events.SubjectPrefix)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	yaml := `
port: "7070"
store:
  driver: mysql
  dsn: "ledger:secret@tcp(localhost:3306)/ledger"
ledger:
  tx_timeout: 3s
  max_retries: 1
cache:
  redis_addr: "localhost:6379"
  ttl: 1m
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "6060")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "6060", cfg.Port)
	assert.Equal(t, DriverMySQL, cfg.Store.Driver)
	assert.Equal(t, 3*time.Second, cfg.Ledger.TxTimeout)
	assert.Equal(t, 1, cfg.Ledger.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Ledger.RetryBackoff)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("malformed number", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", DriverMemory)
		t.Setenv("TX_MAX_RETRIES", "many")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "TX_MAX_RETRIES")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"mysql needs a dsn", func(c *Config) {}, true},
		{"mysql with dsn", func(c *Config) { c.Store.DSN = "user:pw@tcp(db:3306)/ledger" }, false},
		{"memory", func(c *Config) { c.Store.Driver = DriverMemory }, false},
		{"unknown driver", func(c *Config) { c.Store.Driver = "postgres" }, true},
		{"zero timeout", func(c *Config) { c.Store.Driver = DriverMemory; c.Ledger.TxTimeout = 0 }, true},
		{"negative retries", func(c *Config) { c.Store.Driver = DriverMemory; c.Ledger.MaxRetries = -1 }, true},
		{"default above max", func(c *Config) { c.Store.Driver = DriverMemory; c.Ledger.DefaultPageLimit = 500 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
