package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:      defaultAddr,
		Payment:   PaymentConfig{Mode: "accept", Limit: "1000"},
		RateLimit: RateLimitConfig{Max: 10, Window: time.Minute},
		Kafka:     KafkaConfig{BatchSize: 100},
	}
}

func TestConfigValidate(t *testing.T) {
	for _, tt := range []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{
			name:    "unknown payment mode",
			mutate:  func(c *Config) { c.Payment.Mode = "maybe" },
			wantErr: "payment mode",
		},
		{
			name:    "bad limit",
			mutate:  func(c *Config) { c.Payment.Limit = "lots" },
			wantErr: "payment limit",
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.RateLimit.Max = 0 },
			wantErr: "rate limit",
		},
		{
			name:    "zero batch",
			mutate:  func(c *Config) { c.Kafka.BatchSize = 0 },
			wantErr: "batch size",
		},
		{
			name:    "memory key without user",
			mutate:  func(c *Config) { c.Memory.APIKeys = []string{"secret"} },
			wantErr: "want key:userID",
		},
		{
			name:    "operator key without key",
			mutate:  func(c *Config) { c.Memory.OperatorKeys = []string{":ops"} },
			wantErr: "want key:userID",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseMemoryKey(t *testing.T) {
	key, user, err := parseMemoryKey("s3cret:alice")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", key)
	assert.Equal(t, "alice", user)
}

func TestApplyPlatformDefaults(t *testing.T) {
	env := map[string]string{
		"DATABASE_URL": "postgres://db/store",
		"REDIS_URL":    "redis://cache:6379/0",
		"PORT":         "9000",
	}
	getenv := func(k string) string { return env[k] }

	cfg := validConfig()
	cfg.applyPlatformDefaults(getenv)
	assert.Equal(t, "postgres://db/store", cfg.DatabaseURL)
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)

	cfg = validConfig()
	cfg.Addr = "127.0.0.1:8081"
	cfg.DatabaseURL = "postgres://explicit"
	cfg.applyPlatformDefaults(getenv)
	assert.Equal(t, "postgres://explicit", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:8081", cfg.Addr)
}
