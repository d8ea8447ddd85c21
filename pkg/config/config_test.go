package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	setDefaults(v)
	return fromViper(v)
}

func TestDefaults(t *testing.T) {
	cfg := defaults(t)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 720*time.Hour, cfg.Invitation.MaxTTL())
	assert.Equal(t, 168*time.Hour, cfg.Invitation.DefaultTTL())
	assert.Equal(t, 16, cfg.Invitation.CodeBytes)
	assert.Equal(t, 24*time.Hour, cfg.Notify.DedupTTL())
	assert.True(t, cfg.Notify.PreviousStaff)
	assert.Equal(t, "asynq", cfg.Notify.Transport)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"production needs a secret", func(c *Config) { c.Server.Env = "production" }, "JWT_SECRET"},
		{"zero max ttl", func(c *Config) { c.Invitation.MaxTTLHours = 0 }, "INVITATION_MAX_TTL_HOURS"},
		{"default above max", func(c *Config) { c.Invitation.DefaultTTLHours = 1000 }, "INVITATION_DEFAULT_TTL_HOURS"},
		{"short codes", func(c *Config) { c.Invitation.CodeBytes = 8 }, "INVITATION_CODE_BYTES"},
		{"bad cron", func(c *Config) { c.Invitation.SweepCron = "often" }, "INVITATION_SWEEP_CRON"},
		{"unknown transport", func(c *Config) { c.Notify.Transport = "carrier-pigeon" }, "NOTIFY_TRANSPORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidate_ProductionWithSecret(t *testing.T) {
	cfg := defaults(t)
	cfg.Server.Env = "production"
	cfg.JWT.Secret = "a-real-secret"
	assert.NoError(t, cfg.Validate())
}
