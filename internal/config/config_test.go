package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		JWT: JWTConfig{
			SecretKey: strings.Repeat("s", 32),
			Algorithm: "HS256",
		},
		InternalSecret: strings.Repeat("i", 32),
		Payment: PaymentConfig{
			WebhookSecret: "webhook-secret-value",
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty jwt secret", func(c *Config) { c.JWT.SecretKey = "" }},
		{"placeholder jwt secret", func(c *Config) { c.JWT.SecretKey = "your-secret-key-change-in-production" }},
		{"short jwt secret", func(c *Config) { c.JWT.SecretKey = "short" }},
		{"unsupported algorithm", func(c *Config) { c.JWT.Algorithm = "RS256" }},
		{"empty internal secret", func(c *Config) { c.InternalSecret = "" }},
		{"placeholder internal secret", func(c *Config) { c.InternalSecret = "internal-secret" }},
		{"short internal secret", func(c *Config) { c.InternalSecret = "short" }},
		{"missing webhook secret", func(c *Config) { c.Payment.WebhookSecret = "" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
