package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "FA565", cfg.PharmacyODS)
	assert.Equal(t, TransportLog, cfg.Transport)
	assert.Equal(t, 30*time.Second, cfg.EPSTimeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "eps.outbound", cfg.OutboundTopic)
	assert.Equal(t, 4, cfg.DispatchWorkers)
	assert.Equal(t, 6, cfg.MaxRepeatIssues)
	assert.Empty(t, cfg.APIKeys)
	assert.True(t, cfg.IsDev())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("PHARMACY_ODS", "vny3")
	t.Setenv("TRANSPORT", "BROKER")
	t.Setenv("KAFKA_BROKERS", "rp-1:9092, rp-2:9092")
	t.Setenv("API_KEYS", "key-a,key-b")
	t.Setenv("EPS_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "VNY3", cfg.PharmacyODS)
	assert.Equal(t, TransportBroker, cfg.Transport)
	assert.Equal(t, []string{"rp-1:9092", "rp-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"key-a", "key-b"}, cfg.APIKeys)
	assert.Equal(t, 5*time.Second, cfg.EPSTimeout)
}

func TestLoadRejectsHTTPWithoutBaseURL(t *testing.T) {
	t.Setenv("TRANSPORT", "http")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EPS_BASE_URL")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port: "8080", PharmacyODS: "FA565", Transport: TransportLog,
			DispatchWorkers: 1, MaxRepeatIssues: 6, TraceSampleRate: 1,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown transport", func(c *Config) { c.Transport = "carrier-pigeon" }},
		{"broker without brokers", func(c *Config) { c.Transport = TransportBroker }},
		{"inbound without brokers", func(c *Config) { c.InboundEnabled = true }},
		{"no workers", func(c *Config) { c.DispatchWorkers = 0 }},
		{"negative retries", func(c *Config) { c.DispatchRetries = -1 }},
		{"no repeat issues", func(c *Config) { c.MaxRepeatIssues = 0 }},
		{"sample rate above one", func(c *Config) { c.TraceSampleRate = 1.5 }},
		{"no pharmacy", func(c *Config) { c.PharmacyODS = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
