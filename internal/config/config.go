// Package config loads the harness configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Transports an outbound message can be delivered over.
const (
	TransportLog    = "log"
	TransportHTTP   = "http"
	TransportBroker = "broker"
)

// Config holds the harness configuration.
type Config struct {
	Port     string   `mapstructure:"PORT"`
	Env      string   `mapstructure:"ENV"`
	LogLevel string   `mapstructure:"LOG_LEVEL"`
	APIKeys  []string `mapstructure:"API_KEYS"`

	// PharmacyODS is the dispensing organisation used when a request
	// does not name one.
	PharmacyODS     string `mapstructure:"PHARMACY_ODS"`
	MaxRepeatIssues int    `mapstructure:"MAX_REPEAT_ISSUES"`

	Transport     string        `mapstructure:"TRANSPORT"`
	EPSBaseURL    string        `mapstructure:"EPS_BASE_URL"`
	EPSTimeout    time.Duration `mapstructure:"EPS_TIMEOUT"`
	KafkaBrokers  []string      `mapstructure:"KAFKA_BROKERS"`
	OutboundTopic string        `mapstructure:"OUTBOUND_TOPIC"`

	InboundEnabled bool   `mapstructure:"INBOUND_ENABLED"`
	InboundTopic   string `mapstructure:"INBOUND_TOPIC"`
	ConsumerGroup  string `mapstructure:"CONSUMER_GROUP"`

	DispatchWorkers int `mapstructure:"DISPATCH_WORKERS"`
	DispatchRetries int `mapstructure:"DISPATCH_RETRIES"`

	// OTLPEndpoint enables tracing when set.
	OTLPEndpoint    string  `mapstructure:"OTLP_ENDPOINT"`
	TraceSampleRate float64 `mapstructure:"TRACE_SAMPLE_RATE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "API_KEYS",
	"PHARMACY_ODS", "MAX_REPEAT_ISSUES",
	"TRANSPORT", "EPS_BASE_URL", "EPS_TIMEOUT", "KAFKA_BROKERS", "OUTBOUND_TOPIC",
	"INBOUND_ENABLED", "INBOUND_TOPIC", "CONSUMER_GROUP",
	"DISPATCH_WORKERS", "DISPATCH_RETRIES",
	"OTLP_ENDPOINT", "TRACE_SAMPLE_RATE",
}

// Load reads the configuration from the environment and an optional .env
// file, applying defaults for anything unset.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PHARMACY_ODS", "FA565")
	v.SetDefault("MAX_REPEAT_ISSUES", 6)
	v.SetDefault("TRANSPORT", TransportLog)
	v.SetDefault("EPS_TIMEOUT", "30s")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("OUTBOUND_TOPIC", "eps.outbound")
	v.SetDefault("INBOUND_TOPIC", "eps.inbound")
	v.SetDefault("CONSUMER_GROUP", "eps-harness")
	v.SetDefault("DISPATCH_WORKERS", 4)
	v.SetDefault("DISPATCH_RETRIES", 2)
	v.SetDefault("TRACE_SAMPLE_RATE", 1.0)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	cfg.APIKeys = splitList(cfg.APIKeys)
	cfg.PharmacyODS = strings.ToUpper(cfg.PharmacyODS)
	cfg.Transport = strings.ToLower(cfg.Transport)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDev reports whether the harness runs in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration can be served.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.PharmacyODS == "" {
		return fmt.Errorf("PHARMACY_ODS is required")
	}
	switch c.Transport {
	case TransportLog:
	case TransportHTTP:
		if c.EPSBaseURL == "" {
			return fmt.Errorf("EPS_BASE_URL is required when TRANSPORT is %q", TransportHTTP)
		}
	case TransportBroker:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when TRANSPORT is %q", TransportBroker)
		}
	default:
		return fmt.Errorf("TRANSPORT must be %q, %q or %q, got %q", TransportLog, TransportHTTP, TransportBroker, c.Transport)
	}
	if c.InboundEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when INBOUND_ENABLED is true")
	}
	if c.DispatchWorkers <= 0 {
		return fmt.Errorf("DISPATCH_WORKERS must be positive, got %d", c.DispatchWorkers)
	}
	if c.DispatchRetries < 0 {
		return fmt.Errorf("DISPATCH_RETRIES must not be negative, got %d", c.DispatchRetries)
	}
	if c.MaxRepeatIssues <= 0 {
		return fmt.Errorf("MAX_REPEAT_ISSUES must be positive, got %d", c.MaxRepeatIssues)
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATE must be between 0 and 1, got %v", c.TraceSampleRate)
	}
	return nil
}

// splitList accepts both a real list and a single comma separated value.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
