package cli

import (
	"time"

	"github.com/conductorone/baton-presence/pkg/client"
	"github.com/conductorone/baton-presence/pkg/tracker"
	"github.com/conductorone/baton-presence/pkg/types/presence"
)

// TrackConfig is everything the track and fetch commands read from flags,
// environment and the config file.
type TrackConfig struct {
	Cookie            string        `mapstructure:"cookie"`
	PresenceURL       string        `mapstructure:"presence-url"`
	UsersURL          string        `mapstructure:"users-url"`
	UserAgent         string        `mapstructure:"user-agent"`
	RequestsPerSecond int           `mapstructure:"requests-per-second"`
	Timeout           time.Duration `mapstructure:"timeout"`
	DebugPrintBody    bool          `mapstructure:"debug-print-body"`
	ProfileCacheTTL   time.Duration `mapstructure:"profile-cache-ttl"`
	SkipValidate      bool          `mapstructure:"skip-validate"`

	UserIDs      []presence.UserID `mapstructure:"user-ids"`
	Interval     time.Duration     `mapstructure:"interval"`
	MinInterval  time.Duration     `mapstructure:"min-interval"`
	Retry        bool              `mapstructure:"retry"`
	MaxRetries   int               `mapstructure:"max-retries"`
	RetryDelay   time.Duration     `mapstructure:"retry-delay"`
	Enrich       bool              `mapstructure:"enrich"`
	EnrichLimit  int               `mapstructure:"enrich-concurrency"`

	LogLevel  string   `mapstructure:"log-level"`
	LogFormat string   `mapstructure:"log-format"`
	LogOutput []string `mapstructure:"log-output"`

	RedisAddr     string        `mapstructure:"redis-addr"`
	RedisPassword string        `mapstructure:"redis-password"`
	RedisDB       int           `mapstructure:"redis-db"`
	RedisChannel  string        `mapstructure:"redis-channel"`
	RedisTTL      time.Duration `mapstructure:"redis-status-ttl"`

	KafkaBrokers []string `mapstructure:"kafka-brokers"`
	KafkaTopic   string   `mapstructure:"kafka-topic"`

	HealthPort        int    `mapstructure:"health-port"`
	HealthBindAddress string `mapstructure:"health-bind-address"`

	MetricsStdout   bool          `mapstructure:"metrics-stdout"`
	MetricsInterval time.Duration `mapstructure:"metrics-interval"`

	OtelEndpoint        string `mapstructure:"otel-collector-endpoint"`
	OtelTLSCertPath     string `mapstructure:"otel-collector-endpoint-tls-cert-path"`
	OtelTLSInsecure     bool   `mapstructure:"otel-collector-endpoint-tls-insecure"`
	OtelTracingDisabled bool   `mapstructure:"otel-tracing-disabled"`
	OtelLoggingDisabled bool   `mapstructure:"otel-logging-disabled"`
}

func (c *TrackConfig) clientConfig() client.Config {
	return client.Config{
		PresenceURL:       c.PresenceURL,
		UsersURL:          c.UsersURL,
		Cookie:            c.Cookie,
		UserAgent:         c.UserAgent,
		RequestsPerSecond: c.RequestsPerSecond,
		Timeout:           c.Timeout,
		DebugPrintBody:    c.DebugPrintBody,
		ProfileCacheTTL:   c.ProfileCacheTTL,
		EnrichConcurrency: c.EnrichLimit,
	}
}

func (c *TrackConfig) sessionConfig() tracker.SessionConfig {
	return tracker.SessionConfig{
		UserIDs:      c.UserIDs,
		Interval:     c.Interval,
		RetryEnabled: c.Retry,
		MaxRetries:   c.MaxRetries,
		RetryDelay:   c.RetryDelay,
		Enrich:       c.Enrich,
	}
}
