package config

import (
	"fmt"
	"strings"
	"time"
)

// Field is one configuration option, exposed as a flag, an environment
// variable and a config file key.
type Field struct {
	Name        string
	Description string
	Default     any
	Hidden      bool
}

func (f Field) EnvVar() string {
	return strings.ToUpper(strings.ReplaceAll(envPrefix+"_"+f.Name, "-", "_"))
}

func (f Field) usage() string {
	return fmt.Sprintf("%s ($%s)", f.Description, f.EnvVar())
}

var Fields = []Field{
	{Name: "cookie", Description: "Session cookie used to authenticate against the presence API.", Default: ""},
	{Name: "user-ids", Description: "Comma separated user ids to track.", Default: []string{}},
	{Name: "interval", Description: "Time between polls.", Default: 5 * time.Second},
	{Name: "min-interval", Description: "Smallest accepted poll interval.", Default: 5 * time.Second, Hidden: true},
	{Name: "retry", Description: "Retry failed polls instead of stopping.", Default: true},
	{Name: "max-retries", Description: "Consecutive failed polls to retry before stopping.", Default: 3},
	{Name: "retry-delay", Description: "Wait between retries.", Default: 2 * time.Second},
	{Name: "enrich", Description: "Attach user profiles to change events.", Default: false},
	{Name: "enrich-concurrency", Description: "Concurrent profile requests.", Default: 4},
	{Name: "skip-validate", Description: "Skip the credential check on startup.", Default: false},

	{Name: "presence-url", Description: "Base URL of the presence API.", Default: "https://presence.roblox.com", Hidden: true},
	{Name: "users-url", Description: "Base URL of the users API.", Default: "https://users.roblox.com", Hidden: true},
	{Name: "user-agent", Description: "User agent sent with every request.", Default: "baton-presence"},
	{Name: "requests-per-second", Description: "Request rate limit, 0 for unlimited.", Default: 0},
	{Name: "timeout", Description: "Per request timeout.", Default: 30 * time.Second},
	{Name: "profile-cache-ttl", Description: "How long fetched profiles are reused.", Default: 10 * time.Minute},
	{Name: "debug-print-body", Description: "Log response bodies.", Default: false, Hidden: true},

	{Name: "log-level", Description: "The log level: debug, info, warn, error.", Default: "info"},
	{Name: "log-format", Description: "The output format for logs: json, console.", Default: "json"},
	{Name: "log-output", Description: "Where logs are written.", Default: []string{"stderr"}},

	{Name: "redis-addr", Description: "Redis address to publish change events to.", Default: ""},
	{Name: "redis-password", Description: "Redis password.", Default: ""},
	{Name: "redis-db", Description: "Redis database.", Default: 0},
	{Name: "redis-channel", Description: "Redis channel for change events.", Default: "baton-presence:changes"},
	{Name: "redis-status-ttl", Description: "Lifetime of the latest status key per user, 0 to disable.", Default: 24 * time.Hour},

	{Name: "kafka-brokers", Description: "Kafka brokers to write change events to.", Default: []string{}},
	{Name: "kafka-topic", Description: "Kafka topic for change events.", Default: ""},

	{Name: "health-port", Description: "Port for the health check server, 0 to disable.", Default: 0},
	{Name: "health-bind-address", Description: "Address the health check server binds to.", Default: "127.0.0.1"},

	{Name: "metrics-stdout", Description: "Export metrics to stderr.", Default: false},
	{Name: "metrics-interval", Description: "Metric export interval.", Default: time.Minute},

	{Name: "otel-collector-endpoint", Description: "OTLP gRPC collector to export traces and logs to.", Default: ""},
	{Name: "otel-collector-endpoint-tls-cert-path", Description: "PEM certificate to trust for the collector.", Default: ""},
	{Name: "otel-collector-endpoint-tls-insecure", Description: "Connect to the collector without TLS.", Default: false},
	{Name: "otel-tracing-disabled", Description: "Do not export traces.", Default: false},
	{Name: "otel-logging-disabled", Description: "Do not export logs.", Default: false},
}
