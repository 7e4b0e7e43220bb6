// Package worker consumes rider notification events from Pub/Sub and
// delivers them to notification sinks.
package worker

import (
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the notification worker.
type Config struct {
	ProjectID    string
	Subscription string

	// MaxOutstanding bounds how many messages are processed at once.
	// Default: 10.
	MaxOutstanding int

	// DeliveryTimeout bounds delivering one event to every sink.
	// Default: 30 seconds.
	DeliveryTimeout time.Duration

	// WebhookURL, when set, enables the webhook sink.
	WebhookURL string

	// DedupeTTL is how long delivered event ids are remembered.
	// Default: 24 hours.
	DedupeTTL time.Duration
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		Subscription:    "rider-events-worker",
		MaxOutstanding:  10,
		DeliveryTimeout: 30 * time.Second,
		DedupeTTL:       24 * time.Hour,
	}
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.ProjectID = os.Getenv("PUBSUB_PROJECT_ID")
	cfg.Subscription = getEnvOrDefault("PUBSUB_SUBSCRIPTION", cfg.Subscription)
	cfg.WebhookURL = os.Getenv("NOTIFY_WEBHOOK_URL")

	if n, err := strconv.Atoi(os.Getenv("WORKER_MAX_OUTSTANDING")); err == nil && n > 0 {
		cfg.MaxOutstanding = n
	}
	if d, err := time.ParseDuration(os.Getenv("WORKER_DELIVERY_TIMEOUT")); err == nil && d > 0 {
		cfg.DeliveryTimeout = d
	}
	if d, err := time.ParseDuration(os.Getenv("WORKER_DEDUPE_TTL")); err == nil && d > 0 {
		cfg.DedupeTTL = d
	}
	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
