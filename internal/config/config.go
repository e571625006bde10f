// Package config defines the global configuration structure for the
// CivicWatch workers. Configuration is loaded once at process start and is
// immutable thereafter, following 12-Factor principles: OS environment wins
// over the optional .env file. Any missing required value or invalid format
// fails the process immediately on startup.
package config

import (
	"time"

	"civicwatch/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"civicwatch-worker"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Database DatabaseConfig
	AWS      AWSConfig
	Push     PushConfig
	Retry    RetryConfig
	Worker   WorkerConfig
}

// DatabaseConfig holds connection and pool tuning parameters for the
// report/user document store.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
// Each platform family owns one delivery queue.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"eu-south-1"`

	FcmQueueURL  string `envconfig:"SQS_FCM_QUEUE" validate:"required,url"`
	ApnsQueueURL string `envconfig:"SQS_APNS_QUEUE" validate:"required,url"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// QueueURL returns the delivery queue for the given platform family.
func (c AWSConfig) QueueURL(p types.Platform) string {
	if p == types.PlatformIOS {
		return c.ApnsQueueURL
	}
	return c.FcmQueueURL
}

// PushConfig holds push-gateway endpoints and credentials.
type PushConfig struct {
	FcmURL           string       `envconfig:"FCM_URL" default:"https://fcm.googleapis.com/fcm/send" validate:"url"`
	FcmKey           SecretString `envconfig:"FCM_KEY" validate:"required"`
	FcmMaxRecipients int          `envconfig:"FCM_MAX_RECIPIENTS" default:"1000" validate:"min=1"`

	ApnsURL   string       `envconfig:"APNS_URL" default:"https://api.push.apple.com" validate:"url"`
	ApnsToken SecretString `envconfig:"APNS_TOKEN" validate:"required"`
	ApnsTopic string       `envconfig:"APNS_TOPIC" validate:"required"`

	// GatewayTimeout bounds a single gateway round trip; a hung call is
	// bounded only by this client timeout.
	GatewayTimeout time.Duration `envconfig:"PUSH_GATEWAY_TIMEOUT" default:"10s"`

	// NotificationValidity is how long a pushed notification stays
	// deliverable by the gateway once accepted (APNs expiration header).
	NotificationValidity time.Duration `envconfig:"PUSH_NOTIFICATION_VALIDITY" default:"24h"`
}

// RetryConfig makes the backoff cap and the give-up threshold explicit
// configuration instead of implicit unbounded growth.
type RetryConfig struct {
	MaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"6" validate:"min=1"`
	BaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"5s"`
	MaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"15m"`
}

// WorkerConfig tunes the consumer pool of one worker process.
type WorkerConfig struct {
	Concurrency int `envconfig:"WORKER_CONCURRENCY" default:"4" validate:"min=1"`

	// GatewayRate paces gateway calls across the pool, per second.
	GatewayRate float64 `envconfig:"WORKER_GATEWAY_RATE" default:"50"`

	HealthPort string `envconfig:"WORKER_HEALTH_PORT" default:"8081"`
}
