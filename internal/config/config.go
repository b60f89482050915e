// Package config defines the configuration for the BizPulse billing event
// processor. Configuration is loaded once at process initialization and is
// immutable thereafter, following 12-Factor principles.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format causes the application to
// fail immediately on startup. In particular, a missing webhook signing
// secret is a startup-fatal condition, never a per-request error.
package config

import (
	"time"

	"bizpulse/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the billing processor.
// It is populated once during process initialization and never modified.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"bizpulse-billing"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	Billing       BillingConfig
	Alerts        AlertsConfig
	Observability ObservabilityConfig
	AWS           AWSConfig

	// Build Metadata (injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// BillingConfig holds payment provider integration settings.
type BillingConfig struct {
	// WebhookSecret is the shared secret used to verify inbound event
	// signatures. Required: the processor refuses to start without it.
	WebhookSecret SecretString `envconfig:"BILLING_WEBHOOK_SECRET" validate:"required"`

	// ProcessTimeout bounds the handling of a single event. On expiry the
	// safe action is to let the provider redeliver rather than partially
	// commit, so the deadline maps to the transient (retry) path.
	ProcessTimeout time.Duration `envconfig:"BILLING_PROCESS_TIMEOUT" default:"5s"`
}

// AlertsConfig holds settings for the outbound ops alert webhook used for
// manual-reconciliation alerts. If URL is empty, alerting is disabled.
type AlertsConfig struct {
	URL       string        `envconfig:"ALERT_WEBHOOK_URL" validate:"omitempty,url"`
	Secret    SecretString  `envconfig:"ALERT_WEBHOOK_SECRET"`
	UserAgent string        `envconfig:"ALERT_WEBHOOK_USER_AGENT" default:"BizPulse-Billing/1.0"`
	Timeout   time.Duration `envconfig:"ALERT_WEBHOOK_TIMEOUT" default:"10s"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"BizPulse/Billing"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// AWSConfig holds AWS regional configuration for CloudWatch and SSM.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure parsing environment variable values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
