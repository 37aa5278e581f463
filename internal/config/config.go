// Package config defines the global configuration structure for the
// CurbSight platform. Configuration is loaded once at process
// initialization (Lambda cold start or service boot) and is immutable
// thereafter. It follows 12-Factor App principles by strictly separating
// code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File
//
// Any missing required value or invalid format causes the application to
// fail immediately on startup.
package config

import (
	"time"

	"curbsight/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the CurbSight platform.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"curbsight"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	IsTestMode  bool   `envconfig:"IS_TEST_MODE" default:"false"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	Compliance    ComplianceConfig
	AWS           AWSConfig
	Registry      RegistryConfig
	Billing       BillingConfig
	Auth          AuthConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URL for links in API responses (no trailing slash)
	APIExternalURL     string   `envconfig:"API_EXTERNAL_URL" validate:"required,url"`
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// ComplianceConfig holds the evaluation engine settings. Timezone is the
// agency's IANA zone for rule day/time windows; there is deliberately no
// default, a missing timezone must stop the process rather than let rules
// evaluate in the wrong zone.
type ComplianceConfig struct {
	Timezone     string        `envconfig:"COMPLIANCE_TIMEZONE" validate:"required,timezone"`
	EvalInterval time.Duration `envconfig:"COMPLIANCE_EVAL_INTERVAL" default:"5m"`
	// SnapshotRetention bounds how long raw snapshots stay queryable before
	// the archiver moves them to cold storage.
	SnapshotRetention time.Duration `envconfig:"SNAPSHOT_RETENTION" default:"2160h"` // 90 days
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Resource Identifiers
	ComplianceQueueURL string `envconfig:"SQS_COMPLIANCE_JOBS" validate:"required,url"`
	DlqURL             string `envconfig:"SQS_DLQ" validate:"required,url"`
	ArchiveBucket      string `envconfig:"ARCHIVE_BUCKET"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// RegistryConfig holds settings for the upstream MDS provider registry.
type RegistryConfig struct {
	BaseURL      string        `envconfig:"PROVIDER_REGISTRY_URL" default:"https://raw.githubusercontent.com/openmobilityfoundation/mobility-data-specification/main"`
	Timeout      time.Duration `envconfig:"PROVIDER_REGISTRY_TIMEOUT" default:"10s"`
	SyncInterval time.Duration `envconfig:"PROVIDER_REGISTRY_SYNC_INTERVAL" default:"24h"`
}

// BillingConfig holds Stripe payment integration credentials.
type BillingConfig struct {
	StripeSecretKey SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
}

// AuthConfig holds API credential settings.
type AuthConfig struct {
	AdminAPIKey SecretString `envconfig:"ADMIN_API_KEY" validate:"required"`
	// BcryptCost for hashing provider API tokens.
	BcryptCost int `envconfig:"TOKEN_BCRYPT_COST" default:"10" validate:"min=4,max=31"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"CurbSight"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
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
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
