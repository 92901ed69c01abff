// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the device/labeler HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health service (e.g. :8081). Empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN for the detection event store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// JWTPublicKey is the PEM-encoded public key (or path) used to verify device/user access tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTPrivateKey is only needed by cmd/seed to mint development device tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTIssuer is the expected iss claim (e.g. "trailwatch-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the expected aud claim (e.g. "trailwatch-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the lifetime of tokens minted by cmd/seed (e.g. "720h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// LabelerTokenHash is the bcrypt hash of the shared bearer token the AI service presents on callbacks.
	LabelerTokenHash string `mapstructure:"LABELER_TOKEN_HASH"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// BlobDir is the root directory of the local content store for image bytes.
	BlobDir string `mapstructure:"BLOB_DIR"`
	// BlobPublicBaseURL is prefixed to a storage path to build the image URL handed to the labeler.
	BlobPublicBaseURL string `mapstructure:"BLOB_PUBLIC_BASE_URL"`
	// MaxUploadBytes caps the size of a single device upload.
	MaxUploadBytes int64 `mapstructure:"MAX_UPLOAD_BYTES"`

	// LabelerURL is the platform default AI labeling webhook, used when a tenant has none.
	LabelerURL string `mapstructure:"LABELER_URL"`

	// SMSLocalBaseURL is the SMS Local API base URL.
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`
	// TwilioBaseURL is the Twilio REST API base URL.
	TwilioBaseURL string `mapstructure:"TWILIO_BASE_URL"`
	// SMSTimeout bounds a single provider Send (e.g. "10s").
	SMSTimeout string `mapstructure:"SMS_TIMEOUT"`

	// ThingSpeakBaseURL is the HTTP endpoint of the time-series mirror.
	ThingSpeakBaseURL string `mapstructure:"THINGSPEAK_BASE_URL"`
	// ThingSpeakMQTTBroker is the MQTT broker URL used by tenants with transport=mqtt.
	ThingSpeakMQTTBroker string `mapstructure:"THINGSPEAK_MQTT_BROKER"`
	// MirrorMaxRetries is the number of retries after the first failed mirror write.
	MirrorMaxRetries int `mapstructure:"MIRROR_MAX_RETRIES"`
	// MirrorTimeout bounds one mirror call including retries (e.g. "20s").
	MirrorTimeout string `mapstructure:"MIRROR_TIMEOUT"`

	// DispatchWorkers is the number of notification workers.
	DispatchWorkers int `mapstructure:"DISPATCH_WORKERS"`
	// DispatchQueueSize is the capacity of the notification queue.
	DispatchQueueSize int `mapstructure:"DISPATCH_QUEUE_SIZE"`
	// TenantSettingsCacheTTL is how long tenant settings are cached (e.g. "30s").
	TenantSettingsCacheTTL string `mapstructure:"TENANT_SETTINGS_CACHE_TTL"`

	// SweepInterval is how often the sweeper runs (e.g. "1m").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
	// StaleCaptureAfter is how long a capture may await a label before it is reported as stale.
	StaleCaptureAfter string `mapstructure:"STALE_CAPTURE_AFTER"`
	// PendingAttemptTimeout is how long a pending notification claim may live before it is abandoned.
	PendingAttemptTimeout string `mapstructure:"PENDING_ATTEMPT_TIMEOUT"`

	// PipelineKafkaBrokers is a comma-separated list of Kafka brokers for pipeline events. Empty disables Kafka.
	PipelineKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// PipelineKafkaTopic is the Kafka topic for pipeline events.
	PipelineKafkaTopic string `mapstructure:"PIPELINE_KAFKA_TOPIC"`
	// Worker-only: Loki URL for the event worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// OTLPEndpoint is the OpenTelemetry collector endpoint. Empty uses no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext gRPC to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "json" or "text".
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":8081")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_ISSUER", "trailwatch-auth")
	v.SetDefault("JWT_AUDIENCE", "trailwatch-api")
	v.SetDefault("JWT_ACCESS_TTL", "720h")
	v.SetDefault("LABELER_TOKEN_HASH", "")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("BLOB_DIR", "data/blobs")
	v.SetDefault("BLOB_PUBLIC_BASE_URL", "")
	v.SetDefault("MAX_UPLOAD_BYTES", 10<<20)
	v.SetDefault("LABELER_URL", "")
	v.SetDefault("SMS_LOCAL_BASE_URL", "https://app.smslocal.in/api/smsapi")
	v.SetDefault("TWILIO_BASE_URL", "https://api.twilio.com")
	v.SetDefault("SMS_TIMEOUT", "10s")
	v.SetDefault("THINGSPEAK_BASE_URL", "https://api.thingspeak.com")
	v.SetDefault("THINGSPEAK_MQTT_BROKER", "tcp://mqtt3.thingspeak.com:1883")
	v.SetDefault("MIRROR_MAX_RETRIES", 3)
	v.SetDefault("MIRROR_TIMEOUT", "20s")
	v.SetDefault("DISPATCH_WORKERS", 4)
	v.SetDefault("DISPATCH_QUEUE_SIZE", 256)
	v.SetDefault("TENANT_SETTINGS_CACHE_TTL", "30s")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("STALE_CAPTURE_AFTER", "30m")
	v.SetDefault("PENDING_ATTEMPT_TIMEOUT", "5m")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("PIPELINE_KAFKA_TOPIC", "trailwatch-pipeline")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "trailwatch-event-worker")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.MaxUploadBytes <= 0 {
		return nil, errors.New("config: MAX_UPLOAD_BYTES must be positive")
	}
	if cfg.MirrorMaxRetries < 0 || cfg.MirrorMaxRetries > 10 {
		return nil, errors.New("config: MIRROR_MAX_RETRIES must be between 0 and 10")
	}
	if cfg.DispatchWorkers <= 0 {
		cfg.DispatchWorkers = 4
	}
	if cfg.DispatchQueueSize <= 0 {
		cfg.DispatchQueueSize = 256
	}

	if cfg.Env == "production" && cfg.LabelerTokenHash == "" {
		return nil, errors.New("config: LABELER_TOKEN_HASH must be set when APP_ENV=production")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 720h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 720*time.Hour)
}

// SMSTimeoutDuration returns the per-send provider timeout (default 10s).
func (c *Config) SMSTimeoutDuration() time.Duration {
	return parseDuration(c.SMSTimeout, 10*time.Second)
}

// MirrorTimeoutDuration returns the overall mirror budget per capture (default 20s).
func (c *Config) MirrorTimeoutDuration() time.Duration {
	return parseDuration(c.MirrorTimeout, 20*time.Second)
}

// TenantSettingsCacheTTLDuration returns the tenant settings cache TTL (default 30s).
func (c *Config) TenantSettingsCacheTTLDuration() time.Duration {
	return parseDuration(c.TenantSettingsCacheTTL, 30*time.Second)
}

// SweepIntervalDuration returns the sweeper period (default 1m).
func (c *Config) SweepIntervalDuration() time.Duration {
	return parseDuration(c.SweepInterval, time.Minute)
}

// StaleCaptureAfterDuration returns the age after which an unlabeled capture is reported (default 30m).
func (c *Config) StaleCaptureAfterDuration() time.Duration {
	return parseDuration(c.StaleCaptureAfter, 30*time.Minute)
}

// PendingAttemptTimeoutDuration returns the age after which a pending claim is abandoned (default 5m).
func (c *Config) PendingAttemptTimeoutDuration() time.Duration {
	return parseDuration(c.PendingAttemptTimeout, 5*time.Minute)
}

// PipelineKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the Kafka event producer is enabled (non-empty list).
func (c *Config) PipelineKafkaBrokersList() []string {
	if c == nil || c.PipelineKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.PipelineKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
