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
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN for the local identity store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is json or text.
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// OTelEndpoint is the OTLP gRPC collector address (e.g. localhost:4317). Empty disables export.
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTelInsecure disables TLS towards the collector.
	OTelInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// OTelServiceName is the service.name resource attribute.
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// IdP admin API and token endpoints.
	IDPBaseURL       string `mapstructure:"IDP_BASE_URL"`
	IDPRealm         string `mapstructure:"IDP_REALM"`
	IDPAdminRealm    string `mapstructure:"IDP_ADMIN_REALM"`
	IDPAdminUsername string `mapstructure:"IDP_ADMIN_USERNAME"`
	IDPAdminPassword string `mapstructure:"IDP_ADMIN_PASSWORD"`
	IDPAdminClientID string `mapstructure:"IDP_ADMIN_CLIENT_ID"`
	IDPClientID      string `mapstructure:"IDP_CLIENT_ID"`
	IDPClientSecret  string `mapstructure:"IDP_CLIENT_SECRET"`
	// IDPTimeoutRaw is the per-attempt timeout for IdP calls (e.g. "5s").
	IDPTimeoutRaw string `mapstructure:"IDP_TIMEOUT"`
	// IDPMaxRetries is the number of attempts per IdP call (1–10).
	IDPMaxRetries int `mapstructure:"IDP_MAX_RETRIES"`
	// IDPTokenTTLRaw caps how long an admin token is reused (e.g. "60s").
	IDPTokenTTLRaw string `mapstructure:"IDP_TOKEN_TTL"`
	// IDPRateLimit is requests per second towards the IdP; 0 disables limiting.
	IDPRateLimit float64 `mapstructure:"IDP_RATE_LIMIT"`
	// Remote realm role and group names for each local role tag.
	IDPRolePlain   string `mapstructure:"IDP_ROLE_PLAIN"`
	IDPRoleAuthor  string `mapstructure:"IDP_ROLE_AUTHOR"`
	IDPGroupPlain  string `mapstructure:"IDP_GROUP_PLAIN"`
	IDPGroupAuthor string `mapstructure:"IDP_GROUP_AUTHOR"`

	// RolePolicyFile optionally replaces the embedded Rego role policy.
	RolePolicyFile string `mapstructure:"ROLE_POLICY_FILE"`

	// Lifecycle events (optional). When Kafka brokers are set, sagas publish identity events to Kafka.
	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventsTopic is the Kafka topic for identity lifecycle events (default identity-lifecycle).
	EventsTopic string `mapstructure:"IDENTITY_EVENTS_TOPIC"`
	// KafkaGroupID is the consumer group of the reconciliation worker (default identity-reconciler).
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
// IdP settings are not required here so that cmd/migrate can run without them; see ValidateIDP.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "identity-provisioning")
	v.SetDefault("IDP_BASE_URL", "")
	v.SetDefault("IDP_REALM", "")
	v.SetDefault("IDP_ADMIN_REALM", "master")
	v.SetDefault("IDP_ADMIN_USERNAME", "")
	v.SetDefault("IDP_ADMIN_PASSWORD", "")
	v.SetDefault("IDP_ADMIN_CLIENT_ID", "admin-cli")
	v.SetDefault("IDP_CLIENT_ID", "")
	v.SetDefault("IDP_CLIENT_SECRET", "")
	v.SetDefault("IDP_TIMEOUT", "5s")
	v.SetDefault("IDP_MAX_RETRIES", 3)
	v.SetDefault("IDP_TOKEN_TTL", "60s")
	v.SetDefault("IDP_RATE_LIMIT", 20)
	v.SetDefault("IDP_ROLE_PLAIN", "PLAIN")
	v.SetDefault("IDP_ROLE_AUTHOR", "AUTHOR")
	v.SetDefault("IDP_GROUP_PLAIN", "Members")
	v.SetDefault("IDP_GROUP_AUTHOR", "Authors")
	v.SetDefault("ROLE_POLICY_FILE", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("IDENTITY_EVENTS_TOPIC", "identity-lifecycle")
	v.SetDefault("KAFKA_GROUP_ID", "identity-reconciler")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.IDPMaxRetries < 1 || cfg.IDPMaxRetries > 10 {
		return nil, errors.New("config: IDP_MAX_RETRIES must be between 1 and 10")
	}
	if cfg.IDPRateLimit < 0 {
		return nil, errors.New("config: IDP_RATE_LIMIT must not be negative")
	}

	switch strings.ToLower(cfg.LogFormat) {
	case "json", "text":
	default:
		return nil, errors.New("config: LOG_FORMAT must be json or text")
	}

	return &cfg, nil
}

// ValidateIDP reports missing identity provider settings required by the server.
func (c *Config) ValidateIDP() error {
	if strings.TrimSpace(c.IDPBaseURL) == "" {
		return errors.New("config: IDP_BASE_URL must be set")
	}
	if strings.TrimSpace(c.IDPRealm) == "" {
		return errors.New("config: IDP_REALM must be set")
	}
	if c.IDPAdminUsername == "" || c.IDPAdminPassword == "" {
		return errors.New("config: IDP_ADMIN_USERNAME and IDP_ADMIN_PASSWORD must be set")
	}
	if c.IDPClientID == "" {
		return errors.New("config: IDP_CLIENT_ID must be set")
	}
	return nil
}

// IDPTimeout parses IDPTimeoutRaw as a time.Duration. Returns 5s if unset or invalid.
func (c *Config) IDPTimeout() time.Duration {
	d, err := time.ParseDuration(c.IDPTimeoutRaw)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// IDPTokenTTL parses IDPTokenTTLRaw as a time.Duration. Returns 60s if unset or invalid.
func (c *Config) IDPTokenTTL() time.Duration {
	d, err := time.ParseDuration(c.IDPTokenTTLRaw)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if lifecycle events go to Kafka (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
