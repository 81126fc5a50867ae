package config

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/stayforge/identity-service/internal/security"
)

// Config is the full environment surface of the identity service. Every knob
// except the signing key has a safe default so the service is operable with a
// single variable set.
type Config struct {
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	DatabaseDSN string `env:"DATABASE_DSN" envDefault:""`

	JWTSigningKey      string        `env:"JWT_SIGNING_KEY"`
	JWTIssuer          string        `env:"JWT_ISSUER" envDefault:"stayforge-identity"`
	JWTAudience        string        `env:"JWT_AUDIENCE" envDefault:"stayforge-api"`
	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"60m"`
	RefreshTokenTTL    time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	RefreshTokenPepper string        `env:"REFRESH_TOKEN_PEPPER" envDefault:""`

	SessionCap       int           `env:"SESSION_CAP" envDefault:"5"`
	SessionRetention time.Duration `env:"SESSION_RETENTION" envDefault:"720h"`

	DirectoryAddr        string        `env:"DIRECTORY_ADDR" envDefault:"ldap://localhost:389"`
	DirectoryDomain      string        `env:"DIRECTORY_DOMAIN" envDefault:"stayforge.local"`
	DirectoryBaseDN      string        `env:"DIRECTORY_BASE_DN" envDefault:"dc=stayforge,dc=local"`
	DirectoryBindDN      string        `env:"DIRECTORY_BIND_DN" envDefault:""`
	DirectoryBindSecret  string        `env:"DIRECTORY_BIND_SECRET" envDefault:""`
	DirectoryTimeout     time.Duration `env:"DIRECTORY_TIMEOUT" envDefault:"5s"`
	DirectoryStartTLS    bool          `env:"DIRECTORY_STARTTLS" envDefault:"false"`
	DirectorySkipVerify  bool          `env:"DIRECTORY_TLS_SKIP_VERIFY" envDefault:"false"`

	GroupRoleMap     map[string]string `env:"GROUP_ROLE_MAP" envDefault:"Domain Admins:Administrator,Hotel Managers:Manager,Front Desk:Receptionist,Hotel Guests:Customer"`
	RolePriority     []string          `env:"ROLE_PRIORITY" envDefault:"Administrator,Manager,Receptionist,Customer" envSeparator:","`
	FallbackRole     string            `env:"FALLBACK_ROLE" envDefault:"Customer"`
	DefaultLocalRole string            `env:"DEFAULT_LOCAL_ROLE" envDefault:"Customer"`

	RedisAddr        string `env:"REDIS_ADDR" envDefault:""`
	APIRateLimitRPM  int    `env:"API_RATE_LIMIT_RPM" envDefault:"300"`
	AuthRateLimitRPM int    `env:"AUTH_RATE_LIMIT_RPM" envDefault:"30"`

	OTELMetricsEnabled        bool          `env:"OTEL_METRICS_ENABLED" envDefault:"false"`
	OTELExporterOTLPEndpoint  string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTELExporterOTLPInsecure  bool          `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTELServiceName           string        `env:"OTEL_SERVICE_NAME" envDefault:"identity-service"`
	OTELEnvironment           string        `env:"OTEL_ENVIRONMENT" envDefault:"development"`
	OTELMetricsExportInterval time.Duration `env:"OTEL_METRICS_EXPORT_INTERVAL" envDefault:"30s"`
	OTELHTTPEnabled           bool          `env:"OTEL_HTTP_ENABLED" envDefault:"false"`
}

func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		err = fmt.Errorf("parse environment: %w", err)
		recordConfigValidationEvent(ctx, cfg.Environment, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		err = fmt.Errorf("validate config: %w", err)
		recordConfigValidationEvent(ctx, cfg.Environment, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(ctx, cfg.Environment, "success", "none")
	return cfg, nil
}

// Validate enforces the fail-fast integrity checks. A weak signing key or an
// empty role priority list must stop the process, not surface per request.
func (c *Config) Validate() error {
	if len(c.JWTSigningKey) < security.MinSigningKeyLength {
		return security.ErrWeakSigningKey
	}
	if c.SessionCap < 1 {
		return fmt.Errorf("session cap must be at least 1, got %d", c.SessionCap)
	}
	if c.SessionRetention <= 0 {
		return fmt.Errorf("session retention must be positive, got %s", c.SessionRetention)
	}
	if len(c.RolePriority) == 0 {
		return fmt.Errorf("role priority list must not be empty")
	}
	if c.FallbackRole == "" {
		return fmt.Errorf("fallback role must not be empty")
	}
	return nil
}
