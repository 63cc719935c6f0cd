package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type RateLimitConfig struct {
	ID                string  `yaml:"id"`
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	RatePerSecond     float64 `yaml:"ratePerSecond"`
	Burst             int     `yaml:"burst"`
}

// PerSecond resolves the configured rate, preferring ratePerSecond.
func (r RateLimitConfig) PerSecond() float64 {
	if r.RatePerSecond > 0 {
		return r.RatePerSecond
	}
	return r.RequestsPerMinute / 60.0
}

type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	Metrics       bool   `yaml:"metrics"`
	Tracing       bool   `yaml:"tracing"`
	LogRequests   bool   `yaml:"logRequests"`
	MetricsPrefix string `yaml:"metricsPrefix"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// SettlementConfig points at the Solana JSON-RPC endpoint used to confirm transfers.
type SettlementConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Commitment string        `yaml:"commitment"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StoreConfig selects the backing store for pending intents.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type IntentConfig struct {
	TTL               time.Duration `yaml:"ttl"`
	SweepInterval     time.Duration `yaml:"sweepInterval"`
	MaxCreateAttempts int           `yaml:"maxCreateAttempts"`
}

type EventsConfig struct {
	PollInterval   time.Duration `yaml:"pollInterval"`
	OriginPatterns []string      `yaml:"originPatterns"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type Config struct {
	ListenAddress   string              `yaml:"listen"`
	ReadTimeout     time.Duration       `yaml:"readTimeout"`
	WriteTimeout    time.Duration       `yaml:"writeTimeout"`
	IdleTimeout     time.Duration       `yaml:"idleTimeout"`
	MerchantProfile string              `yaml:"merchantProfile"`
	Settlement      SettlementConfig    `yaml:"settlement"`
	Store           StoreConfig         `yaml:"store"`
	AuditDB         string              `yaml:"auditDB"`
	ReceiptsPath    string              `yaml:"receiptsPath"`
	Intents         IntentConfig        `yaml:"intents"`
	Events          EventsConfig        `yaml:"events"`
	RateLimits      []RateLimitConfig   `yaml:"rateLimits"`
	Observability   ObservabilityConfig `yaml:"observability"`
	Logging         LoggingConfig       `yaml:"logging"`
	Auth            AuthConfig          `yaml:"auth"`
	Security        SecurityConfig      `yaml:"security"`
	CORS            CORSConfig          `yaml:"cors"`
}

// AuthConfig guards payment creation. Verification stays public because the
// storefront polls it from the browser.
type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	HMACSecret string        `yaml:"hmacSecret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ScopeClaim string        `yaml:"scopeClaim"`
	ClockSkew  time.Duration `yaml:"clockSkew"`
	enabledSet bool          `yaml:"-"`
}

func (a *AuthConfig) UnmarshalYAML(node *yaml.Node) error {
	type rawAuthConfig struct {
		Enabled    *bool         `yaml:"enabled"`
		HMACSecret string        `yaml:"hmacSecret"`
		Issuer     string        `yaml:"issuer"`
		Audience   string        `yaml:"audience"`
		ScopeClaim string        `yaml:"scopeClaim"`
		ClockSkew  time.Duration `yaml:"clockSkew"`
	}
	var raw rawAuthConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}
	a.Enabled = raw.Enabled != nil && *raw.Enabled
	a.enabledSet = raw.Enabled != nil
	a.HMACSecret = raw.HMACSecret
	a.Issuer = raw.Issuer
	a.Audience = raw.Audience
	a.ScopeClaim = raw.ScopeClaim
	a.ClockSkew = raw.ClockSkew
	return nil
}

// SetEnabled marks auth as explicitly configured, as an environment override does.
func (a *AuthConfig) SetEnabled(enabled bool) {
	a.Enabled = enabled
	a.enabledSet = true
}

type SecurityConfig struct {
	TLSCertFile string `yaml:"tlsCertFile"`
	TLSKeyFile  string `yaml:"tlsKeyFile"`
}

// Default returns the configuration used when no file is supplied: an
// in-memory store against the public devnet endpoint.
func Default() Config {
	return Config{
		ListenAddress: ":8080",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		Settlement: SettlementConfig{
			Endpoint:   "https://api.devnet.solana.com",
			Commitment: "confirmed",
			Timeout:    10 * time.Second,
		},
		Store: StoreConfig{Driver: StoreMemory},
		Intents: IntentConfig{
			SweepInterval:     time.Minute,
			MaxCreateAttempts: 5,
		},
		Events: EventsConfig{PollInterval: 2 * time.Second},
		RateLimits: []RateLimitConfig{
			{ID: "create", RatePerSecond: 2, Burst: 10},
			{ID: "verify", RatePerSecond: 5, Burst: 20},
		},
		Observability: ObservabilityConfig{
			ServiceName:   "payments-gateway",
			Metrics:       true,
			Tracing:       true,
			LogRequests:   true,
			MetricsPrefix: "gateway",
		},
		Logging: LoggingConfig{Level: "info"},
		Auth: AuthConfig{
			ScopeClaim: "scope",
			ClockSkew:  2 * time.Minute,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if err := cfg.Validate(); err != nil {
			return Config{}, fmt.Errorf("validate config: %w", err)
		}
		return cfg, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	defaults := Default()
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = defaults.Auth.ClockSkew
	}
	if cfg.Auth.ScopeClaim == "" {
		cfg.Auth.ScopeClaim = defaults.Auth.ScopeClaim
	}
	if cfg.Settlement.Timeout <= 0 {
		cfg.Settlement.Timeout = defaults.Settlement.Timeout
	}
	if cfg.Settlement.Commitment == "" {
		cfg.Settlement.Commitment = defaults.Settlement.Commitment
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreMemory
	}
	if cfg.Intents.SweepInterval <= 0 {
		cfg.Intents.SweepInterval = defaults.Intents.SweepInterval
	}
	if cfg.Intents.MaxCreateAttempts <= 0 {
		cfg.Intents.MaxCreateAttempts = defaults.Intents.MaxCreateAttempts
	}
	if cfg.Events.PollInterval <= 0 {
		cfg.Events.PollInterval = defaults.Events.PollInterval
	}
}

var ErrAuthEnabledNotConfigured = errors.New("auth.enabled must be explicitly set for sensitive deployments")

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.isSensitiveDeployment() && !cfg.Auth.enabledSet {
		return ErrAuthEnabledNotConfigured
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth.hmacSecret required when auth is enabled")
	}
	if strings.TrimSpace(cfg.Settlement.Endpoint) == "" {
		return fmt.Errorf("settlement.endpoint required")
	}
	switch cfg.Settlement.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("settlement.commitment %q must be processed, confirmed or finalized", cfg.Settlement.Commitment)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Driver)) {
	case StoreMemory:
	case StoreSQLite, StorePostgres:
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			return fmt.Errorf("store.dsn required for driver %s", cfg.Store.Driver)
		}
	default:
		return fmt.Errorf("unsupported store.driver %q", cfg.Store.Driver)
	}
	if cfg.Intents.TTL < 0 {
		return fmt.Errorf("intents.ttl cannot be negative")
	}
	for i, limit := range cfg.RateLimits {
		if strings.TrimSpace(limit.ID) == "" {
			return fmt.Errorf("rateLimits[%d].id required", i)
		}
		if limit.PerSecond() <= 0 {
			return fmt.Errorf("rateLimits[%d] must set ratePerSecond or requestsPerMinute", i)
		}
	}
	return nil
}

// SettlementURL parses the settlement endpoint and enforces HTTPS outside dev.
func (cfg Config) SettlementURL(env string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(cfg.Settlement.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("parse settlement endpoint: %w", err)
	}
	secured, _, err := EnforceSecureScheme(env, parsed, false)
	return secured, err
}

func (cfg *Config) isSensitiveDeployment() bool {
	if cfg == nil {
		return false
	}
	return strings.TrimSpace(cfg.Security.TLSCertFile) != "" || strings.TrimSpace(cfg.Security.TLSKeyFile) != ""
}

// EnforceSecureScheme ensures the supplied URL uses HTTPS outside of the dev environment.
// If autoUpgrade is enabled, insecure HTTP URLs are transparently upgraded to HTTPS.
// The returned boolean indicates whether an upgrade occurred.
func EnforceSecureScheme(env string, target *url.URL, autoUpgrade bool) (*url.URL, bool, error) {
	if target == nil {
		return nil, false, fmt.Errorf("target URL is nil")
	}
	scheme := strings.ToLower(strings.TrimSpace(target.Scheme))
	switch scheme {
	case "https":
		return target, false, nil
	case "http":
		if isDevEnv(env) {
			return target, false, nil
		}
		if autoUpgrade {
			upgraded := *target
			upgraded.Scheme = "https"
			return &upgraded, true, nil
		}
		if strings.TrimSpace(env) == "" {
			env = "(unset)"
		}
		return nil, false, fmt.Errorf("plaintext HTTP endpoints are not permitted for environment %s", env)
	case "":
		return nil, false, fmt.Errorf("URL scheme is required")
	default:
		return nil, false, fmt.Errorf("unsupported URL scheme %q", target.Scheme)
	}
}

func isDevEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local", "test":
		return true
	}
	return false
}
