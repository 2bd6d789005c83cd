package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"github.com/sebastianruiz9504/calculadora/internal/quote"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	HSTSEnabled        bool

	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	MetricsEnabled   bool
	TracingEnabled   bool
	TracingEndpoint  string
	TracingSampling  float64

	JWTSecret    string
	JWTJWKSURL   string
	JWTIssuer    string
	JWTAudience  string
	JWTClockSkew time.Duration

	CRMBaseURL        string
	CRMAccessToken    string
	CRMTimeout        time.Duration
	CRMRetryAttempts  int
	CRMRetryBase      time.Duration
	CRMBreakerMinReq  int
	CRMBreakerRatio   float64
	CRMBreakerOpenFor time.Duration
	SegmentCacheTTL   time.Duration
	SearchCacheTTL    time.Duration

	SearchRateLimit string
	MaxBodyBytes    int64
	IdempotencyTTL  time.Duration

	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageUseSSL    bool
	MaxAttachment    int64

	ProvisioningFlowURL string
	QueueConcurrency    int
	QueueMaxRetry       int

	Policy quote.Policy
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	policy, err := loadPolicy(k)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		HSTSEnabled:        parseBool(k.String("SECURITY_HSTS"), false),

		LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "calculadora"),
		MetricsEnabled:   parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
		TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING"), false),
		TracingEndpoint:  strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSampling:  parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),

		JWTSecret:    strings.TrimSpace(k.String("JWT_SECRET")),
		JWTJWKSURL:   strings.TrimSpace(k.String("JWT_JWKS_URL")),
		JWTIssuer:    strings.TrimSpace(k.String("JWT_ISSUER")),
		JWTAudience:  strings.TrimSpace(k.String("JWT_AUDIENCE")),
		JWTClockSkew: parseDuration(k.String("JWT_CLOCK_SKEW"), "30s"),

		CRMBaseURL:        strings.TrimRight(strings.TrimSpace(k.String("CRM_BASE_URL")), "/"),
		CRMAccessToken:    strings.TrimSpace(k.String("CRM_ACCESS_TOKEN")),
		CRMTimeout:        parseDuration(k.String("CRM_TIMEOUT"), "5s"),
		CRMRetryAttempts:  parseInt(k.String("CRM_RETRY_ATTEMPTS"), 3),
		CRMRetryBase:      parseDuration(k.String("CRM_RETRY_BASE"), "150ms"),
		CRMBreakerMinReq:  parseInt(k.String("CRM_BREAKER_MIN_REQUESTS"), 10),
		CRMBreakerRatio:   parseFloat(k.String("CRM_BREAKER_FAILURE_RATIO"), 0.5),
		CRMBreakerOpenFor: parseDuration(k.String("CRM_BREAKER_OPEN_FOR"), "30s"),
		SegmentCacheTTL:   parseDuration(k.String("SEGMENT_CACHE_TTL"), "5m"),
		SearchCacheTTL:    parseDuration(k.String("SEARCH_CACHE_TTL"), "2m"),

		SearchRateLimit: valueOrDefault(k.String("SEARCH_RATE_LIMIT"), "60-M"),
		MaxBodyBytes:    int64(parseInt(k.String("HTTP_MAX_BODY_BYTES"), 20<<20)),
		IdempotencyTTL:  parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		StorageEndpoint:  strings.TrimSpace(k.String("STORAGE_ENDPOINT")),
		StorageAccessKey: strings.TrimSpace(k.String("STORAGE_ACCESS_KEY")),
		StorageSecretKey: strings.TrimSpace(k.String("STORAGE_SECRET_KEY")),
		StorageBucket:    valueOrDefault(k.String("STORAGE_BUCKET"), "provisioning"),
		StorageUseSSL:    parseBool(k.String("STORAGE_USE_SSL"), true),
		MaxAttachment:    int64(parseInt(k.String("PROVISIONING_MAX_ATTACHMENT_BYTES"), 10<<20)),

		ProvisioningFlowURL: strings.TrimSpace(k.String("PROVISIONING_FLOW_URL")),
		QueueConcurrency:    parseInt(k.String("QUEUE_CONCURRENCY"), 5),
		QueueMaxRetry:       parseInt(k.String("QUEUE_MAX_RETRY"), 8),

		Policy: policy,
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.CRMBaseURL == "" {
		return nil, errors.New("CRM_BASE_URL is required")
	}
	if cfg.JWTSecret == "" && cfg.JWTJWKSURL == "" {
		return nil, errors.New("JWT_SECRET or JWT_JWKS_URL is required")
	}

	return cfg, nil
}

// loadPolicy starts from the fixed commercial policy and applies any explicit
// overrides present in the environment.
func loadPolicy(k *koanf.Koanf) (quote.Policy, error) {
	p := quote.DefaultPolicy()
	decimals := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"QUOTE_USD_PER_100_POINTS", &p.USDPer100Points},
		{"QUOTE_EXCHANGE_RATE", &p.ExchangeRate},
		{"QUOTE_UTILITY_PER_100_POINTS", &p.UtilityPer100Points},
		{"QUOTE_CORPORATE_UTILITY_BONUS", &p.CorporateUtilityBonus},
		{"QUOTE_CORPORATE_DISCOUNT", &p.CorporateDiscount},
	}
	for _, d := range decimals {
		raw := strings.TrimSpace(k.String(d.key))
		if raw == "" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return quote.Policy{}, fmt.Errorf("%s: %w", d.key, err)
		}
		if !v.IsPositive() {
			return quote.Policy{}, fmt.Errorf("%s must be positive", d.key)
		}
		*d.dst = v
	}
	p.SMBLicenseCap = parseInt(k.String("QUOTE_SMB_LICENSE_CAP"), p.SMBLicenseCap)
	p.CorporateMinimumLicenses = parseInt(k.String("QUOTE_CORPORATE_MINIMUM_LICENSES"), p.CorporateMinimumLicenses)
	return p, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// StorageEnabled reports whether attachment storage is configured.
func (c *Config) StorageEnabled() bool {
	return c.StorageEndpoint != "" && c.StorageAccessKey != ""
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]*string, len(env))
	for key := range env {
		if prev, ok := os.LookupEnv(key); ok {
			original[key] = &prev
		} else {
			original[key] = nil
		}
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]*string) error {
	var errs []string
	for key, value := range values {
		var err error
		if value == nil {
			err = os.Unsetenv(key)
		} else {
			err = os.Setenv(key, *value)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
