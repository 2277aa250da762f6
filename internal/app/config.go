package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/oolio-pay-core/internal/domain/invoice"
)

// Config holds the complete application configuration, loadable from
// environment variables (PAYCORE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (PAYCORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (PAYCORE_API_KEY_PEPPER)" flag:"api-key-pepper"`

	// WebhookSecrets maps payment provider tags to their webhook signing
	// secrets, e.g. PAYCORE_WEBHOOK_SECRETS="stripe:s1,paypal:s2".
	WebhookSecrets map[string]string `usage:"provider:secret pairs for webhook signature verification" flag:"webhook-secrets"`

	Numbering NumberingConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// NumberingConfig is the read-only invoice numbering configuration. The
// service consumes it; nothing in this core mutates it.
type NumberingConfig struct {
	Enabled     bool   `default:"true"  usage:"Enable invoice number issuance"`
	Series      string `default:""      usage:"Invoice series identifier"`
	Prefix      string `default:"INV-"  usage:"Invoice number prefix"`
	Suffix      string `default:""      usage:"Invoice number suffix"`
	Padding     int    `default:"6"     usage:"Zero-padding width for the sequence value"`
	ResetPolicy string `default:"yearly" usage:"Sequence reset policy: never, yearly, monthly, daily" flag:"reset-policy"`
}

// Invoice converts the configuration to the domain type.
func (n NumberingConfig) Invoice() invoice.Config {
	return invoice.Config{
		Enabled:     n.Enabled,
		Series:      n.Series,
		Prefix:      n.Prefix,
		Suffix:      n.Suffix,
		Padding:     n.Padding,
		ResetPolicy: invoice.ResetPolicy(n.ResetPolicy),
	}
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PAYCORE",
		Files:     []string{"config.yaml", "/etc/paycore/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set PAYCORE_DATABASE_URL or DATABASE_URL")
	}

	switch invoice.ResetPolicy(cfg.Numbering.ResetPolicy) {
	case invoice.ResetNever, invoice.ResetYearly, invoice.ResetMonthly, invoice.ResetDaily:
	default:
		return nil, errors.Errorf("unknown reset policy %q", cfg.Numbering.ResetPolicy)
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's PAYCORE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
