package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/smartshop/internal/domain/loyalty"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (SHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Settlement   SettlementConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// SettlementConfig holds the pricing and payment policy. Amounts are decimal
// strings so they never pass through float parsing.
type SettlementConfig struct {
	TaxRate      string `default:"0.20" usage:"Tax rate applied to the discounted subtotal" flag:"tax-rate"`
	CashCeiling  string `default:"20000" usage:"Largest accepted single cash payment" flag:"cash-ceiling"`
	LoyaltyMatch string `default:"any" usage:"Tier acquisition mode: any (orders or spend) or all (orders and spend)" flag:"loyalty-match"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// Settlement is the parsed form of SettlementConfig.
type Settlement struct {
	TaxRate      decimal.Decimal
	CashCeiling  decimal.Decimal
	LoyaltyMatch loyalty.Match
}

// Parse validates the settlement options.
func (c SettlementConfig) Parse() (Settlement, error) {
	var (
		s   Settlement
		err error
	)
	if s.TaxRate, err = decimal.NewFromString(c.TaxRate); err != nil {
		return s, errors.Wrapf(err, "tax rate %q", c.TaxRate)
	}
	if s.TaxRate.IsNegative() || s.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return s, errors.Errorf("tax rate %s must be within [0, 1]", s.TaxRate)
	}
	if s.CashCeiling, err = decimal.NewFromString(c.CashCeiling); err != nil {
		return s, errors.Wrapf(err, "cash ceiling %q", c.CashCeiling)
	}
	if !s.CashCeiling.IsPositive() {
		return s, errors.Errorf("cash ceiling %s must be positive", s.CashCeiling)
	}
	if s.LoyaltyMatch, err = loyalty.ParseMatch(c.LoyaltyMatch); err != nil {
		return s, err
	}
	return s, nil
}

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/smartshop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if _, err := cfg.Settlement.Parse(); err != nil {
		return nil, errors.Wrap(err, "settlement config")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the conventional DATABASE_URL and PORT variables
// onto the SHOP_-prefixed configuration.
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
