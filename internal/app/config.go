package app

import (
	"os"
	"time"
	_ "time/tzdata" // business timezone must resolve in scratch images

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (SETTLE_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SETTLE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Timezone    string `default:"America/Argentina/Buenos_Aires" usage:"Business timezone for code expiry days"`
	Currency    string `default:"ARS" usage:"Currency of orders and payouts"`
	// ShippingCharge is what customers pay for shipping.
	ShippingCharge string `default:"0" usage:"Shipping amount charged to customers" flag:"shipping-charge"`
	FileBaseURL    string `default:"" usage:"Base URL invoice keys are served from" flag:"file-base-url"`
	Carrier        CarrierConfig
	Redis          RedisConfig
	SMTP           SMTPConfig
	Notify         NotifyConfig
	RateLimit      RateLimitConfig
	Graceful       GracefulConfig
}

// CarrierConfig selects the carrier rate quoted as real shipping cost. An
// empty BaseURL disables quoting.
type CarrierConfig struct {
	BaseURL          string        `default:"" usage:"Carrier rates API base URL" flag:"carrier-url"`
	APIKey           string        `default:"" usage:"Carrier API key"`
	CustomerID       string        `default:"" usage:"Carrier customer id"`
	Product          string        `default:"CP" usage:"Carrier product type to quote"`
	DeliveryType     string        `default:"D" usage:"Carrier delivery type to quote"`
	OriginPostalCode string        `default:"1414" usage:"Postal code parcels ship from"`
	Timeout          time.Duration `default:"5s" usage:"Carrier request timeout"`
	HeightCm         int           `default:"10" usage:"Default parcel height"`
	WidthCm          int           `default:"20" usage:"Default parcel width"`
	LengthCm         int           `default:"30" usage:"Default parcel length"`
}

// RedisConfig enables the carrier rate cache when Addr is set.
type RedisConfig struct {
	Addr    string        `default:"" usage:"Redis address or URL" flag:"redis-addr"`
	RateTTL time.Duration `default:"6h" usage:"Carrier rate cache TTL"`
}

// SMTPConfig enables e-mail notifications when Host is set. Otherwise
// notifications are only logged.
type SMTPConfig struct {
	Host     string `default:"" usage:"SMTP host"`
	Port     int    `default:"587" usage:"SMTP port"`
	User     string `default:"" usage:"SMTP user"`
	Password string `default:"" usage:"SMTP password"`
	From     string `default:"no-reply@example.com" usage:"Sender address"`
}

// NotifyConfig bounds background notification delivery.
type NotifyConfig struct {
	Timeout time.Duration `default:"30s" usage:"Timeout of one notification delivery"`
}

// RateLimitConfig controls the per-caller sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads an optional .env file, then configuration from
// environment variables and YAML config files.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SETTLE",
		Files:     []string{"config.yaml", "/etc/settle/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SETTLE_DATABASE_URL or DATABASE_URL")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return errors.Wrapf(err, "load timezone %q", c.Timezone)
	}
	charge, err := decimal.NewFromString(c.ShippingCharge)
	if err != nil || charge.IsNegative() {
		return errors.Errorf("invalid shipping charge %q", c.ShippingCharge)
	}
	return nil
}

// Location is the business timezone. Only valid after LoadConfig.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Charge is the customer shipping charge rounded to cents.
func (c *Config) Charge() decimal.Decimal {
	charge, err := decimal.NewFromString(c.ShippingCharge)
	if err != nil {
		return decimal.Zero
	}
	return charge.Round(2)
}

// applyPlatformDefaults maps platform-provided DATABASE_URL and PORT to the
// SETTLE_-prefixed configuration.
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
