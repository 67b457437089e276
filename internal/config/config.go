// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CORSOrigins    []string      `yaml:"cors_origins"`
}

type AdminConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RabbitMQConfig struct {
	URL            string `yaml:"url"`
	Exchange       string `yaml:"exchange"`
	PublishWorkers int    `yaml:"publish_workers"`
	PublishQueue   int    `yaml:"publish_queue"` // events beyond this backlog are dropped
}

type StripeConfig struct {
	APIKey        string `yaml:"api_key"`
	WebhookSecret string `yaml:"webhook_secret"`
}

type PayPalConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Mode         string `yaml:"mode"` // sandbox | live
	WebhookID    string `yaml:"webhook_id"`
	ReturnURL    string `yaml:"return_url"`
	CancelURL    string `yaml:"cancel_url"`
}

type ZarinPalConfig struct {
	MerchantID  string `yaml:"merchant_id"`
	CallbackURL string `yaml:"callback_url"`
	Sandbox     bool   `yaml:"sandbox"`
	AccessToken string `yaml:"access_token"`
}

// SandboxConfig configures the fake gateway that stands in for unconfigured
// providers in dev mode. Enabled outside dev mode fails validation.
type SandboxConfig struct {
	Enabled       bool   `yaml:"enabled"`
	WebhookSecret string `yaml:"webhook_secret"`
}

type PaymentConfig struct {
	PlatformFeePercent *float64       `yaml:"platform_fee_percent"` // nil means 10
	DefaultCurrency    string         `yaml:"default_currency"`
	GatewayTimeout     time.Duration  `yaml:"gateway_timeout"`
	Stripe             StripeConfig   `yaml:"stripe"`
	PayPal             PayPalConfig   `yaml:"paypal"`
	ZarinPal           ZarinPalConfig `yaml:"zarinpal"`
	Sandbox            SandboxConfig  `yaml:"sandbox"`
}

type DiscountConfig struct {
	AttemptLimit  int           `yaml:"attempt_limit"` // per student per window; 0 disables
	AttemptWindow time.Duration `yaml:"attempt_window"`
}

type SchedulerConfig struct {
	RenewalCron   string        `yaml:"renewal_cron"`
	ExpiryCron    string        `yaml:"expiry_cron"`
	RenewalWindow time.Duration `yaml:"renewal_window"`
	BatchSize     int           `yaml:"batch_size"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Admin     AdminConfig     `yaml:"admin"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Payment   PaymentConfig   `yaml:"payment"`
	Discount  DiscountConfig  `yaml:"discount"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path. A .env file next to the process is
// loaded first and ${VAR} references in the YAML are expanded from the environment.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load() // optional

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse([]byte(os.ExpandEnv(string(b))))
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML and applies defaults without validating.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.RequestTimeout <= 0 {
		c.HTTP.RequestTimeout = 30 * time.Second
	}
	if c.Admin.Issuer == "" {
		c.Admin.Issuer = "lms-payments"
	}
	if c.Admin.TokenTTL <= 0 {
		c.Admin.TokenTTL = 12 * time.Hour
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "lms.payments"
	}
	if c.RabbitMQ.PublishWorkers <= 0 {
		c.RabbitMQ.PublishWorkers = 2
	}
	if c.RabbitMQ.PublishQueue <= 0 {
		c.RabbitMQ.PublishQueue = 256
	}
	if c.Payment.PlatformFeePercent == nil {
		fee := 10.0
		c.Payment.PlatformFeePercent = &fee
	}
	if c.Payment.DefaultCurrency == "" {
		c.Payment.DefaultCurrency = "USD"
	}
	if c.Payment.GatewayTimeout <= 0 {
		c.Payment.GatewayTimeout = 20 * time.Second
	}
	if c.Payment.PayPal.Mode == "" {
		c.Payment.PayPal.Mode = "sandbox"
	}
	if c.Discount.AttemptWindow <= 0 {
		c.Discount.AttemptWindow = time.Hour
	}
	if c.Scheduler.RenewalCron == "" {
		c.Scheduler.RenewalCron = "0 2 * * *"
	}
	if c.Scheduler.ExpiryCron == "" {
		c.Scheduler.ExpiryCron = "0 3 * * *"
	}
	if c.Scheduler.RenewalWindow <= 0 {
		c.Scheduler.RenewalWindow = 24 * time.Hour
	}
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = 200
	}
	if c.Scheduler.LockTTL <= 0 {
		c.Scheduler.LockTTL = 30 * time.Minute
	}
}

// FeeRate returns the platform fee percentage as an exact decimal.
func (p PaymentConfig) FeeRate() decimal.Decimal {
	if p.PlatformFeePercent == nil {
		return decimal.NewFromInt(10)
	}
	return decimal.NewFromFloat(*p.PlatformFeePercent)
}

// Validate performs minimal validation.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if fee := *c.Payment.PlatformFeePercent; fee < 0 || fee >= 100 {
		return errors.New("payment.platform_fee_percent must be in [0,100)")
	}
	if c.Payment.PayPal.Mode != "sandbox" && c.Payment.PayPal.Mode != "live" {
		return fmt.Errorf("payment.paypal.mode must be sandbox or live, got %q", c.Payment.PayPal.Mode)
	}
	if c.Admin.JWTSecret == "" && !c.Runtime.Dev {
		return errors.New("admin.jwt_secret is required")
	}
	if c.Payment.Sandbox.Enabled && !c.Runtime.Dev {
		return errors.New("payment.sandbox.enabled is only allowed in dev mode")
	}
	return nil
}
