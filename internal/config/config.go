package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	ModeSandbox = "sandbox"
	ModeLive    = "live"
)

type TelegramOptions struct {
	BotToken      string `env:"TELEGRAM_BOT_TOKEN,required"`
	APIURL        string `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
	WebhookSecret string `env:"TELEGRAM_WEBHOOK_SECRET"`
}

type PayPalOptions struct {
	ClientID     string `env:"PAYPAL_CLIENT_ID,required"`
	ClientSecret string `env:"PAYPAL_CLIENT_SECRET,required"`
	Mode         string `env:"PAYPAL_MODE" envDefault:"sandbox"`
	BaseURL      string `env:"PAYPAL_BASE_URL"`
}

// APIBaseURL returns the REST endpoint for the configured mode unless overridden.
func (p PayPalOptions) APIBaseURL() string {
	if p.BaseURL != "" {
		return strings.TrimRight(p.BaseURL, "/")
	}
	if p.Mode == ModeLive {
		return "https://api-m.paypal.com"
	}
	return "https://api-m.sandbox.paypal.com"
}

type SchedulerOptions struct {
	Workers         int           `env:"SCHEDULER_WORKERS" envDefault:"8"`
	QueueSize       int           `env:"SCHEDULER_QUEUE_SIZE" envDefault:"256"`
	TaskTimeout     time.Duration `env:"SCHEDULER_TASK_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SCHEDULER_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

func (s SchedulerOptions) Validate() error {
	if s.Workers <= 0 {
		return fmt.Errorf("SCHEDULER_WORKERS must be positive, got %d", s.Workers)
	}
	if s.QueueSize < 0 {
		return fmt.Errorf("SCHEDULER_QUEUE_SIZE must be non-negative, got %d", s.QueueSize)
	}
	return nil
}

type OrderOptions struct {
	GatewayTimeout    time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	Retention         time.Duration `env:"ORDER_RETENTION" envDefault:"24h"`
	RetentionInterval time.Duration `env:"ORDER_RETENTION_INTERVAL" envDefault:"10m"`
	ApprovalTTL       time.Duration `env:"ORDER_APPROVAL_TTL" envDefault:"3h"`
}

type DatabaseOptions struct {
	URL string `env:"DATABASE_URL"`
}

type NATSOptions struct {
	URL       string `env:"NATS_URL"`
	ClusterID string `env:"STAN_CLUSTER_ID" envDefault:"storefront-cluster"`
	ClientID  string `env:"STAN_CLIENT_ID"`
	Subject   string `env:"STAN_SUBJECT" envDefault:"orders.lifecycle"`
	Durable   string `env:"STAN_DURABLE" envDefault:"storefront-durable"`
}

type Config struct {
	Telegram  TelegramOptions
	PayPal    PayPalOptions
	Scheduler SchedulerOptions
	Orders    OrderOptions
	Database  DatabaseOptions
	NATS      NATSOptions

	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	CatalogPath   string `env:"CATALOG_PATH" envDefault:"movies.json"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load читает необязательные env-файлы, затем окружение процесса.
func Load(envFiles []string) (*Config, error) {
	existing := make([]string, 0, len(envFiles))
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	}

	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	mode := strings.ToLower(strings.TrimSpace(c.PayPal.Mode))
	switch mode {
	case ModeSandbox, ModeLive:
	default:
		return fmt.Errorf("invalid PAYPAL_MODE=%q (expected sandbox|live)", c.PayPal.Mode)
	}
	c.PayPal.Mode = mode
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	if c.Orders.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
	return nil
}

func (c *Config) Live() bool {
	return c.PayPal.Mode == ModeLive
}
