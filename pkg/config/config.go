package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

const (
	BackendRTDB   = "rtdb"
	BackendMySQL  = "mysql"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

type Config struct {
	RunAddress string `env:"RUN_ADDRESS" envDefault:":3000"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"rtdb"`
	StoreURL     string `env:"STORE_URL"`
	StoreAuth    string `env:"STORE_AUTH"`
	BadgerDir    string `env:"BADGER_DIR" envDefault:"./data/badger"`
	DB           DB

	NATSURL string `env:"NATS_URL"`

	ProviderSecretKey string        `env:"PROVIDER_SECRET_KEY"`
	ProviderBaseURL   string        `env:"PROVIDER_BASE_URL" envDefault:"https://api.xendit.co"`
	WebhookToken      string        `env:"WEBHOOK_TOKEN"`
	AllowedOrigins    []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5000"`
	DeviceID          string        `env:"DEVICE_ID" envDefault:"WS-001"`
	DefaultVolume     float64       `env:"DEFAULT_VOLUME" envDefault:"1"`
	UpstreamTimeout   time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"5s"`

	Invoice Invoice

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT"`

	Sandbox Sandbox
	Device  Device
}

// DB holds discrete MySQL connection settings.
type DB struct {
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"3306"`
	Name     string `env:"DB_NAME"`
}

func (d DB) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type Invoice struct {
	PublicBaseURL      string   `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:5000"`
	SuccessRedirectURL string   `env:"SUCCESS_REDIRECT_URL" envDefault:"http://localhost:5000/payment/success.html"`
	FailureRedirectURL string   `env:"FAILURE_REDIRECT_URL" envDefault:"http://localhost:5000/payment/failed.html"`
	DefaultPayerEmail  string   `env:"DEFAULT_PAYER_EMAIL" envDefault:"customer@waterstation.local"`
	Currency           string   `env:"CURRENCY" envDefault:"IDR"`
	DurationSeconds    int      `env:"INVOICE_DURATION" envDefault:"86400"`
	PaymentMethods     []string `env:"PAYMENT_METHODS" envSeparator:"," envDefault:"QRIS"`
	QRServiceURL       string   `env:"QR_SERVICE_URL" envDefault:"https://api.qrserver.com/v1/create-qr-code/?size=300x300&data="`
}

type Sandbox struct {
	RunAddress string `env:"SANDBOX_RUN_ADDRESS" envDefault:":8001"`
	SecretKey  string `env:"SANDBOX_SECRET_KEY"`
	WebhookURL string `env:"SANDBOX_WEBHOOK_URL" envDefault:"http://localhost:3000/webhook"`
}

type Device struct {
	RunAddress       string        `env:"DEVICE_RUN_ADDRESS" envDefault:":9000"`
	Step             time.Duration `env:"DEVICE_STEP" envDefault:"500ms"`
	IdempotencyCheck bool          `env:"DEVICE_IDEMPOTENCY_CHECK" envDefault:"true"`
}

// Load reads an optional .env file and the process environment once.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found")
	}
	return Parse()
}

// Parse builds a Config from the current environment without touching .env.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendRTDB:
		if c.StoreURL == "" {
			return fmt.Errorf("STORE_URL is required for the %s backend", BackendRTDB)
		}
		c.StoreURL = strings.TrimRight(c.StoreURL, "/")
	case BackendMySQL, BackendBadger, BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.DefaultVolume <= 0 {
		return fmt.Errorf("DEFAULT_VOLUME must be positive, got %v", c.DefaultVolume)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %s", c.UpstreamTimeout)
	}
	if c.Device.Step <= 0 {
		return fmt.Errorf("DEVICE_STEP must be positive, got %s", c.Device.Step)
	}
	c.ProviderBaseURL = strings.TrimRight(c.ProviderBaseURL, "/")
	c.Invoice.PublicBaseURL = strings.TrimRight(c.Invoice.PublicBaseURL, "/")
	return nil
}

// ProviderConfigured reports whether real invoices can be requested.
func (c *Config) ProviderConfigured() bool {
	return c.ProviderSecretKey != ""
}
