package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the complete runtime configuration, read from the process
// environment (populated from .env by the env package in development).
type Config struct {
	App       App
	DB        Database
	Cache     Cache
	Stripe    Stripe
	Payments  Payments
	Reconcile Reconcile
	Ledger    Ledger
	JobQueue  JobQueue
	Kafka     Kafka
	SMTP      SMTP
	Alerts    Alerts
	Archive   Archive
}

type App struct {
	Host          string `env:"APP_HOST" env-default:"0.0.0.0"`
	Port          string `env:"APP_PORT" env-default:"4000"`
	Env           string `env:"APP_ENV" env-default:"prod"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" env-default:"http://localhost:4000"`
}

type Database struct {
	Driver   string `env:"DB_DRIVER" env-default:"mysql"`
	Host     string `env:"DB_HOST" env-default:"127.0.0.1"`
	Port     string `env:"DB_PORT" env-default:"3306"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME" env-default:"gearmarket"`
	SSLMode  string `env:"DB_SSLMODE" env-default:"disable"`
}

type Cache struct {
	Host     string `env:"CACHE_HOST" env-default:"localhost"`
	Port     string `env:"CACHE_PORT" env-default:"6379"`
	Password string `env:"CACHE_PASSWORD"`
}

type Stripe struct {
	SecretKey     string        `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	APITimeout    time.Duration `env:"STRIPE_API_TIMEOUT" env-default:"10s"`
	APIBaseURL    string        `env:"STRIPE_API_BASE_URL"`
}

type Payments struct {
	PlatformFeeBPS     int64         `env:"PLATFORM_FEE_BPS" env-default:"1000"`
	Currency           string        `env:"CURRENCY" env-default:"eur"`
	CheckoutSessionTTL time.Duration `env:"CHECKOUT_SESSION_TTL" env-default:"30m"`
	MerchantCountry    string        `env:"MERCHANT_COUNTRY" env-default:"DE"`
	MerchantStatusTTL  time.Duration `env:"MERCHANT_STATUS_TTL" env-default:"60s"`
	WebhookTolerance   time.Duration `env:"WEBHOOK_TOLERANCE" env-default:"5m"`
	TamperThreshold    int           `env:"WEBHOOK_TAMPER_THRESHOLD" env-default:"5"`
	TamperWindow       time.Duration `env:"WEBHOOK_TAMPER_WINDOW" env-default:"10m"`
}

type Reconcile struct {
	Enabled  bool          `env:"RECONCILE_ENABLED" env-default:"true"`
	Interval time.Duration `env:"RECONCILE_INTERVAL" env-default:"5m"`
	Deadline time.Duration `env:"RECONCILE_DEADLINE" env-default:"30m"`
	Batch    int           `env:"RECONCILE_BATCH" env-default:"100"`
}

type Ledger struct {
	Retention     time.Duration `env:"LEDGER_RETENTION" env-default:"720h"`
	PruneInterval time.Duration `env:"LEDGER_PRUNE_INTERVAL" env-default:"6h"`
	PruneBatch    int           `env:"LEDGER_PRUNE_BATCH" env-default:"1000"`
}

type JobQueue struct {
	Workers int `env:"JOBQUEUE_WORKERS" env-default:"3"`
}

type Kafka struct {
	Brokers  []string `env:"KAFKA_BROKERS" env-separator:","`
	CRMTopic string   `env:"KAFKA_CRM_TOPIC" env-default:"gearmarket.crm"`
}

type SMTP struct {
	Host     string `env:"SMTP_HOST"`
	Port     string `env:"SMTP_PORT" env-default:"587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	Sender   string `env:"SMTP_SENDER"`
}

type Alerts struct {
	OpsEmail  string `env:"OPS_ALERT_EMAIL"`
	OpsAPIKey string `env:"OPS_API_KEY"`
}

type Archive struct {
	Enabled   bool   `env:"ARCHIVE_ENABLED" env-default:"false"`
	Bucket    string `env:"ARCHIVE_BUCKET"`
	Prefix    string `env:"ARCHIVE_PREFIX" env-default:"ledger"`
	Region    string `env:"S3_REGION" env-default:"eu-central-1"`
	Endpoint  string `env:"S3_ENDPOINT"`
	AccessKey string `env:"S3_ACCESS_KEY_ID"`
	SecretKey string `env:"S3_SECRET_ACCESS_KEY"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load that panics on error, for use in main.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate checks cross-field constraints cleanenv cannot express.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "mysql", "postgres", "memory":
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.DB.Driver)
	}
	if c.Payments.PlatformFeeBPS < 0 || c.Payments.PlatformFeeBPS >= 10000 {
		return fmt.Errorf("config: PLATFORM_FEE_BPS must be in [0,10000), got %d", c.Payments.PlatformFeeBPS)
	}
	if c.Payments.CheckoutSessionTTL < 30*time.Minute {
		return fmt.Errorf("config: CHECKOUT_SESSION_TTL must be at least 30m, got %s", c.Payments.CheckoutSessionTTL)
	}
	if len(strings.TrimSpace(c.Payments.Currency)) != 3 {
		return fmt.Errorf("config: CURRENCY must be an ISO 4217 code, got %q", c.Payments.Currency)
	}
	if c.Reconcile.Batch <= 0 {
		return fmt.Errorf("config: RECONCILE_BATCH must be positive")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("config: ARCHIVE_BUCKET is required when ARCHIVE_ENABLED")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.App.Env == "dev"
}

// ListenAddr returns host:port for the HTTP listener.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.App.Host, c.App.Port)
}

// CacheAddr returns host:port of the Redis-compatible cache.
func (c *Config) CacheAddr() string {
	return fmt.Sprintf("%s:%s", c.Cache.Host, c.Cache.Port)
}
