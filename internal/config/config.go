package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port          string `env:"PORT" envDefault:"8080"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN" envDefault:"http://127.0.0.1:3000"`

	DatabaseURL   string `env:"DATABASE_URL"`
	AutoMigrate   bool   `env:"AUTO_MIGRATE" envDefault:"true"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	AuditMongoURI string `env:"AUDIT_MONGO_URI"`
	AuditMongoDB  string `env:"AUDIT_MONGO_DB" envDefault:"smartduka_audit"`

	AuthSecret            string `env:"AUTH_SECRET"`
	AccessTokenTTLMinutes int    `env:"ACCESS_TOKEN_TTL_MINUTES" envDefault:"480"`

	DefaultTaxRatePercent          float64       `env:"DEFAULT_TAX_RATE_PERCENT" envDefault:"0"`
	DiscountApprovalThresholdCents int64         `env:"DISCOUNT_APPROVAL_THRESHOLD_CENTS" envDefault:"0"`
	StatsCacheTTL                  time.Duration `env:"STATS_CACHE_TTL" envDefault:"60s"`

	Mpesa Mpesa `envPrefix:"MPESA_"`

	WorkerInterval time.Duration `env:"WORKER_INTERVAL" envDefault:"1m"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogOutput string `env:"LOG_OUTPUT" envDefault:"stdout"`
	LogPath   string `env:"LOG_PATH" envDefault:"logs"`

	SeedSuperAdminEmail    string `env:"SEED_SUPER_ADMIN_EMAIL"`
	SeedSuperAdminPassword string `env:"SEED_SUPER_ADMIN_PASSWORD"`
}

// Mpesa holds the Daraja credentials. An empty ConsumerKey disables STK push.
type Mpesa struct {
	BaseURL        string        `env:"BASE_URL" envDefault:"https://sandbox.safaricom.co.ke"`
	ConsumerKey    string        `env:"CONSUMER_KEY"`
	ConsumerSecret string        `env:"CONSUMER_SECRET"`
	ShortCode      string        `env:"SHORTCODE" envDefault:"174379"`
	Passkey        string        `env:"PASSKEY"`
	CallbackURL    string        `env:"CALLBACK_URL"`
	QueryInterval  time.Duration `env:"QUERY_INTERVAL" envDefault:"5s"`
	PendingTimeout time.Duration `env:"PENDING_TIMEOUT" envDefault:"3m"`
}

func (m Mpesa) Enabled() bool {
	return m.ConsumerKey != "" && m.ConsumerSecret != "" && m.Passkey != ""
}

// Load reads an optional .env file (ENV_FILE overrides the path) and then the
// process environment. Variables already set in the environment win.
func Load() (Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.WorkerInterval <= 0 {
		cfg.WorkerInterval = time.Minute
	}
	if cfg.Mpesa.QueryInterval <= 0 {
		cfg.Mpesa.QueryInterval = 5 * time.Second
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}
