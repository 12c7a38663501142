package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort        string   `env:"APP_PORT" envDefault:"3000"`
	AppEnv         string   `env:"APP_ENV" envDefault:"development"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	CookieDomain   string   `env:"COOKIE_DOMAIN"`

	// StorageBackend is "dynamo" or "memory".
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"dynamo"`
	AWSRegion      string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSEndpointURL string `env:"AWS_ENDPOINT_URL"` // empty in prod, LocalStack URL in dev
	AWSAccessKeyID string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey   string `env:"AWS_SECRET_ACCESS_KEY"`
	DynamoTables   DynamoTables `envPrefix:"DYNAMO_TABLE_"`

	Tokens     TokenConfig
	OTP        OTPConfig `envPrefix:"OTP_"`
	Mail       MailConfig
	RedisURL   string `env:"REDIS_URL"`
	RateLimit  RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Classifier ClassifierConfig `envPrefix:"CLASSIFIER_"`
	Log        LogConfig `envPrefix:"LOG_"`
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users      string `env:"USERS" envDefault:"users"`
	UserEmails string `env:"USER_EMAILS" envDefault:"user_emails"`
	OTPs       string `env:"OTPS" envDefault:"otps"`
}

// TokenConfig holds one HMAC secret per token kind. Secrets have no defaults.
type TokenConfig struct {
	AccessSecret       string        `env:"ACCESS_TOKEN_SECRET"`
	RefreshSecret      string        `env:"REFRESH_TOKEN_SECRET"`
	VerificationSecret string        `env:"VERIFICATION_TOKEN_SECRET"`
	AccessTTL          time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTTL         time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	VerificationTTL    time.Duration `env:"VERIFICATION_TOKEN_TTL" envDefault:"1h"`
}

type OTPConfig struct {
	Length      int           `env:"LENGTH" envDefault:"6"`
	TTL         time.Duration `env:"TTL" envDefault:"1h"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"10"`
}

type MailConfig struct {
	Host        string        `env:"SMTP_HOST" envDefault:"localhost"`
	Port        int           `env:"SMTP_PORT" envDefault:"1025"`
	Username    string        `env:"SMTP_USERNAME"`
	Password    string        `env:"SMTP_PASSWORD"`
	Encryption  string        `env:"SMTP_ENCRYPTION" envDefault:"none"` // none | starttls | tls | ssl
	FromAddress string        `env:"SMTP_FROM" envDefault:"noreply@ecolens.local"`
	Brand       string        `env:"EMAIL_BRAND" envDefault:"EcoLens"`
	Origin      string        `env:"ORIGIN"`
	VerifyPath  string        `env:"VERIFY_PATH" envDefault:"/verify-otp"`
	MaxRetries  int           `env:"MAIL_MAX_RETRIES" envDefault:"3"`
	RetryDelay  time.Duration `env:"MAIL_RETRY_DELAY" envDefault:"500ms"`
	SendTimeout time.Duration `env:"MAIL_SEND_TIMEOUT" envDefault:"10s"`
}

type RateLimitConfig struct {
	RPS    float64       `env:"RPS" envDefault:"5"`
	Burst  int           `env:"BURST" envDefault:"10"`
	Window time.Duration `env:"WINDOW" envDefault:"1m"`
	Prefix string        `env:"PREFIX" envDefault:"ecolens:rl:"`
}

type ClassifierConfig struct {
	URL     string        `env:"URL" envDefault:"https://wahb-amir-ecolens.hf.space/run/predict"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
	TopK    int           `env:"TOP_K" envDefault:"5"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Load parses configuration from the environment. The caller loads .env first.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.OTP.Length < 4 || cfg.OTP.Length > 10 {
		return nil, fmt.Errorf("OTP_LENGTH must be between 4 and 10, got %d", cfg.OTP.Length)
	}
	if cfg.OTP.MaxAttempts < 1 {
		return nil, fmt.Errorf("OTP_MAX_ATTEMPTS must be positive, got %d", cfg.OTP.MaxAttempts)
	}
	return cfg, nil
}

// IsProduction reports whether cookies must carry the Secure flag.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
