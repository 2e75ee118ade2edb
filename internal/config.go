package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"http_server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Payment        PaymentConfig        `mapstructure:"payment"`
	Site           SiteConfig           `mapstructure:"site"`
	Notification   NotificationConfig   `mapstructure:"notification"`
	Cancellation   CancellationConfig   `mapstructure:"cancellation"`
	Admin          AdminConfig          `mapstructure:"admin"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

type PaymentConfig struct {
	GatewayURL    string        `mapstructure:"gateway_url" validate:"required,url"`
	SecretKey     string        `mapstructure:"secret_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Currency      string        `mapstructure:"currency"`
	CallbackPath  string        `mapstructure:"callback_path"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type SiteConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	SuccessPath string `mapstructure:"success_path"`
	FailurePath string `mapstructure:"failure_path"`
	DevMode     bool   `mapstructure:"dev_mode"`
	// TrustForwardedHeaders is only safe behind a proxy that overwrites
	// X-Forwarded-Proto and X-Forwarded-Host.
	TrustForwardedHeaders bool `mapstructure:"trust_forwarded_headers"`
}

type NotificationConfig struct {
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`
	From         string `mapstructure:"from"`
	AdminEmail   string `mapstructure:"admin_email"`
	SupportEmail string `mapstructure:"support_email"`
}

type CancellationConfig struct {
	Window       time.Duration `mapstructure:"window"`
	TicketSecret string        `mapstructure:"ticket_secret"`
	TicketTTL    time.Duration `mapstructure:"ticket_ttl"`
}

type AdminConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
}

type ReconciliationConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	Workers    int           `mapstructure:"workers"`
	BatchSize  int           `mapstructure:"batch_size"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// LoadConfigFromEnv builds the configuration from plain environment variables,
// used for container deployments where no config.yml is mounted.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("PORT", 8080),
			BaseURL:           getEnv("BASE_URL", ""),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("WRITE_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Payment: PaymentConfig{
			GatewayURL:    getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			SecretKey:     getEnv("PAYSTACK_SECRET_KEY", ""),
			WebhookSecret: getEnv("PAYSTACK_WEBHOOK_SECRET", ""),
			Currency:      getEnv("PAYMENT_CURRENCY", "NGN"),
			CallbackPath:  getEnv("PAYMENT_CALLBACK_PATH", "/api/v1/payments/callback"),
			Timeout:       getEnvAsDuration("PAYMENT_TIMEOUT", 30*time.Second),
		},
		Site: SiteConfig{
			BaseURL:     getEnv("SITE_URL", ""),
			SuccessPath: getEnv("PAYMENT_SUCCESS_PATH", "/payment/success"),
			FailurePath: getEnv("PAYMENT_FAILURE_PATH", "/payment/failed"),
			DevMode:     getEnv("APP_ENV", "production") == "development",

			TrustForwardedHeaders: getEnvAsBool("TRUST_FORWARDED_HEADERS", false),
		},
		Notification: NotificationConfig{
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			From:         getEnv("MAIL_FROM", "no-reply@roomshare.local"),
			AdminEmail:   getEnv("ADMIN_EMAIL", ""),
			SupportEmail: getEnv("SUPPORT_EMAIL", ""),
		},
		Cancellation: CancellationConfig{
			Window:       getEnvAsDuration("CANCELLATION_WINDOW", 48*time.Hour),
			TicketSecret: getEnv("CANCELLATION_TICKET_SECRET", ""),
			TicketTTL:    getEnvAsDuration("CANCELLATION_TICKET_TTL", 2*time.Hour),
		},
		Admin: AdminConfig{
			Username:     getEnv("ADMIN_USERNAME", "admin"),
			PasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		},
		Reconciliation: ReconciliationConfig{
			Interval:   getEnvAsDuration("RECONCILE_INTERVAL", time.Minute),
			StaleAfter: getEnvAsDuration("RECONCILE_STALE_AFTER", 15*time.Minute),
			Workers:    getEnvAsInt("RECONCILE_WORKERS", 4),
			BatchSize:  getEnvAsInt("RECONCILE_BATCH_SIZE", 50),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills values a config file may leave out.
func (c *Config) ApplyDefaults() {
	if c.Payment.Currency == "" {
		c.Payment.Currency = "NGN"
	}
	if c.Payment.CallbackPath == "" {
		c.Payment.CallbackPath = "/api/v1/payments/callback"
	}
	if c.Payment.Timeout <= 0 {
		c.Payment.Timeout = 30 * time.Second
	}
	if c.Payment.WebhookSecret == "" {
		c.Payment.WebhookSecret = c.Payment.SecretKey
	}
	if c.Site.SuccessPath == "" {
		c.Site.SuccessPath = "/payment/success"
	}
	if c.Site.FailurePath == "" {
		c.Site.FailurePath = "/payment/failed"
	}
	if c.Cancellation.Window <= 0 {
		c.Cancellation.Window = 48 * time.Hour
	}
	if c.Cancellation.TicketTTL <= 0 {
		c.Cancellation.TicketTTL = 2 * time.Hour
	}
	if c.Reconciliation.Interval <= 0 {
		c.Reconciliation.Interval = time.Minute
	}
	if c.Reconciliation.StaleAfter <= 0 {
		c.Reconciliation.StaleAfter = 15 * time.Minute
	}
	if c.Reconciliation.Workers <= 0 {
		c.Reconciliation.Workers = 4
	}
	if c.Reconciliation.BatchSize <= 0 {
		c.Reconciliation.BatchSize = 50
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Payment.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payment config: %v", err))
	}

	if err := c.Site.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("site config: %v", err))
	}

	if err := c.Cancellation.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("cancellation config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

// Validate does not require the secret key: a missing secret is reported per
// request as a configuration error so the rest of the site keeps working.
func (c *PaymentConfig) Validate() error {
	if c.GatewayURL == "" {
		return errors.New("gateway_url is required")
	}
	if _, err := url.ParseRequestURI(c.GatewayURL); err != nil {
		return fmt.Errorf("invalid gateway_url: %w", err)
	}
	return nil
}

func (c *SiteConfig) Validate() error {
	if c.BaseURL == "" {
		return nil
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base_url %q", c.BaseURL)
	}
	return nil
}

func (c *CancellationConfig) Validate() error {
	if len(c.TicketSecret) < 32 {
		return errors.New("ticket_secret must be at least 32 characters")
	}
	return nil
}
