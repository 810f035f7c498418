package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Host           string   `yaml:"host"`
		Port           int      `yaml:"port"`
		Env            string   `yaml:"env"`
		PublicURL      string   `yaml:"public_url"`
		RequestTimeout int      `yaml:"request_timeout"` // секунды
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Database struct {
		DSN             string `yaml:"url"`
		MaxOpenConns    int    `yaml:"max_open_conns"`
		MaxIdleConns    int    `yaml:"max_idle_conns"`
		AutoMigrate     bool   `yaml:"auto_migrate"`
		ListenForOutbox bool   `yaml:"listen_for_outbox"`
	} `yaml:"database"`

	JWT struct {
		Secret string `yaml:"secret"`
		TTL    int    `yaml:"ttl"` // минуты
	} `yaml:"jwt"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Gateway struct {
		Mode       string  `yaml:"mode"` // live, sandbox
		BaseURL    string  `yaml:"base_url"`
		MerchantID string  `yaml:"merchant_id"`
		SecretKey  string  `yaml:"secret_key"`
		ReturnURL  string  `yaml:"return_url"`
		CancelURL  string  `yaml:"cancel_url"`
		NotifyURL  string  `yaml:"notify_url"`
		Timeout    int     `yaml:"timeout"` // секунды
		RPS        float64 `yaml:"rps"`
		Burst      int     `yaml:"burst"`
	} `yaml:"gateway"`

	Email struct {
		Enabled      bool   `yaml:"enabled"`
		SMTPHost     string `yaml:"smtp_host"`
		SMTPPort     int    `yaml:"smtp_port"`
		SMTPUsername string `yaml:"smtp_user"`
		SMTPPassword string `yaml:"smtp_password"`
		FromEmail    string `yaml:"from_email"`
		FromName     string `yaml:"from_name"`
	} `yaml:"email"`

	Fees struct {
		PlatformFeePercent float64 `yaml:"platform_fee_percent"`
		PaymentFeeCard     float64 `yaml:"payment_fee_card"`
		PaymentFeeEft      float64 `yaml:"payment_fee_eft"`
	} `yaml:"fees"`

	Milestones struct {
		MaxRevisionsDefault int `yaml:"max_revisions_default"`
	} `yaml:"milestones"`

	Payouts struct {
		BackoffSeconds []int  `yaml:"backoff_seconds"`
		Schedule       string `yaml:"schedule"`
		BatchSize      int    `yaml:"batch_size"`
	} `yaml:"payouts"`

	Applications struct {
		CoverLetterMin int `yaml:"cover_letter_min"`
		CoverLetterMax int `yaml:"cover_letter_max"`
		ActiveLimit    int `yaml:"active_limit"`
	} `yaml:"applications"`

	Outbox struct {
		Schedule    string `yaml:"schedule"`
		BatchSize   int    `yaml:"batch_size"`
		MaxAttempts int    `yaml:"max_attempts"`
		// LeaseSeconds - через сколько неподтвержденный захват события считается брошенным
		LeaseSeconds int `yaml:"lease_seconds"`
	} `yaml:"outbox"`

	Checkout struct {
		TTLMinutes int    `yaml:"ttl_minutes"`
		Schedule   string `yaml:"schedule"`
	} `yaml:"checkout"`

	Disputes struct {
		EscalateAfterHours int    `yaml:"escalate_after_hours"`
		Schedule           string `yaml:"schedule"`
	} `yaml:"disputes"`

	Admin struct {
		ProfileID   string `yaml:"profile_id"`
		Email       string `yaml:"email"`
		DisplayName string `yaml:"display_name"`
	} `yaml:"admin"`

	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

var AppConfig *Config

// Default возвращает конфигурацию со всеми значениями по умолчанию
func Default() *Config {
	var cfg Config

	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	cfg.Server.Env = "development"
	cfg.Server.PublicURL = "http://localhost:8080"
	cfg.Server.RequestTimeout = 15

	cfg.Database.MaxOpenConns = 20
	cfg.Database.MaxIdleConns = 5
	cfg.Database.AutoMigrate = true
	cfg.Database.ListenForOutbox = true

	cfg.JWT.TTL = 60

	cfg.Redis.Channel = "trustwork:realtime"

	cfg.Gateway.Mode = "sandbox"
	cfg.Gateway.Timeout = 10
	cfg.Gateway.RPS = 5
	cfg.Gateway.Burst = 10

	cfg.Email.SMTPPort = 587
	cfg.Email.FromName = "TrustWork"

	cfg.Fees.PlatformFeePercent = 10.0
	cfg.Fees.PaymentFeeCard = 3.5
	cfg.Fees.PaymentFeeEft = 0.85

	cfg.Milestones.MaxRevisionsDefault = 2

	cfg.Payouts.BackoffSeconds = []int{30, 120, 600}
	cfg.Payouts.Schedule = "@every 30s"
	cfg.Payouts.BatchSize = 50

	cfg.Applications.CoverLetterMin = 50
	cfg.Applications.CoverLetterMax = 5000
	cfg.Applications.ActiveLimit = 1

	cfg.Outbox.Schedule = "@every 5s"
	cfg.Outbox.BatchSize = 100
	cfg.Outbox.MaxAttempts = 3
	cfg.Outbox.LeaseSeconds = 60

	cfg.Checkout.TTLMinutes = 60
	cfg.Checkout.Schedule = "@every 5m"

	cfg.Disputes.EscalateAfterHours = 72
	cfg.Disputes.Schedule = "@hourly"

	cfg.Admin.DisplayName = "TrustWork Administration"

	cfg.RateLimit.RPS = 10
	cfg.RateLimit.Burst = 20

	return &cfg
}

// LoadConfig читает config.yaml поверх значений по умолчанию,
// затем применяет переменные окружения (.env подхватывается, если есть).
func LoadConfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load .env: %v", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	AppConfig = cfg
}

// Load собирает конфигурацию. Отсутствующий файл не ошибка: остаются дефолты и окружение.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file at %s: %w", path, err)
		}
	case os.IsNotExist(err):
		log.Printf("Config file %s not found, using defaults and environment", path)
	default:
		return nil, fmt.Errorf("failed to open config file at %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Database.DSN, "DATABASE_URL")
	setString(&cfg.Server.Env, "SERVER_ENV")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Server.PublicURL, "PUBLIC_URL")
	setString(&cfg.JWT.Secret, "JWT_SECRET")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Gateway.Mode, "GATEWAY_MODE")
	setString(&cfg.Gateway.BaseURL, "GATEWAY_BASE_URL")
	setString(&cfg.Gateway.MerchantID, "GATEWAY_MERCHANT_ID")
	setString(&cfg.Gateway.SecretKey, "GATEWAY_SECRET_KEY")
	setString(&cfg.Email.SMTPHost, "SMTP_HOST")
	setInt(&cfg.Email.SMTPPort, "SMTP_PORT")
	setString(&cfg.Email.SMTPUsername, "SMTP_USER")
	setString(&cfg.Email.SMTPPassword, "SMTP_PASSWORD")
	setFloat(&cfg.Fees.PlatformFeePercent, "PLATFORM_FEE_PERCENT")
	setString(&cfg.Admin.ProfileID, "FIRST_ADMIN_ID")
	setString(&cfg.Admin.Email, "FIRST_ADMIN_EMAIL")

	if v := os.Getenv("PAYOUT_BACKOFF_SECONDS"); v != "" {
		var backoff []int
		for _, part := range strings.Split(v, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				log.Printf("Ignoring invalid PAYOUT_BACKOFF_SECONDS entry %q", part)
				continue
			}
			backoff = append(backoff, n)
		}
		if len(backoff) > 0 {
			cfg.Payouts.BackoffSeconds = backoff
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// Validate проверяет значения, без которых сервис работать не может
func (c *Config) Validate() error {
	if c.Fees.PlatformFeePercent < 0 || c.Fees.PlatformFeePercent >= 100 {
		return fmt.Errorf("fees.platform_fee_percent must be in [0, 100)")
	}
	if c.Applications.CoverLetterMin > c.Applications.CoverLetterMax {
		return fmt.Errorf("applications.cover_letter_min must not exceed cover_letter_max")
	}
	if c.Applications.ActiveLimit < 1 {
		return fmt.Errorf("applications.active_limit must be at least 1")
	}
	if len(c.Payouts.BackoffSeconds) == 0 {
		return fmt.Errorf("payouts.backoff_seconds must not be empty")
	}
	if c.Gateway.Mode == "live" && (c.Gateway.BaseURL == "" || c.Gateway.SecretKey == "") {
		return fmt.Errorf("gateway.base_url and gateway.secret_key are required in live mode")
	}
	return nil
}

// IsProduction - режим без отладочных деталей в ответах
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// PayoutBackoff возвращает задержку перед попыткой номер attempt (с 1)
func (c *Config) PayoutBackoff(attempt int) time.Duration {
	steps := c.Payouts.BackoffSeconds
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(steps) {
		idx = len(steps) - 1
	}
	return time.Duration(steps[idx]) * time.Second
}

func GetConfig() *Config {
	if AppConfig == nil {
		LoadConfig()
	}
	return AppConfig
}
