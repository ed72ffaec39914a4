package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration loaded from environment variables.
// A .env file in the working directory is honoured when present.
// DATABASE_URL and WEBHOOK_SECRET are required; everything else defaults.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Dispatch pipeline
	WorkerCount       int
	RetryPollInterval time.Duration
	RetryBatchLimit   int
	LeaseTimeout      time.Duration
	NotificationTTL   time.Duration

	// Rate limiting
	DefaultRateLimitPerMin int
	ChannelSendRate        int // provider-side tokens/sec per channel
	RedisAddr              string

	// Outbound calls
	ProviderTimeout time.Duration
	WebhookTimeout  time.Duration
	WebhookSecret   string

	// Channel credentials
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	TelegramBotToken string
	TelegramAPIURL   string

	SMSAPIURL     string
	SMSAccountSID string
	SMSAuthToken  string
	SMSFromNumber string

	// Logging
	LogFile string
}

func Load() (*Config, error) {
	// Missing .env is fine; real deployments set env vars directly.
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	secret := os.Getenv("WEBHOOK_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: dbURL,
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		WorkerCount:       getInt("WORKER_COUNT", 16),
		RetryPollInterval: getDuration("RETRY_POLL_INTERVAL", 60*time.Second),
		RetryBatchLimit:   getInt("RETRY_BATCH_LIMIT", 100),
		LeaseTimeout:      getDuration("LEASE_TIMEOUT", 5*time.Minute),
		NotificationTTL:   getDuration("NOTIFICATION_TTL", 24*time.Hour),

		DefaultRateLimitPerMin: getInt("DEFAULT_RATE_LIMIT_PER_MIN", 100),
		ChannelSendRate:        getInt("CHANNEL_SEND_RATE", 50),
		RedisAddr:              os.Getenv("REDIS_ADDR"),

		ProviderTimeout: getDuration("PROVIDER_TIMEOUT", 30*time.Second),
		WebhookTimeout:  getDuration("WEBHOOK_TIMEOUT", 30*time.Second),
		WebhookSecret:   secret,

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getInt("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     getEnv("SMTP_FROM", "no-reply@localhost"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramAPIURL:   getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),

		SMSAPIURL:     getEnv("SMS_API_URL", "https://api.twilio.com/2010-04-01/Accounts"),
		SMSAccountSID: os.Getenv("SMS_ACCOUNT_SID"),
		SMSAuthToken:  os.Getenv("SMS_AUTH_TOKEN"),
		SMSFromNumber: os.Getenv("SMS_FROM_NUMBER"),

		LogFile: os.Getenv("LOG_FILE"),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
