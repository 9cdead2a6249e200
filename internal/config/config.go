package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	GRPC     GRPCConfig
	Dispatch DispatchConfig
	SMS      SMSConfig
	Push     PushConfig
	Email    EmailConfig
	Redis    RedisConfig
	Ingest   IngestConfig
	Sweep    SweepConfig
	Response ResponseConfig
	Auth     AuthConfig
	DB       DatabaseConfig
	Logging  LoggingConfig
}

type GRPCConfig struct {
	Port int
}

type ServerConfig struct {
	Host      string
	Port      int
	RateLimit int // requests per second per client address
}

// DispatchConfig bounds the per-channel fan-out. Rates are sends per second,
// zero disables the limiter for that channel.
type DispatchConfig struct {
	Workers         int
	BatchSize       int
	SMSRate         float64
	PushRate        float64
	EmailRate       float64
	ProviderTimeout time.Duration
}

type SMSConfig struct {
	Enabled  bool
	URL      string
	APIKey   string
	SenderID string
}

type PushConfig struct {
	Enabled   bool
	URL       string
	ServerKey string
}

type EmailConfig struct {
	Enabled  bool
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
}

type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	ReceiptChannel string
}

type IngestConfig struct {
	Workers    int
	BufferSize int
}

type SweepConfig struct {
	Interval time.Duration
}

// ResponseConfig holds the citizen response policy. ExpiredGrace of zero
// rejects responses to expired alerts.
type ResponseConfig struct {
	ExpiredGrace time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:      getEnv("SERVER_HOST", "localhost"),
			Port:      getEnvInt("SERVER_PORT", 8080),
			RateLimit: getEnvInt("SERVER_RATE_LIMIT", 20),
		},
		GRPC: GRPCConfig{
			Port: getEnvInt("GRPC_PORT", 50051),
		},
		Dispatch: DispatchConfig{
			Workers:         getEnvInt("DISPATCH_WORKERS", 16),
			BatchSize:       getEnvInt("DISPATCH_BATCH_SIZE", 200),
			SMSRate:         getEnvFloat("DISPATCH_SMS_RATE", 50),
			PushRate:        getEnvFloat("DISPATCH_PUSH_RATE", 500),
			EmailRate:       getEnvFloat("DISPATCH_EMAIL_RATE", 20),
			ProviderTimeout: getEnvDuration("DISPATCH_PROVIDER_TIMEOUT", 10*time.Second),
		},
		SMS: SMSConfig{
			Enabled:  getEnvBool("SMS_ENABLED", false),
			URL:      getEnv("SMS_URL", ""),
			APIKey:   getEnv("SMS_API_KEY", ""),
			SenderID: getEnv("SMS_SENDER_ID", "ALERTS"),
		},
		Push: PushConfig{
			Enabled:   getEnvBool("PUSH_ENABLED", false),
			URL:       getEnv("PUSH_URL", ""),
			ServerKey: getEnv("PUSH_SERVER_KEY", ""),
		},
		Email: EmailConfig{
			Enabled:  getEnvBool("EMAIL_ENABLED", false),
			SMTPHost: getEnv("SMTP_HOST", ""),
			SMTPPort: getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", ""),
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", ""),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvInt("REDIS_DB", 0),
			ReceiptChannel: getEnv("REDIS_RECEIPT_CHANNEL", "delivery_receipts"),
		},
		Ingest: IngestConfig{
			Workers:    getEnvInt("INGEST_WORKERS", 2),
			BufferSize: getEnvInt("INGEST_BUFFER_SIZE", 100),
		},
		Sweep: SweepConfig{
			Interval: getEnvDuration("SWEEP_INTERVAL", time.Minute),
		},
		Response: ResponseConfig{
			ExpiredGrace: getEnvDuration("RESPONSE_EXPIRED_GRACE", 0),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/emergency-alerts.db"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimit < 1 {
		return fmt.Errorf("server rate limit must be at least 1")
	}
	if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Dispatch.Workers < 1 {
		return fmt.Errorf("dispatch workers must be at least 1")
	}
	if c.Dispatch.BatchSize < 1 {
		return fmt.Errorf("dispatch batch size must be at least 1")
	}
	if c.Dispatch.SMSRate < 0 || c.Dispatch.PushRate < 0 || c.Dispatch.EmailRate < 0 {
		return fmt.Errorf("dispatch rates must not be negative")
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest workers must be at least 1")
	}
	if c.Sweep.Interval < time.Second {
		return fmt.Errorf("sweep interval must be at least 1 second")
	}
	if c.Response.ExpiredGrace < 0 {
		return fmt.Errorf("response expired grace must not be negative")
	}

	if c.SMS.Enabled && c.SMS.URL == "" {
		return fmt.Errorf("SMS_URL is required when SMS is enabled")
	}
	if c.Push.Enabled && c.Push.URL == "" {
		return fmt.Errorf("PUSH_URL is required when push is enabled")
	}
	if c.Email.Enabled && (c.Email.SMTPHost == "" || c.Email.From == "") {
		return fmt.Errorf("SMTP_HOST and SMTP_FROM are required when email is enabled")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
