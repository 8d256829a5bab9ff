/**
 * @description
 * Configuration management for the incorporation service. Values come from
 * environment variables, with an optional .env file for local development.
 *
 * @dependencies
 * - github.com/spf13/viper
 */
package config

import (
	"errors"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Email transport selectors.
const (
	EmailTransportSMTP  = "smtp"
	EmailTransportQueue = "queue"
)

// Config holds all configuration for the API process.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	OrderRateLimitPerMinute int    `mapstructure:"ORDER_RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	EventsExchange          string `mapstructure:"EVENTS_EXCHANGE"`
	MailQueue               string `mapstructure:"MAIL_QUEUE"`
	JWKSURL                 string `mapstructure:"JWKS_URL"`
	SessionJWTSecret        string `mapstructure:"SESSION_JWT_SECRET"`
	SessionIssuer           string `mapstructure:"SESSION_ISSUER"`
	InternalAPIKey          string `mapstructure:"INTERNAL_API_KEY"`
	AppBaseURL              string `mapstructure:"APP_BASE_URL"`
	LoginPath               string `mapstructure:"LOGIN_PATH"`
	EmailFrom               string `mapstructure:"EMAIL_FROM"`
	EmailTransport          string `mapstructure:"EMAIL_TRANSPORT"`
	SMTPHost                string `mapstructure:"SMTP_HOST"`
	SMTPPort                int    `mapstructure:"SMTP_PORT"`
	SMTPUsername            string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword            string `mapstructure:"SMTP_PASSWORD"`
	ReminderStaleAfterHours int    `mapstructure:"REMINDER_STALE_AFTER_HOURS"`
	ReminderBatchSize       int    `mapstructure:"REMINDER_BATCH_SIZE"`
	ReminderConcurrency     int    `mapstructure:"REMINDER_CONCURRENCY"`
}

// SchedulerConfig holds configuration for the cron process.
type SchedulerConfig struct {
	IncorporationServiceURL string `mapstructure:"INCORPORATION_SERVICE_URL"`
	InternalAPIKey          string `mapstructure:"INTERNAL_API_KEY"`
	PaymentReminderSchedule string `mapstructure:"PAYMENT_REMINDER_SCHEDULE"`
}

// LoadConfig reads the API configuration. path is searched for an optional .env file.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "scg:rate_limit")
	viper.SetDefault("ORDER_RATE_LIMIT_PER_MINUTE", 20)
	viper.SetDefault("EVENTS_EXCHANGE", "incorporation_events")
	viper.SetDefault("MAIL_QUEUE", "mail.outbound")
	viper.SetDefault("APP_BASE_URL", "http://localhost:3000")
	viper.SetDefault("LOGIN_PATH", "/login")
	viper.SetDefault("EMAIL_FROM", "SCG Incorporations <no-reply@scg.local>")
	viper.SetDefault("SMTP_PORT", 587)
	viper.SetDefault("REMINDER_STALE_AFTER_HOURS", 24)
	viper.SetDefault("REMINDER_BATCH_SIZE", 50)
	viper.SetDefault("REMINDER_CONCURRENCY", 4)

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("ORDER_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("MAIL_QUEUE")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("SESSION_JWT_SECRET")
	_ = viper.BindEnv("SESSION_ISSUER")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("APP_BASE_URL")
	_ = viper.BindEnv("LOGIN_PATH")
	_ = viper.BindEnv("EMAIL_FROM")
	_ = viper.BindEnv("EMAIL_TRANSPORT")
	_ = viper.BindEnv("SMTP_HOST")
	_ = viper.BindEnv("SMTP_PORT")
	_ = viper.BindEnv("SMTP_USERNAME")
	_ = viper.BindEnv("SMTP_PASSWORD")
	_ = viper.BindEnv("REMINDER_STALE_AFTER_HOURS")
	_ = viper.BindEnv("REMINDER_BATCH_SIZE")
	_ = viper.BindEnv("REMINDER_CONCURRENCY")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.AppBaseURL = strings.TrimSuffix(strings.TrimSpace(config.AppBaseURL), "/")
	config.EmailTransport = strings.ToLower(strings.TrimSpace(config.EmailTransport))
	if config.EmailTransport == "" && strings.TrimSpace(config.SMTPHost) != "" {
		config.EmailTransport = EmailTransportSMTP
	}
	if config.ReminderStaleAfterHours <= 0 {
		config.ReminderStaleAfterHours = 24
	}
	if config.ReminderBatchSize <= 0 {
		config.ReminderBatchSize = 50
	}

	if config.DatabaseURL == "" {
		return config, errors.New("DATABASE_URL is required")
	}
	if strings.TrimSpace(config.JWKSURL) == "" && strings.TrimSpace(config.SessionJWTSecret) == "" {
		return config, errors.New("one of JWKS_URL or SESSION_JWT_SECRET is required")
	}
	switch config.EmailTransport {
	case "", EmailTransportSMTP, EmailTransportQueue:
	default:
		return config, errors.New("EMAIL_TRANSPORT must be one of smtp, queue or empty")
	}

	return config, nil
}

// LoadSchedulerConfig reads configuration for the scheduler process.
func LoadSchedulerConfig() (*SchedulerConfig, error) {
	viper.SetDefault("INCORPORATION_SERVICE_URL", "http://localhost:8080")
	viper.SetDefault("PAYMENT_REMINDER_SCHEDULE", "0 */6 * * *") // Every six hours.
	viper.AutomaticEnv()

	_ = viper.BindEnv("INCORPORATION_SERVICE_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("PAYMENT_REMINDER_SCHEDULE")

	var config SchedulerConfig
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	config.IncorporationServiceURL = strings.TrimSuffix(strings.TrimSpace(config.IncorporationServiceURL), "/")
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		return nil, errors.New("INTERNAL_API_KEY is required for the scheduler")
	}

	return &config, nil
}
