/**
 * @description
 * This package handles the configuration management for the alumni-service. It uses
 * Viper to read configuration from environment variables and an optional .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the alumni-service.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	MigrationsEnabled    bool   `mapstructure:"MIGRATIONS_ENABLED"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	EventsExchange       string `mapstructure:"EVENTS_EXCHANGE"`
	NotificationQueue    string `mapstructure:"NOTIFICATION_QUEUE"`

	MTNBaseURL           string `mapstructure:"MTN_BASE_URL"`
	MTNSubscriptionKey   string `mapstructure:"MTN_COLLECTION_PRIMARY_KEY"`
	MTNAPIUser           string `mapstructure:"MTN_API_USER"`
	MTNAPIKey            string `mapstructure:"MTN_API_KEY"`
	MTNTargetEnvironment string `mapstructure:"MTN_TARGET_ENVIRONMENT"`
	MTNCurrency          string `mapstructure:"MTN_CURRENCY"`
	MTNCallbackURL       string `mapstructure:"MTN_CALLBACK_URL"`
	MTNHTTPTimeoutSecs   int    `mapstructure:"MTN_HTTP_TIMEOUT_SECONDS"`

	JWKSURL            string `mapstructure:"JWKS_URL"`
	JWTSecret          string `mapstructure:"JWT_SECRET"`
	JWTAudience        string `mapstructure:"JWT_AUDIENCE"`
	JWTIssuer          string `mapstructure:"JWT_ISSUER"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	PaymentInitiateRateLimitPerMinute int    `mapstructure:"PAYMENT_INITIATE_RATE_LIMIT_PER_MINUTE"`
	PendingPaymentPollSchedule        string `mapstructure:"PENDING_PAYMENT_POLL_SCHEDULE"`
	PendingPaymentMinAgeSeconds       int    `mapstructure:"PENDING_PAYMENT_MIN_AGE_SECONDS"`
	PendingPaymentBatchSize           int    `mapstructure:"PENDING_PAYMENT_BATCH_SIZE"`

	ReceiptOrganisation string `mapstructure:"RECEIPT_ORGANISATION"`
}

// LoadConfig reads configuration from environment variables and an optional .env in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("MIGRATIONS_ENABLED", true)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "alumni:rate_limit")
	viper.SetDefault("EVENTS_EXCHANGE", "alumni.events")
	viper.SetDefault("NOTIFICATION_QUEUE", "alumni_service.notifications")
	viper.SetDefault("MTN_BASE_URL", "https://sandbox.momodeveloper.mtn.com")
	viper.SetDefault("MTN_TARGET_ENVIRONMENT", "sandbox")
	viper.SetDefault("MTN_CURRENCY", "UGX")
	viper.SetDefault("MTN_HTTP_TIMEOUT_SECONDS", 30)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	viper.SetDefault("PAYMENT_INITIATE_RATE_LIMIT_PER_MINUTE", 5)
	viper.SetDefault("PENDING_PAYMENT_POLL_SCHEDULE", "@every 5m")
	viper.SetDefault("PENDING_PAYMENT_MIN_AGE_SECONDS", 120)
	viper.SetDefault("PENDING_PAYMENT_BATCH_SIZE", 50)
	viper.SetDefault("RECEIPT_ORGANISATION", "Alumni Aid - Uganda Christian University")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("MIGRATIONS_ENABLED")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("NOTIFICATION_QUEUE")
	_ = viper.BindEnv("MTN_BASE_URL")
	_ = viper.BindEnv("MTN_COLLECTION_PRIMARY_KEY", "MTN_COLLECTION_PRIMARY_KEY", "MTN_SUBSCRIPTION_KEY")
	_ = viper.BindEnv("MTN_API_USER")
	_ = viper.BindEnv("MTN_API_KEY")
	_ = viper.BindEnv("MTN_TARGET_ENVIRONMENT")
	_ = viper.BindEnv("MTN_CURRENCY")
	_ = viper.BindEnv("MTN_CALLBACK_URL")
	_ = viper.BindEnv("MTN_HTTP_TIMEOUT_SECONDS")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWT_AUDIENCE")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("PAYMENT_INITIATE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("PENDING_PAYMENT_POLL_SCHEDULE")
	_ = viper.BindEnv("PENDING_PAYMENT_MIN_AGE_SECONDS")
	_ = viper.BindEnv("PENDING_PAYMENT_BATCH_SIZE")
	_ = viper.BindEnv("RECEIPT_ORGANISATION")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "alumni:rate_limit"
	}
	config.MTNBaseURL = strings.TrimRight(strings.TrimSpace(config.MTNBaseURL), "/")
	config.MTNCallbackURL = strings.TrimSpace(config.MTNCallbackURL)

	if config.MTNHTTPTimeoutSecs <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive MTN_HTTP_TIMEOUT_SECONDS; using 30\" value=%d", config.MTNHTTPTimeoutSecs)
		config.MTNHTTPTimeoutSecs = 30
	}
	if config.PaymentInitiateRateLimitPerMinute < 0 {
		config.PaymentInitiateRateLimitPerMinute = 0
	}
	if strings.TrimSpace(config.PendingPaymentPollSchedule) == "" {
		config.PendingPaymentPollSchedule = "@every 5m"
	}
	if config.PendingPaymentMinAgeSeconds <= 0 {
		config.PendingPaymentMinAgeSeconds = 120
	}
	if config.PendingPaymentBatchSize <= 0 {
		config.PendingPaymentBatchSize = 50
	}
	if config.PendingPaymentBatchSize > 500 {
		log.Printf("level=warn component=config msg=\"pending payment batch too large; capping at 500\" value=%d", config.PendingPaymentBatchSize)
		config.PendingPaymentBatchSize = 500
	}

	return
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// MTNTimeout is the outbound timeout for MoMo API calls.
func (c Config) MTNTimeout() time.Duration {
	return time.Duration(c.MTNHTTPTimeoutSecs) * time.Second
}

// PendingPaymentMinAge is how long a payment must stay PENDING before the poll job checks it.
func (c Config) PendingPaymentMinAge() time.Duration {
	return time.Duration(c.PendingPaymentMinAgeSeconds) * time.Second
}
