/**
 * @description
 * This file handles configuration management for the scheduler-service.
 * It loads settings from environment variables, providing defaults for cycle
 * schedules, retry budgets and backoff tables.
 */
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the scheduler service.
type Config struct {
	DatabaseURL         string `mapstructure:"DATABASE_URL" validate:"required"`
	ChargeRelayerURL    string `mapstructure:"CHARGE_RELAYER_URL" validate:"required,url"`
	ChargeRelayerAPIKey string `mapstructure:"CHARGE_RELAYER_API_KEY"`

	BillingIntervalMinutes int           `mapstructure:"BILLING_INTERVAL_MINUTES" validate:"gte=1"`
	BillingMaxRetries      int           `mapstructure:"BILLING_MAX_RETRIES" validate:"gte=0"`
	BillingRetryDelay      time.Duration `mapstructure:"BILLING_RETRY_DELAY" validate:"gt=0"`
	BillingItemDelay       time.Duration `mapstructure:"BILLING_ITEM_DELAY" validate:"gte=0"`
	ChargeConfirmTimeout   time.Duration `mapstructure:"CHARGE_CONFIRM_TIMEOUT" validate:"gt=0"`
	ChargePollInterval     time.Duration `mapstructure:"CHARGE_POLL_INTERVAL" validate:"gt=0"`

	WebhookRetrySchedule  string        `mapstructure:"WEBHOOK_RETRY_SCHEDULE" validate:"required"`
	WebhookMaxAttempts    int           `mapstructure:"WEBHOOK_MAX_ATTEMPTS" validate:"gte=1"`
	WebhookBackoffSeconds string        `mapstructure:"WEBHOOK_BACKOFF_SECONDS" validate:"required"`
	WebhookBatchSize      int           `mapstructure:"WEBHOOK_BATCH_SIZE" validate:"gte=1"`
	WebhookTimeout        time.Duration `mapstructure:"WEBHOOK_TIMEOUT" validate:"gt=0"`
	WebhookItemDelay      time.Duration `mapstructure:"WEBHOOK_ITEM_DELAY" validate:"gte=0"`

	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	EventsExchange string `mapstructure:"EVENTS_EXCHANGE" validate:"required"`

	RedisURL     string        `mapstructure:"REDIS_URL"`
	CycleLockTTL time.Duration `mapstructure:"CYCLE_LOCK_TTL" validate:"gt=0"`

	ServerPort     string `mapstructure:"SERVER_PORT" validate:"required"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`
	AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
}

var envKeys = []string{
	"DATABASE_URL",
	"CHARGE_RELAYER_URL",
	"CHARGE_RELAYER_API_KEY",
	"BILLING_INTERVAL_MINUTES",
	"BILLING_MAX_RETRIES",
	"BILLING_RETRY_DELAY",
	"BILLING_ITEM_DELAY",
	"CHARGE_CONFIRM_TIMEOUT",
	"CHARGE_POLL_INTERVAL",
	"WEBHOOK_RETRY_SCHEDULE",
	"WEBHOOK_MAX_ATTEMPTS",
	"WEBHOOK_BACKOFF_SECONDS",
	"WEBHOOK_BATCH_SIZE",
	"WEBHOOK_TIMEOUT",
	"WEBHOOK_ITEM_DELAY",
	"RABBITMQ_URL",
	"EVENTS_EXCHANGE",
	"REDIS_URL",
	"CYCLE_LOCK_TTL",
	"SERVER_PORT",
	"INTERNAL_API_KEY",
	"AUTO_MIGRATE",
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	viper.SetDefault("BILLING_INTERVAL_MINUTES", 5)
	viper.SetDefault("BILLING_MAX_RETRIES", 3)
	viper.SetDefault("BILLING_RETRY_DELAY", "8h")
	viper.SetDefault("BILLING_ITEM_DELAY", "1s")
	viper.SetDefault("CHARGE_CONFIRM_TIMEOUT", "60s")
	viper.SetDefault("CHARGE_POLL_INTERVAL", "2s")
	viper.SetDefault("WEBHOOK_RETRY_SCHEDULE", "@every 2m")
	viper.SetDefault("WEBHOOK_MAX_ATTEMPTS", 5)
	viper.SetDefault("WEBHOOK_BACKOFF_SECONDS", "60,300,900,3600,21600")
	viper.SetDefault("WEBHOOK_BATCH_SIZE", 50)
	viper.SetDefault("WEBHOOK_TIMEOUT", "10s")
	viper.SetDefault("WEBHOOK_ITEM_DELAY", "200ms")
	viper.SetDefault("EVENTS_EXCHANGE", "subpay.events")
	viper.SetDefault("CYCLE_LOCK_TTL", "10m")
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("AUTO_MIGRATE", false)
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := config.WebhookBackoff(); err != nil {
		return nil, err
	}

	return &config, nil
}

// BillingSchedule returns the cron spec for the billing cycle.
func (c Config) BillingSchedule() string {
	return fmt.Sprintf("@every %dm", c.BillingIntervalMinutes)
}

// WebhookBackoff parses WEBHOOK_BACKOFF_SECONDS into a delay table.
func (c Config) WebhookBackoff() ([]time.Duration, error) {
	parts := strings.Split(c.WebhookBackoffSeconds, ",")
	table := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seconds, err := strconv.Atoi(part)
		if err != nil || seconds <= 0 {
			return nil, fmt.Errorf("WEBHOOK_BACKOFF_SECONDS: invalid delay %q", part)
		}
		table = append(table, time.Duration(seconds)*time.Second)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("WEBHOOK_BACKOFF_SECONDS must list at least one delay")
	}
	return table, nil
}
