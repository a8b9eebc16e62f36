/**
 * @description
 * This file handles configuration management for the stats service.
 * It loads settings from environment variables, providing defaults for cron
 * schedules, polling intervals, anomaly thresholds, and retention.
 */
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all configuration for the stats service.
type Config struct {
	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	RedisURL           string `mapstructure:"REDIS_URL"`
	RabbitMQURL        string `mapstructure:"RABBITMQ_URL"`
	MarketplaceBaseURL string `mapstructure:"MARKETPLACE_BASE_URL"`
	ServerPort         string `mapstructure:"SERVER_PORT"`

	// Cron schedules for the three ticks.
	ExpensePollSchedule string `mapstructure:"EXPENSE_POLL_SCHEDULE"`
	DailyJobSchedule    string `mapstructure:"DAILY_JOB_SCHEDULE"`
	WeeklyJobSchedule   string `mapstructure:"WEEKLY_JOB_SCHEDULE"`

	// Upstream behaviour.
	RequestTimeoutSeconds int `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	BackfillDelayMillis   int `mapstructure:"BACKFILL_DELAY_MILLIS"`
	BackfillDays          int `mapstructure:"BACKFILL_DAYS"`
	RetentionDays         int `mapstructure:"RETENTION_DAYS"`
	ItemCacheTTLSeconds   int `mapstructure:"ITEM_CACHE_TTL_SECONDS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("MARKETPLACE_BASE_URL", "https://api.avito.ru")
	viper.SetDefault("EXPENSE_POLL_SCHEDULE", "* * * * *")  // Every minute.
	viper.SetDefault("DAILY_JOB_SCHEDULE", "0 9 * * *")     // At 09:00 every day.
	viper.SetDefault("WEEKLY_JOB_SCHEDULE", "30 9 * * 1")   // At 09:30 on Monday.
	viper.SetDefault("REQUEST_TIMEOUT_SECONDS", 10)
	viper.SetDefault("BACKFILL_DELAY_MILLIS", 1000)
	viper.SetDefault("BACKFILL_DAYS", 7)
	viper.SetDefault("RETENTION_DAYS", 30)
	viper.SetDefault("ITEM_CACHE_TTL_SECONDS", 600)
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("MARKETPLACE_BASE_URL")
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("EXPENSE_POLL_SCHEDULE")
	_ = viper.BindEnv("DAILY_JOB_SCHEDULE")
	_ = viper.BindEnv("WEEKLY_JOB_SCHEDULE")
	_ = viper.BindEnv("REQUEST_TIMEOUT_SECONDS")
	_ = viper.BindEnv("BACKFILL_DELAY_MILLIS")
	_ = viper.BindEnv("BACKFILL_DAYS")
	_ = viper.BindEnv("RETENTION_DAYS")
	_ = viper.BindEnv("ITEM_CACHE_TTL_SECONDS")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return &config, nil
}
