package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/stats")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected config to load, got error: %v", err)
	}

	if cfg.ServerPort != "8086" {
		t.Errorf("expected default port 8086, got %s", cfg.ServerPort)
	}
	if cfg.MarketplaceBaseURL != "https://api.avito.ru" {
		t.Errorf("unexpected default base URL %s", cfg.MarketplaceBaseURL)
	}
	if cfg.ExpensePollSchedule != "* * * * *" {
		t.Errorf("unexpected expense poll schedule %s", cfg.ExpensePollSchedule)
	}
	if cfg.DailyJobSchedule != "0 9 * * *" {
		t.Errorf("unexpected daily schedule %s", cfg.DailyJobSchedule)
	}
	if cfg.WeeklyJobSchedule != "30 9 * * 1" {
		t.Errorf("unexpected weekly schedule %s", cfg.WeeklyJobSchedule)
	}
	if cfg.BackfillDays != 7 {
		t.Errorf("expected backfill window 7, got %d", cfg.BackfillDays)
	}
	if cfg.RetentionDays != 30 {
		t.Errorf("expected retention 30, got %d", cfg.RetentionDays)
	}
	if cfg.ItemCacheTTLSeconds != 600 {
		t.Errorf("expected item cache TTL 600, got %d", cfg.ItemCacheTTLSeconds)
	}
}

func TestLoadConfig_RequiresDatabaseURL(t *testing.T) {
	viper.Reset()
	t.Setenv("DATABASE_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadConfig_EnvironmentOverridesDefaults(t *testing.T) {
	viper.Reset()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/stats")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("BACKFILL_DAYS", "14")
	t.Setenv("EXPENSE_POLL_SCHEDULE", "*/5 * * * *")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected config to load, got error: %v", err)
	}

	if cfg.ServerPort != "9090" {
		t.Errorf("expected overridden port 9090, got %s", cfg.ServerPort)
	}
	if cfg.BackfillDays != 14 {
		t.Errorf("expected overridden backfill window 14, got %d", cfg.BackfillDays)
	}
	if cfg.ExpensePollSchedule != "*/5 * * * *" {
		t.Errorf("expected overridden schedule, got %s", cfg.ExpensePollSchedule)
	}
}
