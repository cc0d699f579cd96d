package common

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DB_URL", "sqlite::memory:")
	t.Setenv("GMAIL_SUBJECT_KEYWORDS", "Booking Confirmation, Receipt ,")
	t.Setenv("SPLITWISE_LOCK_WINDOW", "15m")

	cfg := LoadConfig()
	if cfg.Database.DSN != "sqlite::memory:" {
		t.Errorf("DSN = %q", cfg.Database.DSN)
	}
	if diff := cmp.Diff([]string{"Booking Confirmation", "Receipt"}, cfg.Gmail.SubjectKeywords); diff != "" {
		t.Errorf("keywords (-want +got):\n%s", diff)
	}
	if cfg.Splitwise.LockWindow != 15*time.Minute {
		t.Errorf("LockWindow = %s", cfg.Splitwise.LockWindow)
	}
	if cfg.Club.PlayersPerCourt != 6 || cfg.Club.Timezone != "Asia/Singapore" {
		t.Errorf("club = %+v", cfg.Club)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/club")
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }},
		{"bad timezone", func(c *Config) { c.Club.Timezone = "UTC" }},
		{"negative capacity", func(c *Config) { c.Club.PlayersPerCourt = -1 }},
		{"zero lock window", func(c *Config) { c.Splitwise.LockWindow = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if CodeOf(err) != "CONFIG_ERROR" || !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("Validate() = %v", err)
			}
		})
	}
}
