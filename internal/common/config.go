package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Gmail     GmailConfig
	Splitwise SplitwiseConfig
	Club      ClubConfig
	Scheduler SchedulerConfig
	Tracing   TracingConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
}

// GmailConfig holds mail provider credentials and search settings.
type GmailConfig struct {
	ClientID        string
	ClientSecret    string
	RefreshToken    string
	SubjectKeywords []string
	LookbackDays    int
	MaxResults      int
	Timeout         time.Duration
	// DropDir, when set, is watched for saved .eml/.html/.txt receipts.
	DropDir string
}

type SplitwiseConfig struct {
	APIKey       string
	GroupID      string
	CurrencyCode string
	LockWindow   time.Duration
	Timeout      time.Duration
	BaseURL      string
}

// ClubConfig holds session rules.
type ClubConfig struct {
	Timezone        string
	PlayersPerCourt int
	AutoCloseWindow time.Duration
	SettlementBatch int
}

type SchedulerConfig struct {
	Enabled    bool
	IngestCron string
	SettleCron string
}

type TracingConfig struct {
	Enabled     bool
	ServiceName string
}

// LoadConfig loads configuration from environment variables, after merging an
// optional .env file in the working directory.
func LoadConfig() *Config {
	_ = godotenv.Load()
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
		},
		Gmail: GmailConfig{
			ClientID:        getEnv("GMAIL_CLIENT_ID", ""),
			ClientSecret:    getEnv("GMAIL_CLIENT_SECRET", ""),
			RefreshToken:    getEnv("GMAIL_REFRESH_TOKEN", ""),
			SubjectKeywords: getEnvAsList("GMAIL_SUBJECT_KEYWORDS", []string{"Booking Confirmation"}),
			LookbackDays:    getEnvAsInt("GMAIL_LOOKBACK_DAYS", 7),
			MaxResults:      getEnvAsInt("GMAIL_MAX_RESULTS", 50),
			Timeout:         getEnvAsDuration("GMAIL_TIMEOUT", 30*time.Second),
			DropDir:         getEnv("MAIL_DROP_DIR", ""),
		},
		Splitwise: SplitwiseConfig{
			APIKey:       getEnv("SPLITWISE_API_KEY", ""),
			GroupID:      getEnv("SPLITWISE_GROUP_ID", ""),
			CurrencyCode: getEnv("SPLITWISE_CURRENCY", "SGD"),
			LockWindow:   getEnvAsDuration("SPLITWISE_LOCK_WINDOW", 10*time.Minute),
			Timeout:      getEnvAsDuration("SPLITWISE_TIMEOUT", 20*time.Second),
			BaseURL:      getEnv("SPLITWISE_BASE_URL", ""),
		},
		Club: ClubConfig{
			Timezone:        getEnv("CLUB_TIMEZONE", "Asia/Singapore"),
			PlayersPerCourt: getEnvAsInt("CLUB_PLAYERS_PER_COURT", 6),
			AutoCloseWindow: getEnvAsDuration("CLUB_AUTO_CLOSE_WINDOW", 24*time.Hour),
			SettlementBatch: getEnvAsInt("SETTLEMENT_BATCH_SIZE", 25),
		},
		Scheduler: SchedulerConfig{
			Enabled:    getEnvAsBool("SCHEDULER_ENABLED", true),
			IngestCron: getEnv("INGEST_CRON", "*/15 * * * *"),
			SettleCron: getEnv("SETTLE_CRON", "0 * * * *"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvAsBool("TRACING_ENABLED", false),
			ServiceName: getEnv("TRACING_SERVICE_NAME", "clubd"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Validate checks the settings every entrypoint needs. Mail and Splitwise
// credentials stay optional: the orchestrators report them per run.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR is required", ErrInvalidInput)
	}
	if c.Club.Timezone != "Asia/Singapore" {
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("CLUB_TIMEZONE %q is not supported", c.Club.Timezone), ErrInvalidInput)
	}
	if c.Club.PlayersPerCourt < 0 {
		return NewAppError("CONFIG_ERROR", "CLUB_PLAYERS_PER_COURT must be >= 0", ErrInvalidInput)
	}
	if c.Gmail.LookbackDays <= 0 || c.Gmail.MaxResults <= 0 {
		return NewAppError("CONFIG_ERROR", "GMAIL_LOOKBACK_DAYS and GMAIL_MAX_RESULTS must be positive", ErrInvalidInput)
	}
	if c.Splitwise.LockWindow <= 0 {
		return NewAppError("CONFIG_ERROR", "SPLITWISE_LOCK_WINDOW must be positive", ErrInvalidInput)
	}
	return nil
}
