package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// DatabaseURL selects Postgres; when empty the engine runs on the in-memory store.
	DatabaseURL  string
	JWTSecretKey string
	ServerPort   int

	NATSURL           string
	NATSSubjectPrefix string

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicBaseURL   string

	ChipWinnerChips int
	ChipLoserChips  int

	ReminderBatchSize  int
	ReminderBatchDelay time.Duration

	SchedulerInterval  time.Duration
	CORSAllowedOrigins []string
}

// Load reads the configuration from the environment. A .env file is loaded
// first when present; variables already set win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		JWTSecretKey:      os.Getenv("JWT_SECRET_KEY"),
		NATSURL:           os.Getenv("NATS_URL"),
		NATSSubjectPrefix: getString("NATS_SUBJECT_PREFIX", "tournament"),
		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		R2PublicBaseURL:   os.Getenv("R2_PUBLIC_BASE_URL"),
	}
	if cfg.JWTSecretKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is not set")
	}

	var err error
	if cfg.ServerPort, err = getInt("SERVER_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.ServerPort <= 0 || cfg.ServerPort > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", cfg.ServerPort)
	}
	if cfg.ChipWinnerChips, err = getInt("CHIP_WINNER_CHIPS", 3); err != nil {
		return nil, err
	}
	if cfg.ChipLoserChips, err = getInt("CHIP_LOSER_CHIPS", 1); err != nil {
		return nil, err
	}
	if cfg.ChipWinnerChips < 0 || cfg.ChipLoserChips < 0 || cfg.ChipLoserChips > cfg.ChipWinnerChips {
		return nil, fmt.Errorf("chip awards must satisfy 0 <= CHIP_LOSER_CHIPS <= CHIP_WINNER_CHIPS, got %d and %d", cfg.ChipLoserChips, cfg.ChipWinnerChips)
	}
	if cfg.ReminderBatchSize, err = getInt("REMINDER_BATCH_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.ReminderBatchSize < 1 {
		return nil, fmt.Errorf("REMINDER_BATCH_SIZE must be positive, got %d", cfg.ReminderBatchSize)
	}
	if cfg.ReminderBatchDelay, err = getDuration("REMINDER_BATCH_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.SchedulerInterval, err = getDuration("SCHEDULER_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SchedulerInterval <= 0 {
		return nil, fmt.Errorf("SCHEDULER_INTERVAL must be positive, got %s", cfg.SchedulerInterval)
	}

	for _, origin := range strings.Split(getString("CORS_ALLOWED_ORIGINS", "*"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
		}
	}
	return cfg, nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}
