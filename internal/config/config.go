package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Commit modes understood by the migration runner.
const (
	CommitPerWrite = "write"
	CommitPerRow   = "row"
	CommitPerRun   = "run"
)

type Config struct {
	Env               string        `mapstructure:"ENV"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	Port              string        `mapstructure:"PORT"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	SourceDatabaseURL string        `mapstructure:"SOURCE_DATABASE_URL"`
	JobsDir           string        `mapstructure:"JOBS_DIR"`
	CommitMode        string        `mapstructure:"COMMIT_MODE"`
	RunTimeout        time.Duration `mapstructure:"RUN_TIMEOUT"`
	LocationID        int64         `mapstructure:"OBS_LOCATION_ID"`
	CreatorID         int64         `mapstructure:"OBS_CREATOR_ID"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
}

// Load reads the configuration and requires DATABASE_URL.
func Load() (*Config, error) {
	cfg, err := Read()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// Read reads the configuration without requiring a database. Commands that
// only inspect job definitions use it.
func Read() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8000")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("COMMIT_MODE", CommitPerRow)
	v.SetDefault("RUN_TIMEOUT", "0s")
	v.SetDefault("OBS_LOCATION_ID", 1)
	v.SetDefault("OBS_CREATOR_ID", 1)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"ENV", "LOG_LEVEL", "PORT",
		"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"SOURCE_DATABASE_URL", "JOBS_DIR",
		"COMMIT_MODE", "RUN_TIMEOUT",
		"OBS_LOCATION_ID", "OBS_CREATOR_ID",
		"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CommitMode = strings.ToLower(strings.TrimSpace(cfg.CommitMode))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks the values that Load cannot default safely.
func (c *Config) Validate() error {
	switch c.CommitMode {
	case CommitPerWrite, CommitPerRow, CommitPerRun:
	default:
		return fmt.Errorf("COMMIT_MODE must be %q, %q or %q, got %q",
			CommitPerWrite, CommitPerRow, CommitPerRun, c.CommitMode)
	}
	if c.RunTimeout < 0 {
		return fmt.Errorf("RUN_TIMEOUT must not be negative, got %s", c.RunTimeout)
	}
	if c.LocationID <= 0 {
		return fmt.Errorf("OBS_LOCATION_ID must be positive, got %d", c.LocationID)
	}
	if c.CreatorID <= 0 {
		return fmt.Errorf("OBS_CREATOR_ID must be positive, got %d", c.CreatorID)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

// ValidateServe additionally requires auth settings outside development, so
// the job trigger API is never exposed unauthenticated.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	return nil
}
