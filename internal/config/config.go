package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Patient deletion policies.
const (
	DeletePolicyBlock   = "block"
	DeletePolicyCascade = "cascade"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL            string        `mapstructure:"REDIS_URL"`
	SessionSigningKey   string        `mapstructure:"SESSION_SIGNING_KEY"`
	SessionTTL          time.Duration `mapstructure:"SESSION_TTL"`
	CORSOrigins         []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout      time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	PatientDeletePolicy string        `mapstructure:"PATIENT_DELETE_POLICY"`
	ClinicTimezone      string        `mapstructure:"CLINIC_TIMEZONE"`
	MigrationsDir       string        `mapstructure:"MIGRATIONS_DIR"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("PATIENT_DELETE_POLICY", DeletePolicyBlock)
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("SESSION_SIGNING_KEY")
	v.BindEnv("SESSION_TTL")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("REQUEST_TIMEOUT")
	v.BindEnv("PATIENT_DELETE_POLICY")
	v.BindEnv("CLINIC_TIMEZONE")
	v.BindEnv("MIGRATIONS_DIR")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves CLINIC_TIMEZONE. Calendar-day filters are evaluated in
// this location.
func (c *Config) Location() (*time.Location, error) {
	if c.ClinicTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Outside development
// a session signing key of at least 32 bytes is mandatory.
func (c *Config) Validate() error {
	if !c.IsDev() && c.SessionSigningKey == "" {
		return fmt.Errorf("SESSION_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.SessionSigningKey != "" && len(c.SessionSigningKey) < 32 {
		return fmt.Errorf("SESSION_SIGNING_KEY must be at least 32 bytes, got %d", len(c.SessionSigningKey))
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}

	switch c.PatientDeletePolicy {
	case DeletePolicyBlock, DeletePolicyCascade:
	default:
		return fmt.Errorf("PATIENT_DELETE_POLICY must be %q or %q, got %q",
			DeletePolicyBlock, DeletePolicyCascade, c.PatientDeletePolicy)
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	return nil
}
