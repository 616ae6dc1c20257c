package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string `mapstructure:"PORT"`
	Env                string `mapstructure:"ENV"`
	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32  `mapstructure:"DB_MIN_CONNS"`
	SlotHashSecret     string `mapstructure:"SLOT_HASH_SECRET"`
	RegenHorizonDays   int    `mapstructure:"REGEN_HORIZON_DAYS"`
	ReservationTTLMins int    `mapstructure:"RESERVATION_TTL_MINUTES"`
	RequestTimeoutSecs int    `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
}

// devHashSecret is only ever used when ENV=development; Validate refuses to
// start any other environment without an explicit SLOT_HASH_SECRET.
const devHashSecret = "dev-only-slot-hash-secret"

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REGEN_HORIZON_DAYS", 28)
	v.SetDefault("RESERVATION_TTL_MINUTES", 15)
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("SLOT_HASH_SECRET")
	v.BindEnv("REGEN_HORIZON_DAYS")
	v.BindEnv("RESERVATION_TTL_MINUTES")
	v.BindEnv("REQUEST_TIMEOUT_SECONDS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.SlotHashSecret == "" {
		cfg.SlotHashSecret = devHashSecret
		log.Println("WARNING: SLOT_HASH_SECRET not set; using the development fallback.")
		log.Println("WARNING: Slot integrity hashes from this process are NOT portable.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run. Outside development
// SLOT_HASH_SECRET must be set explicitly: slot integrity hashes are keyed on
// it, so a guessable default would make every slot reference forgeable.
func (c *Config) Validate() error {
	if !c.IsDev() && (c.SlotHashSecret == "" || c.SlotHashSecret == devHashSecret) {
		return fmt.Errorf("SLOT_HASH_SECRET is required when ENV=%q; refusing to start with the development fallback", c.Env)
	}
	if c.RegenHorizonDays <= 0 {
		return fmt.Errorf("REGEN_HORIZON_DAYS must be positive, got %d", c.RegenHorizonDays)
	}
	if c.ReservationTTLMins <= 0 {
		return fmt.Errorf("RESERVATION_TTL_MINUTES must be positive, got %d", c.ReservationTTLMins)
	}
	return nil
}

// RequestTimeout returns the per-request handler timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// ReservationTTL returns the default hold duration for slot reservations.
func (c *Config) ReservationTTL() time.Duration {
	return time.Duration(c.ReservationTTLMins) * time.Minute
}
