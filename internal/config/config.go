// Package config provides Viper-based configuration loading for the combat server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings for the session snapshot store.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the "host:port" Redis address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// CombatConfig holds combat session tunables, read at session creation and
// round time.
type CombatConfig struct {
	// RoundDurationMs is the submission window length for one round.
	RoundDurationMs int `mapstructure:"round_duration_ms"`
	// MaxRoundDurationMs is the hard ceiling after which a round resolves
	// with implicit passes for missing actors. Must be >= RoundDurationMs.
	MaxRoundDurationMs int `mapstructure:"max_round_duration_ms"`
	// FleeSuccessChance is the probability in [0,1] that a flee attempt succeeds.
	FleeSuccessChance float64 `mapstructure:"flee_success_chance"`
	// FleeCooldownRounds is the number of rounds a combatant must wait
	// between flee attempts.
	FleeCooldownRounds int `mapstructure:"flee_cooldown_rounds"`
	// MaxCombatRounds caps a session's round count; exceeding it ends the session.
	MaxCombatRounds int `mapstructure:"max_combat_rounds"`
	// SessionTimeoutMs is the inactivity bound after which a stalled session
	// is force-ended.
	SessionTimeoutMs int `mapstructure:"session_timeout_ms"`
	// ManaRegenPerRound is restored to every living combatant at end of round.
	ManaRegenPerRound int `mapstructure:"mana_regen_per_round"`
	// StaminaRegenPerRound is restored to every living combatant at end of round.
	StaminaRegenPerRound int `mapstructure:"stamina_regen_per_round"`
	// EndedSessionTTL is how long an ENDED session snapshot is retained
	// before the store expires it.
	EndedSessionTTL time.Duration `mapstructure:"ended_session_ttl"`
	// EventRetention is how long event log rows are kept before the
	// retention job purges them.
	EventRetention time.Duration `mapstructure:"event_retention"`
}

// RoundDuration returns the submission window as a time.Duration.
func (c CombatConfig) RoundDuration() time.Duration {
	return time.Duration(c.RoundDurationMs) * time.Millisecond
}

// MaxRoundDuration returns the hard round ceiling as a time.Duration.
func (c CombatConfig) MaxRoundDuration() time.Duration {
	return time.Duration(c.MaxRoundDurationMs) * time.Millisecond
}

// SessionTimeout returns the stalled-session bound as a time.Duration.
func (c CombatConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMs) * time.Millisecond
}

// Config is the top-level application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Combat   CombatConfig   `mapstructure:"combat"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateDatabase(c.Database); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRedis(c.Redis); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateCombat(c.Combat); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRedis(r RedisConfig) error {
	var errs []string
	if r.Host == "" {
		errs = append(errs, "redis.host must not be empty")
	}
	if r.Port < 1 || r.Port > 65535 {
		errs = append(errs, fmt.Sprintf("redis.port must be 1-65535, got %d", r.Port))
	}
	if r.DB < 0 {
		errs = append(errs, fmt.Sprintf("redis.db must be >= 0, got %d", r.DB))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateCombat(c CombatConfig) error {
	var errs []string
	if c.RoundDurationMs < 1 {
		errs = append(errs, fmt.Sprintf("combat.round_duration_ms must be >= 1, got %d", c.RoundDurationMs))
	}
	if c.MaxRoundDurationMs < c.RoundDurationMs {
		errs = append(errs, fmt.Sprintf(
			"combat.max_round_duration_ms must be >= combat.round_duration_ms, got %d < %d",
			c.MaxRoundDurationMs, c.RoundDurationMs))
	}
	if c.FleeSuccessChance < 0 || c.FleeSuccessChance > 1 {
		errs = append(errs, fmt.Sprintf("combat.flee_success_chance must be in [0,1], got %g", c.FleeSuccessChance))
	}
	if c.FleeCooldownRounds < 0 {
		errs = append(errs, fmt.Sprintf("combat.flee_cooldown_rounds must be >= 0, got %d", c.FleeCooldownRounds))
	}
	if c.MaxCombatRounds < 1 {
		errs = append(errs, fmt.Sprintf("combat.max_combat_rounds must be >= 1, got %d", c.MaxCombatRounds))
	}
	if c.SessionTimeoutMs < c.MaxRoundDurationMs {
		errs = append(errs, fmt.Sprintf(
			"combat.session_timeout_ms must be >= combat.max_round_duration_ms, got %d < %d",
			c.SessionTimeoutMs, c.MaxRoundDurationMs))
	}
	if c.ManaRegenPerRound < 0 {
		errs = append(errs, fmt.Sprintf("combat.mana_regen_per_round must be >= 0, got %d", c.ManaRegenPerRound))
	}
	if c.StaminaRegenPerRound < 0 {
		errs = append(errs, fmt.Sprintf("combat.stamina_regen_per_round must be >= 0, got %d", c.StaminaRegenPerRound))
	}
	if c.EndedSessionTTL < 0 {
		errs = append(errs, "combat.ended_session_ttl must not be negative")
	}
	if c.EventRetention < 0 {
		errs = append(errs, "combat.event_retention must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with DUSKMIRE_ prefix
	v.SetEnvPrefix("DUSKMIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	if v == nil {
		return Config{}, errors.New("viper instance must not be nil")
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "duskmire")
	v.SetDefault("database.password", "duskmire")
	v.SetDefault("database.name", "duskmire")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("combat.round_duration_ms", 15000)
	v.SetDefault("combat.max_round_duration_ms", 30000)
	v.SetDefault("combat.flee_success_chance", 0.5)
	v.SetDefault("combat.flee_cooldown_rounds", 2)
	v.SetDefault("combat.max_combat_rounds", 100)
	v.SetDefault("combat.session_timeout_ms", 300000)
	v.SetDefault("combat.mana_regen_per_round", 5)
	v.SetDefault("combat.stamina_regen_per_round", 10)
	v.SetDefault("combat.ended_session_ttl", "1h")
	v.SetDefault("combat.event_retention", "720h")
}
