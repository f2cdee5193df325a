package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/duskmire/engine/internal/config"
)

func validConfig() config.Config {
	return config.Config{
		Database: config.DatabaseConfig{
			Host: "localhost", Port: 5432, User: "duskmire", Password: "duskmire",
			Name: "duskmire", SSLMode: "disable", MaxConns: 10, MinConns: 2,
			MaxConnLifetime: time.Hour,
		},
		Redis:   config.RedisConfig{Host: "localhost", Port: 6379},
		Logging: config.LoggingConfig{Level: "info", Format: "json"},
		Combat: config.CombatConfig{
			RoundDurationMs:      15000,
			MaxRoundDurationMs:   30000,
			FleeSuccessChance:    0.5,
			FleeCooldownRounds:   2,
			MaxCombatRounds:      100,
			SessionTimeoutMs:     300000,
			ManaRegenPerRound:    5,
			StaminaRegenPerRound: 10,
			EndedSessionTTL:      time.Hour,
			EventRetention:       30 * 24 * time.Hour,
		},
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_CombatViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero round duration", func(c *config.Config) { c.Combat.RoundDurationMs = 0 }},
		{"ceiling below window", func(c *config.Config) { c.Combat.MaxRoundDurationMs = c.Combat.RoundDurationMs - 1 }},
		{"flee chance above 1", func(c *config.Config) { c.Combat.FleeSuccessChance = 1.5 }},
		{"negative flee cooldown", func(c *config.Config) { c.Combat.FleeCooldownRounds = -1 }},
		{"zero round cap", func(c *config.Config) { c.Combat.MaxCombatRounds = 0 }},
		{"timeout below ceiling", func(c *config.Config) { c.Combat.SessionTimeoutMs = c.Combat.MaxRoundDurationMs - 1 }},
		{"negative mana regen", func(c *config.Config) { c.Combat.ManaRegenPerRound = -1 }},
		{"negative stamina regen", func(c *config.Config) { c.Combat.StaminaRegenPerRound = -3 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_DatabaseViolations(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Host = ""
	cfg.Database.SSLMode = "bogus"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.host")
	assert.Contains(t, err.Error(), "database.sslmode")
}

func TestLoad_FileWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dev.yaml")
	yaml := `
database:
  host: db.internal
combat:
  round_duration_ms: 5000
  max_round_duration_ms: 9000
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port) // default survives partial file
	assert.Equal(t, 5*time.Second, cfg.Combat.RoundDuration())
	assert.Equal(t, 9*time.Second, cfg.Combat.MaxRoundDuration())
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/nope.yaml")
	require.Error(t, err)
}

func TestLoadFromViper_NilViper(t *testing.T) {
	_, err := config.LoadFromViper(nil)
	require.Error(t, err)
}

// TestValidate_PortRange_Property: any out-of-range database port fails validation,
// any in-range port passes (all other fields held valid).
func TestValidate_PortRange_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(-1000, 70000).Draw(t, "port")
		cfg := validConfig()
		cfg.Database.Port = port
		err := cfg.Validate()
		if port >= 1 && port <= 65535 {
			if err != nil {
				t.Fatalf("expected valid config for port %d, got %v", port, err)
			}
		} else if err == nil {
			t.Fatalf("expected error for port %d", port)
		}
	})
}

func TestLoadFromViper_DurationParsing(t *testing.T) {
	v := viper.New()
	for key, val := range map[string]any{
		"database.host": "localhost", "database.port": 5432,
		"database.user": "u", "database.password": "p", "database.name": "d",
		"database.sslmode": "disable", "database.max_conns": 4, "database.min_conns": 1,
		"redis.host": "localhost", "redis.port": 6379,
		"logging.level": "debug", "logging.format": "console",
		"combat.round_duration_ms": 1000, "combat.max_round_duration_ms": 2000,
		"combat.flee_success_chance": 0.25, "combat.flee_cooldown_rounds": 1,
		"combat.max_combat_rounds": 50, "combat.session_timeout_ms": 60000,
		"combat.mana_regen_per_round": 2, "combat.stamina_regen_per_round": 4,
		"combat.ended_session_ttl": "90m", "combat.event_retention": "24h",
	} {
		v.Set(key, val)
	}
	cfg, err := config.LoadFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, cfg.Combat.EndedSessionTTL)
	assert.Equal(t, 24*time.Hour, cfg.Combat.EventRetention)
	assert.Equal(t, time.Minute, cfg.Combat.SessionTimeout())
}
