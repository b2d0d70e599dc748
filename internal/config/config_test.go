package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Engine.MaxConflictRetries)
	assert.Equal(t, 15*time.Minute, cfg.Escalation.Interval)
	assert.Equal(t, SchedulerTicker, cfg.Escalation.Scheduler)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: postgres
  dsn: postgres://file/approvals
escalation:
  scheduler: river
  interval: 1m
lark:
  enabled: true
  app_id: cli_from_file
`)
	t.Setenv("LARK_APP_SECRET", "secret-from-env")
	t.Setenv("APPROVAL_ENGINE_MAX_CONFLICT_RETRIES", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, time.Minute, cfg.Escalation.Interval)
	assert.Equal(t, "cli_from_file", cfg.Lark.AppID)
	assert.Equal(t, "secret-from-env", cfg.Lark.AppSecret)
	assert.Equal(t, 5, cfg.Engine.MaxConflictRetries)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:     ServerConfig{Port: 8080},
			Database:   DatabaseConfig{Driver: DriverMemory},
			Engine:     EngineConfig{MaxConflictRetries: 3},
			Escalation: EscalationConfig{Enabled: true, Interval: time.Minute, Scheduler: SchedulerTicker},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "unknown database.driver"},
		{"sqlite without path", func(c *Config) { c.Database.Driver = DriverSQLite }, "database.path"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }, "database.dsn"},
		{"lark without secret", func(c *Config) { c.Lark = LarkConfig{Enabled: true, AppID: "x"} }, "lark.app_secret"},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true }, "redis.addr"},
		{"zero retries", func(c *Config) { c.Engine.MaxConflictRetries = 0 }, "max_conflict_retries"},
		{"river on memory", func(c *Config) { c.Escalation.Scheduler = SchedulerRiver }, "requires the postgres driver"},
		{"bad scheduler", func(c *Config) { c.Escalation.Scheduler = "cron" }, "unknown escalation.scheduler"},
		{"escalation disabled skips checks", func(c *Config) { c.Escalation = EscalationConfig{} }, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
