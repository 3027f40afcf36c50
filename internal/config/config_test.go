package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.FundsMover.URL)
	assert.False(t, cfg.Backup.Enabled())
	assert.Equal(t, DefaultPolicy(), cfg.Policy)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("CORS_ORIGINS", "http://localhost:3000, https://app.example.com ,")
	t.Setenv("FUNDS_MOVER_URL", "http://mover:8000")
	t.Setenv("AUTOPILOT_DEFAULT_TX_CAP", "2500")
	t.Setenv("AUTOPILOT_MOVER_TIMEOUT", "3s")
	t.Setenv("AUTOPILOT_SIM_WORKERS", "2")
	t.Setenv("AUTOPILOT_ROLLBACK_WINDOW", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.LogPretty)
	assert.Equal(t, []string{"http://localhost:3000", "https://app.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, "http://mover:8000", cfg.FundsMover.URL)
	assert.Equal(t, 2500.0, cfg.Policy.DefaultTransactionCap)
	assert.Equal(t, 3*time.Second, cfg.Policy.MoverTimeout)
	assert.Equal(t, 2, cfg.Policy.SimulationWorkers)
	// Unparseable values keep the default
	assert.Equal(t, 24*time.Hour, cfg.Policy.RollbackWindow)
}

func TestLoadPolicy_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default_transaction_cap: 750
rollback_window: 12h
dry_run_period: 72h
simulation_trials: 5000
`), 0644))

	policy, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, 750.0, policy.DefaultTransactionCap)
	assert.Equal(t, 12*time.Hour, policy.RollbackWindow)
	assert.Equal(t, 72*time.Hour, policy.DryRunPeriod)
	assert.Equal(t, 5000, policy.SimulationTrials)
	// untouched keys keep their defaults
	assert.Equal(t, 30*24*time.Hour, policy.DraftTTL)
	assert.Equal(t, 200, policy.RecommenderTrials)
}

func TestLoadPolicy_Errors(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rollback_window: [1, 2"), 0644))
	_, err = LoadPolicy(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Port: 8080, Policy: DefaultPolicy()}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"port", func(c *Config) { c.Port = 0 }},
		{"cap", func(c *Config) { c.Policy.DefaultTransactionCap = 0 }},
		{"buffer", func(c *Config) { c.Policy.MinBalanceBuffer = -1 }},
		{"window", func(c *Config) { c.Policy.RollbackWindow = 0 }},
		{"trials", func(c *Config) { c.Policy.SimulationTrials = MaxTrials + 1 }},
		{"recommender trials", func(c *Config) { c.Policy.RecommenderTrials = 0 }},
		{"workers", func(c *Config) { c.Policy.SimulationWorkers = -1 }},
		{"promote cron", func(c *Config) { c.Policy.PromoteCron = "every minute" }},
		{"backup cron", func(c *Config) {
			c.Backup.Bucket = "backups"
			c.Backup.Cron = "nope"
		}},
	}

	assert.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
