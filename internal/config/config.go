// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/FenadoAI/autopilot/internal/utils"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// MaxTrials mirrors the simulator's upper bound on trials per run
const MaxTrials = 100000

// Config holds application configuration
type Config struct {
	DataDir     string // Base directory for both databases (always absolute)
	Port        int
	LogLevel    string
	LogPretty   bool
	DevMode     bool
	CORSOrigins []string
	PolicyFile  string
	Policy      Policy
	FundsMover  FundsMoverConfig
	Backup      BackupConfig
}

// FundsMoverConfig points at the external payment rail.
// An empty URL runs the paper mover.
type FundsMoverConfig struct {
	URL   string
	Token string
}

// BackupConfig configures S3 snapshots of the databases.
// An empty Bucket disables backups.
type BackupConfig struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // S3-compatible endpoint (R2, MinIO); empty uses AWS
	Cron     string
}

// Enabled reports whether backups are configured
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// Policy holds the engine's tunable limits and timings.
// It can be loaded from a YAML file and overridden per key from the environment.
type Policy struct {
	DefaultTransactionCap float64       `yaml:"default_transaction_cap"`
	MinBalanceBuffer      float64       `yaml:"min_balance_buffer"`
	RollbackWindow        time.Duration `yaml:"rollback_window"`
	DryRunPeriod          time.Duration `yaml:"dry_run_period"`
	DraftTTL              time.Duration `yaml:"draft_ttl"`
	MoverTimeout          time.Duration `yaml:"mover_timeout"`
	SimulationTrials      int           `yaml:"simulation_trials"`
	SimulationWorkers     int           `yaml:"simulation_workers"` // 0 = one per logical CPU
	RecommenderTrials     int           `yaml:"recommender_trials"`
	PromoteCron           string        `yaml:"promote_cron"`
	ExpireCron            string        `yaml:"expire_cron"`
}

// DefaultPolicy returns the built-in engine policy
func DefaultPolicy() Policy {
	return Policy{
		DefaultTransactionCap: 1000,
		MinBalanceBuffer:      500,
		RollbackWindow:        24 * time.Hour,
		DryRunPeriod:          7 * 24 * time.Hour,
		DraftTTL:              30 * 24 * time.Hour,
		MoverTimeout:          10 * time.Second,
		SimulationTrials:      1000,
		RecommenderTrials:     200,
		PromoteCron:           "0 * * * * *",
		ExpireCron:            "0 0 * * * *",
	}
}

// Load reads configuration from environment variables and the optional policy file
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:     absDataDir,
		Port:        getEnvAsInt("PORT", 8080),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogPretty:   getEnvAsBool("LOG_PRETTY", false),
		DevMode:     getEnvAsBool("DEV_MODE", false),
		CORSOrigins: utils.ParseOrigins(getEnv("CORS_ORIGINS", "*")),
		PolicyFile:  getEnv("AUTOPILOT_POLICY_FILE", ""),
		FundsMover: FundsMoverConfig{
			URL:   getEnv("FUNDS_MOVER_URL", ""),
			Token: getEnv("FUNDS_MOVER_TOKEN", ""),
		},
		Backup: BackupConfig{
			Bucket:   getEnv("BACKUP_S3_BUCKET", ""),
			Prefix:   getEnv("BACKUP_S3_PREFIX", "autopilot"),
			Region:   getEnv("BACKUP_S3_REGION", "auto"),
			Endpoint: getEnv("BACKUP_S3_ENDPOINT", ""),
			Cron:     getEnv("BACKUP_CRON", "0 30 3 * * *"),
		},
	}

	cfg.Policy, err = LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	applyPolicyEnv(&cfg.Policy)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadPolicy reads a YAML policy file on top of DefaultPolicy.
// An empty path returns the defaults; keys missing from the file keep their default.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	return policy, nil
}

func applyPolicyEnv(p *Policy) {
	p.DefaultTransactionCap = getEnvAsFloat("AUTOPILOT_DEFAULT_TX_CAP", p.DefaultTransactionCap)
	p.MinBalanceBuffer = getEnvAsFloat("AUTOPILOT_MIN_BALANCE_BUFFER", p.MinBalanceBuffer)
	p.RollbackWindow = getEnvAsDuration("AUTOPILOT_ROLLBACK_WINDOW", p.RollbackWindow)
	p.DryRunPeriod = getEnvAsDuration("AUTOPILOT_DRY_RUN_PERIOD", p.DryRunPeriod)
	p.DraftTTL = getEnvAsDuration("AUTOPILOT_DRAFT_TTL", p.DraftTTL)
	p.MoverTimeout = getEnvAsDuration("AUTOPILOT_MOVER_TIMEOUT", p.MoverTimeout)
	p.SimulationTrials = getEnvAsInt("AUTOPILOT_SIM_TRIALS", p.SimulationTrials)
	p.SimulationWorkers = getEnvAsInt("AUTOPILOT_SIM_WORKERS", p.SimulationWorkers)
	p.RecommenderTrials = getEnvAsInt("AUTOPILOT_RECOMMENDER_TRIALS", p.RecommenderTrials)
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if c.Backup.Enabled() {
		if _, err := cronParser.Parse(c.Backup.Cron); err != nil {
			return fmt.Errorf("invalid BACKUP_CRON %q: %w", c.Backup.Cron, err)
		}
	}
	return nil
}

// Validate checks policy bounds
func (p Policy) Validate() error {
	if p.DefaultTransactionCap <= 0 {
		return fmt.Errorf("default_transaction_cap must be positive")
	}
	if p.MinBalanceBuffer < 0 {
		return fmt.Errorf("min_balance_buffer must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"rollback_window": p.RollbackWindow,
		"dry_run_period":  p.DryRunPeriod,
		"draft_ttl":       p.DraftTTL,
		"mover_timeout":   p.MoverTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if p.SimulationTrials <= 0 || p.SimulationTrials > MaxTrials {
		return fmt.Errorf("simulation_trials must be within 1..%d", MaxTrials)
	}
	if p.RecommenderTrials <= 0 || p.RecommenderTrials > MaxTrials {
		return fmt.Errorf("recommender_trials must be within 1..%d", MaxTrials)
	}
	if p.SimulationWorkers < 0 {
		return fmt.Errorf("simulation_workers must not be negative")
	}
	for name, spec := range map[string]string{"promote_cron": p.PromoteCron, "expire_cron": p.ExpireCron} {
		if _, err := cronParser.Parse(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, spec, err)
		}
	}
	return nil
}

// cronParser accepts the seconds-enabled specs used by the scheduler
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Helper functions
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
