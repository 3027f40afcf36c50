// Package di provides dependency injection for services.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/FenadoAI/autopilot/internal/clients/fundsmover"
	"github.com/FenadoAI/autopilot/internal/clients/notify"
	"github.com/FenadoAI/autopilot/internal/config"
	"github.com/FenadoAI/autopilot/internal/modules/autopilot"
	"github.com/FenadoAI/autopilot/internal/modules/execution"
	"github.com/FenadoAI/autopilot/internal/modules/ledger"
	"github.com/FenadoAI/autopilot/internal/modules/recommender"
	"github.com/FenadoAI/autopilot/internal/modules/rules"
	"github.com/FenadoAI/autopilot/internal/modules/simulation"
	"github.com/FenadoAI/autopilot/internal/reliability"
	"github.com/FenadoAI/autopilot/internal/utils"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// InitializeRepositories creates the repositories on top of the open databases
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil || container.AutopilotDB == nil || container.LedgerDB == nil {
		return fmt.Errorf("databases must be initialized first")
	}

	container.RuleRepo = rules.NewRepository(container.AutopilotDB.Conn(), log)
	container.ExecutionRepo = execution.NewRepository(container.AutopilotDB.Conn(), log)
	container.AuditLedger = ledger.NewAuditLedger(container.LedgerDB.Conn(), log)

	log.Debug().Msg("Repositories initialized")
	return nil
}

// InitializeServices creates the external capabilities and the engine services
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.RuleRepo == nil {
		return fmt.Errorf("repositories must be initialized first")
	}
	policy := cfg.Policy

	// External capabilities
	if cfg.FundsMover.URL != "" {
		container.FundsMover = fundsmover.NewClient(cfg.FundsMover.URL, cfg.FundsMover.Token, log)
		log.Info().Str("url", cfg.FundsMover.URL).Msg("Using HTTP funds mover")
	} else {
		container.FundsMover = fundsmover.NewPaperMover(log)
		log.Warn().Msg("FUNDS_MOVER_URL not set, transfers are recorded on paper only")
	}
	container.Notifier = notify.NewLogNotifier(log)
	container.Subscriptions = notify.NewLogSubscriptionController(log)

	// Rule lifecycle and execution share one lock per user
	container.Locks = utils.NewKeyedMutex()
	container.RuleService = rules.NewService(
		container.RuleRepo,
		container.AuditLedger,
		container.Locks,
		rules.Policy{
			DryRunPeriod:          policy.DryRunPeriod,
			DraftTTL:              policy.DraftTTL,
			DefaultTransactionCap: decimal.NewFromFloat(policy.DefaultTransactionCap),
		},
		log,
	)
	container.ExecutionEngine = execution.NewEngine(
		container.RuleService,
		container.ExecutionRepo,
		container.FundsMover,
		container.Notifier,
		container.Subscriptions,
		container.AuditLedger,
		container.Locks,
		execution.Config{
			MoverTimeout:     policy.MoverTimeout,
			RollbackWindow:   policy.RollbackWindow,
			MinBalanceBuffer: decimal.NewFromFloat(policy.MinBalanceBuffer),
		},
		log,
	)

	// Simulation and recommendations
	container.Simulator = simulation.New(simulation.Config{
		Workers:       policy.SimulationWorkers,
		DefaultTrials: policy.SimulationTrials,
	}, nil, log)
	container.Recommender = recommender.New(container.Simulator, policy.RecommenderTrials, log)

	container.AutopilotService = autopilot.NewService(
		container.Simulator,
		container.Recommender,
		container.RuleService,
		container.ExecutionEngine,
		container.AuditLedger,
		log,
	)

	// Optional S3 backups
	if cfg.Backup.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		store, err := reliability.NewS3Store(ctx, reliability.S3StoreConfig{
			Bucket:   cfg.Backup.Bucket,
			Region:   cfg.Backup.Region,
			Endpoint: cfg.Backup.Endpoint,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to initialize backup store: %w", err)
		}
		container.BackupService = reliability.NewBackupService(store, container.Databases(), cfg.DataDir, cfg.Backup.Prefix, log)
	}

	log.Debug().Msg("Services initialized")
	return nil
}
