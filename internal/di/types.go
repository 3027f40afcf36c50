/**
 * Package di provides dependency injection type definitions.
 *
 * The Container holds every long-lived dependency of the engine and is the single
 * source of truth handed to the server and scheduler.
 */
package di

import (
	"github.com/FenadoAI/autopilot/internal/database"
	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/FenadoAI/autopilot/internal/modules/autopilot"
	"github.com/FenadoAI/autopilot/internal/modules/execution"
	"github.com/FenadoAI/autopilot/internal/modules/ledger"
	"github.com/FenadoAI/autopilot/internal/modules/recommender"
	"github.com/FenadoAI/autopilot/internal/modules/rules"
	"github.com/FenadoAI/autopilot/internal/modules/simulation"
	"github.com/FenadoAI/autopilot/internal/reliability"
	"github.com/FenadoAI/autopilot/internal/scheduler"
	"github.com/FenadoAI/autopilot/internal/utils"
)

// Container holds all application dependencies
type Container struct {
	// Databases
	AutopilotDB *database.DB // rules, executions, limits
	LedgerDB    *database.DB // append-only audit chain

	// Repositories
	RuleRepo      *rules.Repository
	ExecutionRepo *execution.Repository
	AuditLedger   *ledger.AuditLedger

	// External capabilities
	FundsMover    domain.FundsMover
	Notifier      domain.Notifier
	Subscriptions domain.SubscriptionController

	// Services
	Locks            *utils.KeyedMutex // shared by rule transitions and executions
	RuleService      *rules.Service
	ExecutionEngine  *execution.Engine
	Simulator        *simulation.Simulator
	Recommender      *recommender.Recommender
	AutopilotService *autopilot.Service
	BackupService    *reliability.BackupService // nil when backups are not configured
}

// Databases returns the databases by name
func (c *Container) Databases() map[string]*database.DB {
	return map[string]*database.DB{
		database.NameAutopilot: c.AutopilotDB,
		database.NameLedger:    c.LedgerDB,
	}
}

// Close closes both databases
func (c *Container) Close() {
	if c.AutopilotDB != nil {
		c.AutopilotDB.Close()
	}
	if c.LedgerDB != nil {
		c.LedgerDB.Close()
	}
}

// JobInstances holds the scheduled jobs so they can also be triggered by name
type JobInstances struct {
	CheckDatabases      scheduler.Job
	CheckWALCheckpoints scheduler.Job
	PromoteDryRun       scheduler.Job
	ExpireDrafts        scheduler.Job
	DailyMaintenance    scheduler.Job
	Backup              scheduler.Job // nil when backups are not configured
}

// ByName returns the registered jobs keyed by job name
func (j *JobInstances) ByName() map[string]scheduler.Job {
	byName := make(map[string]scheduler.Job)
	for _, job := range []scheduler.Job{
		j.CheckDatabases,
		j.CheckWALCheckpoints,
		j.PromoteDryRun,
		j.ExpireDrafts,
		j.DailyMaintenance,
		j.Backup,
	} {
		if job != nil {
			byName[job.Name()] = job
		}
	}
	return byName
}
