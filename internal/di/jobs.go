// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"

	"github.com/FenadoAI/autopilot/internal/config"
	"github.com/FenadoAI/autopilot/internal/reliability"
	"github.com/FenadoAI/autopilot/internal/scheduler"
	"github.com/rs/zerolog"
)

// Fixed schedules for the housekeeping jobs (seconds field first)
const (
	walCheckSchedule         = "0 */5 * * * *"
	integrityCheckSchedule   = "0 15 2 * * *"
	dailyMaintenanceSchedule = "0 0 2 * * *"

	backupRetentionDays = 30
)

// RegisterJobs builds the job instances
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil || container.RuleService == nil {
		return nil, fmt.Errorf("services must be initialized first")
	}

	instances := &JobInstances{}
	jobLog := log.With().Str("component", "jobs").Logger()

	checkDatabases := scheduler.NewCheckDatabasesJob(container.Databases())
	checkDatabases.SetLogger(jobLog)
	instances.CheckDatabases = checkDatabases

	checkWAL := scheduler.NewCheckWALCheckpointsJob(container.Databases())
	checkWAL.SetLogger(jobLog)
	instances.CheckWALCheckpoints = checkWAL

	instances.PromoteDryRun = scheduler.NewPromoteDryRunJob(container.RuleService, log)
	instances.ExpireDrafts = scheduler.NewExpireDraftsJob(container.RuleService, log)
	instances.DailyMaintenance = reliability.NewDailyMaintenanceJob(container.Databases(), cfg.DataDir, log)

	if container.BackupService != nil {
		instances.Backup = reliability.NewBackupJob(container.BackupService, backupRetentionDays, log)
	}

	log.Info().Int("jobs", len(instances.ByName())).Msg("Jobs registered")
	return instances, nil
}

// ScheduleJobs registers every job with the scheduler using the configured schedules
func ScheduleJobs(s *scheduler.Scheduler, jobs *JobInstances, cfg *config.Config) error {
	schedules := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.Policy.PromoteCron, jobs.PromoteDryRun},
		{cfg.Policy.ExpireCron, jobs.ExpireDrafts},
		{walCheckSchedule, jobs.CheckWALCheckpoints},
		{integrityCheckSchedule, jobs.CheckDatabases},
		{dailyMaintenanceSchedule, jobs.DailyMaintenance},
		{cfg.Backup.Cron, jobs.Backup},
	}

	for _, entry := range schedules {
		if entry.job == nil {
			continue
		}
		if err := s.AddJob(entry.schedule, entry.job); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", entry.job.Name(), err)
		}
	}
	return nil
}
