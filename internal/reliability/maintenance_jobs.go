package reliability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/FenadoAI/autopilot/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// Disk thresholds for the data directory
const (
	criticalFreeBytes = 500 << 20
	lowFreeBytes      = 5 << 30
)

// BackupJob creates a backup and rotates old ones
type BackupJob struct {
	backups       *BackupService
	retentionDays int
	timeout       time.Duration
	log           zerolog.Logger
}

// NewBackupJob creates a new backup job
func NewBackupJob(backups *BackupService, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backups:       backups,
		retentionDays: retentionDays,
		timeout:       30 * time.Minute,
		log:           log.With().Str("job", "reliability:backup").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *BackupJob) Name() string {
	return "reliability:backup"
}

// Run executes the backup job
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if _, err := j.backups.CreateAndUploadBackup(ctx); err != nil {
		return err
	}

	// A failed rotation leaves extra archives behind, not a broken backup
	if _, err := j.backups.RotateOldBackups(ctx, j.retentionDays); err != nil {
		j.log.Error().Err(err).Msg("Backup rotation failed")
	}
	return nil
}

// DailyMaintenanceJob checkpoints the WAL, watches disk space and logs database growth
type DailyMaintenanceJob struct {
	databases map[string]*database.DB
	dataDir   string
	usage     func(path string) (*disk.UsageStat, error)
	log       zerolog.Logger
}

// NewDailyMaintenanceJob creates a new daily maintenance job
func NewDailyMaintenanceJob(databases map[string]*database.DB, dataDir string, log zerolog.Logger) *DailyMaintenanceJob {
	return &DailyMaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		usage:     disk.Usage,
		log:       log.With().Str("job", "reliability:daily_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *DailyMaintenanceJob) Name() string {
	return "reliability:daily_maintenance"
}

// Run executes the daily maintenance job
func (j *DailyMaintenanceJob) Run() error {
	j.log.Info().Msg("Starting daily maintenance")
	startTime := time.Now()

	for _, name := range j.names() {
		if err := j.databases[name].WALCheckpoint("TRUNCATE"); err != nil {
			// Not critical, the next checkpoint catches up
			j.log.Warn().Str("database", name).Err(err).Msg("WAL checkpoint failed")
		}
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.analyzeDatabaseGrowth()

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Daily maintenance completed successfully")
	return nil
}

func (j *DailyMaintenanceJob) names() []string {
	names := make([]string, 0, len(j.databases))
	for name, db := range j.databases {
		if db != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// checkDiskSpace fails when the data directory is nearly full
func (j *DailyMaintenanceJob) checkDiskSpace() error {
	stat, err := j.usage(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableGB := float64(stat.Free) / 1e9
	j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	switch {
	case stat.Free < criticalFreeBytes:
		j.log.Error().Float64("available_gb", availableGB).Msg("CRITICAL: Insufficient disk space")
		return fmt.Errorf("only %.2f GB free on %s", availableGB, j.dataDir)
	case stat.Free < lowFreeBytes:
		j.log.Warn().Float64("available_gb", availableGB).Msg("Disk space running low")
	}
	return nil
}

func (j *DailyMaintenanceJob) analyzeDatabaseGrowth() {
	for _, name := range j.names() {
		stats, err := j.databases[name].GetStats()
		if err != nil {
			j.log.Warn().Str("database", name).Err(err).Msg("Failed to get database stats")
			continue
		}
		j.log.Info().
			Str("database", name).
			Float64("size_mb", float64(stats.SizeBytes)/1024/1024).
			Float64("wal_mb", float64(stats.WALSizeBytes)/1024/1024).
			Int64("freelist_pages", stats.FreelistCount).
			Msg("Database size")
	}
}
