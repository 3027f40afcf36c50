package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RuleSweeper advances rules whose state has a time limit
type RuleSweeper interface {
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	ExpireDrafts(ctx context.Context, now time.Time) (int, error)
}

// defaultJobTimeout bounds a single sweep
const defaultJobTimeout = 2 * time.Minute

// PromoteDryRunJob activates rules whose dry-run period has elapsed
type PromoteDryRunJob struct {
	rules   RuleSweeper
	clock   func() time.Time
	timeout time.Duration
	log     zerolog.Logger
}

// NewPromoteDryRunJob creates a new promotion job
func NewPromoteDryRunJob(rules RuleSweeper, log zerolog.Logger) *PromoteDryRunJob {
	return &PromoteDryRunJob{
		rules:   rules,
		clock:   time.Now,
		timeout: defaultJobTimeout,
		log:     log.With().Str("job", "rules:promote_dry_run").Logger(),
	}
}

// WithClock overrides the time source
func (j *PromoteDryRunJob) WithClock(clock func() time.Time) *PromoteDryRunJob {
	j.clock = clock
	return j
}

// Name returns the job name
func (j *PromoteDryRunJob) Name() string {
	return "rules:promote_dry_run"
}

// Run executes the job
func (j *PromoteDryRunJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	promoted, err := j.rules.PromoteDue(ctx, j.clock())
	if err != nil {
		return fmt.Errorf("failed to promote dry-run rules: %w", err)
	}
	if promoted > 0 {
		j.log.Info().Int("promoted", promoted).Msg("Promoted dry-run rules to active")
	}
	return nil
}

// ExpireDraftsJob expires drafts nobody approved in time
type ExpireDraftsJob struct {
	rules   RuleSweeper
	clock   func() time.Time
	timeout time.Duration
	log     zerolog.Logger
}

// NewExpireDraftsJob creates a new draft expiry job
func NewExpireDraftsJob(rules RuleSweeper, log zerolog.Logger) *ExpireDraftsJob {
	return &ExpireDraftsJob{
		rules:   rules,
		clock:   time.Now,
		timeout: defaultJobTimeout,
		log:     log.With().Str("job", "rules:expire_drafts").Logger(),
	}
}

// WithClock overrides the time source
func (j *ExpireDraftsJob) WithClock(clock func() time.Time) *ExpireDraftsJob {
	j.clock = clock
	return j
}

// Name returns the job name
func (j *ExpireDraftsJob) Name() string {
	return "rules:expire_drafts"
}

// Run executes the job
func (j *ExpireDraftsJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	expired, err := j.rules.ExpireDrafts(ctx, j.clock())
	if err != nil {
		return fmt.Errorf("failed to expire drafts: %w", err)
	}
	if expired > 0 {
		j.log.Info().Int("expired", expired).Msg("Expired stale draft rules")
	}
	return nil
}
