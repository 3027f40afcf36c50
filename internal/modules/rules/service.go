package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/FenadoAI/autopilot/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Policy holds the lifecycle timings and default limits
type Policy struct {
	DryRunPeriod          time.Duration
	DraftTTL              time.Duration
	DefaultTransactionCap decimal.Decimal
}

// DefaultPolicy returns the engine defaults
func DefaultPolicy() Policy {
	return Policy{
		DryRunPeriod:          7 * 24 * time.Hour,
		DraftTTL:              30 * 24 * time.Hour,
		DefaultTransactionCap: decimal.NewFromInt(1000),
	}
}

// Service owns rule lifecycle transitions.
// Every transition for a user runs under that user's lock and appends an audit entry.
type Service struct {
	repo   *Repository
	audit  domain.AuditLog
	locks  *utils.KeyedMutex
	policy Policy
	clock  func() time.Time
	log    zerolog.Logger
}

// NewService creates a rule lifecycle service.
// locks is shared with the execution engine so evaluation and transitions of one
// user never interleave.
func NewService(repo *Repository, audit domain.AuditLog, locks *utils.KeyedMutex, policy Policy, log zerolog.Logger) *Service {
	if locks == nil {
		locks = utils.NewKeyedMutex()
	}
	return &Service{
		repo:   repo,
		audit:  audit,
		locks:  locks,
		policy: policy,
		clock:  time.Now,
		log:    log.With().Str("service", "rules").Logger(),
	}
}

// WithClock overrides clock for testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Policy returns the active lifecycle policy
func (s *Service) Policy() Policy {
	return s.policy
}

// Create stores a recommended rule as a draft owned by userID
func (s *Service) Create(ctx context.Context, userID string, rec domain.RecommendedRule, justification *domain.Justification) (*domain.AutopilotRule, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "required"}
	}
	if rec.Condition == nil || rec.Action == nil {
		return nil, &domain.ValidationError{Field: "rule", Reason: "condition and action are required"}
	}
	if err := rec.Condition.Validate(); err != nil {
		return nil, &domain.ValidationError{Field: "condition", Reason: err.Error()}
	}
	if err := rec.Action.Validate(); err != nil {
		return nil, &domain.ValidationError{Field: "action", Reason: err.Error()}
	}
	mode := rec.Mode
	if mode == "" {
		mode = domain.ModeBalanced
	}
	if !mode.Valid() {
		return nil, &domain.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", mode)}
	}
	name := rec.Name
	if name == "" {
		name = fmt.Sprintf("%s -> %s", rec.Condition.Kind(), rec.Action.Kind())
	}

	now := s.clock().UTC()
	rule := &domain.AutopilotRule{
		ID:             uuid.New().String(),
		UserID:         userID,
		Name:           name,
		Mode:           mode,
		Condition:      rec.Condition,
		Action:         rec.Action,
		State:          domain.RuleStateDraft,
		Justification:  justification,
		CreatedAt:      now,
		UpdatedAt:      now,
		StateChangedAt: now,
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.repo.Create(ctx, rule); err != nil {
		return nil, err
	}

	if err := s.appendAudit(ctx, rule, domain.AuditRuleCreated, map[string]string{
		"name":      rule.Name,
		"mode":      string(rule.Mode),
		"condition": string(rule.Condition.Kind()),
		"action":    string(rule.Action.Kind()),
		"target":    rule.Action.Target(),
	}); err != nil {
		return nil, err
	}

	s.log.Info().Str("rule_id", rule.ID).Str("user_id", userID).Str("name", name).Msg("Rule created")
	return rule, nil
}

// Get reads a rule from the store
func (s *Service) Get(ctx context.Context, id string) (*domain.AutopilotRule, error) {
	return s.repo.Get(ctx, id)
}

// ListByUser returns a user's rules, oldest first
func (s *Service) ListByUser(ctx context.Context, userID string) ([]domain.AutopilotRule, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Evaluated returns the user's dry-run and active rules, oldest first (id as tie-break)
func (s *Service) Evaluated(ctx context.Context, userID string) ([]domain.AutopilotRule, error) {
	return s.repo.ListByStates(ctx, userID, domain.RuleStateDryRun, domain.RuleStateActive)
}

// Approve moves a draft into dry run and records the approval
func (s *Service) Approve(ctx context.Context, id string) (*domain.AutopilotRule, error) {
	return s.transition(ctx, id, domain.RuleStateDryRun, TriggerUser)
}

// Reject moves a draft to rejected
func (s *Service) Reject(ctx context.Context, id string) (*domain.AutopilotRule, error) {
	return s.transition(ctx, id, domain.RuleStateRejected, TriggerUser)
}

// Confirm activates a dry-run rule before its dry-run period ends.
// Only dry-run rules can be confirmed; paused rules go through Resume.
func (s *Service) Confirm(ctx context.Context, id string) (*domain.AutopilotRule, error) {
	return s.transitionWith(ctx, id, TriggerUser, func(rule *domain.AutopilotRule) (domain.RuleState, error) {
		if rule.State != domain.RuleStateDryRun {
			return "", &domain.InvalidStateTransitionError{RuleID: rule.ID, From: rule.State, To: domain.RuleStateActive}
		}
		return domain.RuleStateActive, nil
	})
}

// Pause stops an active rule
func (s *Service) Pause(ctx context.Context, id string) (*domain.AutopilotRule, error) {
	return s.transition(ctx, id, domain.RuleStatePaused, TriggerUser)
}

// Resume returns a paused rule to the state it was paused from.
// A rule paused during its dry run resumes the dry run with the time it had already served.
func (s *Service) Resume(ctx context.Context, id string) (*domain.AutopilotRule, error) {
	return s.transitionWith(ctx, id, TriggerUser, func(rule *domain.AutopilotRule) (domain.RuleState, error) {
		if rule.State != domain.RuleStatePaused {
			return "", &domain.InvalidStateTransitionError{RuleID: rule.ID, From: rule.State, To: domain.RuleStateActive}
		}
		return resumeTarget(rule), nil
	})
}

// Delete disables a rule permanently
func (s *Service) Delete(ctx context.Context, id string) (*domain.AutopilotRule, error) {
	return s.transition(ctx, id, domain.RuleStateDisabled, TriggerUser)
}

// KillSwitch pauses every dry-run and active rule of a user.
// Returns the rules that were paused.
func (s *Service) KillSwitch(ctx context.Context, userID string) ([]domain.AutopilotRule, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	running, err := s.repo.ListByStates(ctx, userID, domain.RuleStateDryRun, domain.RuleStateActive)
	if err != nil {
		return nil, err
	}

	paused := make([]domain.AutopilotRule, 0, len(running))
	for i := range running {
		updated, err := s.transitionLocked(ctx, &running[i], domain.RuleStatePaused, TriggerKillSwitch)
		if err != nil {
			return paused, fmt.Errorf("kill switch stopped after %d rules: %w", len(paused), err)
		}
		paused = append(paused, *updated)
	}

	entry := domain.AuditEntry{
		UserID: userID,
		Kind:   domain.AuditKillSwitch,
		Detail: map[string]string{"paused": fmt.Sprintf("%d", len(paused))},
	}
	if _, err := s.audit.Append(ctx, entry); err != nil {
		return paused, fmt.Errorf("failed to audit kill switch: %w", err)
	}

	s.log.Warn().Str("user_id", userID).Int("paused", len(paused)).Msg("Kill switch engaged")
	return paused, nil
}

// PromoteDue activates dry-run rules whose dry-run period has elapsed at now.
// Rules that would conflict stay in dry run and are retried on the next sweep.
func (s *Service) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	return s.sweep(ctx, domain.RuleStateDryRun, now.Add(-s.policy.DryRunPeriod), domain.RuleStateActive, TriggerDryRunPeriod)
}

// ExpireDrafts rejects drafts older than the draft TTL at now
func (s *Service) ExpireDrafts(ctx context.Context, now time.Time) (int, error) {
	return s.sweep(ctx, domain.RuleStateDraft, now.Add(-s.policy.DraftTTL), domain.RuleStateRejected, TriggerDraftExpiry)
}

func (s *Service) sweep(ctx context.Context, from domain.RuleState, cutoff time.Time, to domain.RuleState, trigger Trigger) (int, error) {
	due, err := s.repo.ListDue(ctx, from, cutoff)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			return moved, err
		}

		ok, err := s.sweepOne(ctx, candidate, from, cutoff, to, trigger)
		if err != nil {
			s.log.Warn().Err(err).Str("rule_id", candidate.ID).Str("trigger", string(trigger)).Msg("Scheduled transition skipped")
			continue
		}
		if ok {
			moved++
		}
	}

	if moved > 0 {
		s.log.Info().Int("moved", moved).Str("to", string(to)).Str("trigger", string(trigger)).Msg("Scheduled transitions applied")
	}
	return moved, nil
}

func (s *Service) sweepOne(ctx context.Context, candidate domain.AutopilotRule, from domain.RuleState, cutoff time.Time, to domain.RuleState, trigger Trigger) (bool, error) {
	unlock := s.locks.Lock(candidate.UserID)
	defer unlock()

	// Re-read under the lock; the user may have acted since the listing
	rule, err := s.repo.Get(ctx, candidate.ID)
	if err != nil {
		return false, err
	}
	if rule.State != from || rule.StateSince().After(cutoff) {
		return false, nil
	}
	if _, err := s.transitionLocked(ctx, rule, to, trigger); err != nil {
		return false, err
	}
	return true, nil
}

// Limits returns the user's limits, falling back to the policy default
func (s *Service) Limits(ctx context.Context, userID string) (domain.UserLimits, error) {
	stored, err := s.repo.GetLimits(ctx, userID)
	if err != nil {
		return domain.UserLimits{}, err
	}
	if stored == nil {
		return domain.UserLimits{UserID: userID, TransactionCap: s.policy.DefaultTransactionCap}, nil
	}
	return *stored, nil
}

// SetTransactionCap sets an explicit per-transaction cap for a user
func (s *Service) SetTransactionCap(ctx context.Context, userID string, txCap decimal.Decimal) (domain.UserLimits, error) {
	if !txCap.IsPositive() {
		return domain.UserLimits{}, &domain.ValidationError{Field: "transaction_cap", Reason: "must be positive"}
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	previous, err := s.Limits(ctx, userID)
	if err != nil {
		return domain.UserLimits{}, err
	}

	limits := domain.UserLimits{
		UserID:         userID,
		TransactionCap: txCap,
		Explicit:       true,
		UpdatedAt:      s.clock().UTC(),
	}
	if err := s.repo.SetLimits(ctx, limits); err != nil {
		return domain.UserLimits{}, err
	}

	entry := domain.AuditEntry{
		UserID: userID,
		Kind:   domain.AuditCapChanged,
		Detail: map[string]string{
			"previous": previous.TransactionCap.String(),
			"current":  txCap.String(),
		},
	}
	if _, err := s.audit.Append(ctx, entry); err != nil {
		return limits, fmt.Errorf("failed to audit cap change: %w", err)
	}

	s.log.Info().Str("user_id", userID).Str("cap", txCap.String()).Msg("Transaction cap updated")
	return limits, nil
}

func (s *Service) transition(ctx context.Context, id string, to domain.RuleState, trigger Trigger) (*domain.AutopilotRule, error) {
	return s.transitionWith(ctx, id, trigger, func(*domain.AutopilotRule) (domain.RuleState, error) {
		return to, nil
	})
}

// transitionWith resolves the target state from the stored rule under the user's lock
func (s *Service) transitionWith(ctx context.Context, id string, trigger Trigger, target func(*domain.AutopilotRule) (domain.RuleState, error)) (*domain.AutopilotRule, error) {
	rule, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(rule.UserID)
	defer unlock()

	rule, err = s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	to, err := target(rule)
	if err != nil {
		return nil, err
	}
	return s.transitionLocked(ctx, rule, to, trigger)
}

// transitionLocked applies one transition; the caller holds the user's lock
func (s *Service) transitionLocked(ctx context.Context, rule *domain.AutopilotRule, to domain.RuleState, trigger Trigger) (*domain.AutopilotRule, error) {
	from := rule.State
	if !CanTransition(from, to, trigger) {
		return nil, &domain.InvalidStateTransitionError{RuleID: rule.ID, From: from, To: to}
	}

	if to.Evaluated() {
		if err := s.checkConflict(ctx, rule); err != nil {
			return nil, err
		}
	}

	now := s.clock().UTC()
	updated := *rule
	updated.State = to
	updated.UpdatedAt = now
	updated.StateChangedAt = now
	switch {
	case from == domain.RuleStateDraft && to == domain.RuleStateDryRun:
		updated.Approved = true
		updated.ApprovedAt = &now
	case to == domain.RuleStatePaused:
		updated.PausedFrom = from
		if from == domain.RuleStateDryRun {
			updated.DryRunServed = rule.DryRunServed + now.Sub(rule.StateChangedAt)
		}
	case from == domain.RuleStatePaused:
		updated.PausedFrom = ""
	}
	if to != domain.RuleStateDryRun && to != domain.RuleStatePaused {
		updated.DryRunServed = 0
	}

	if err := s.repo.UpdateState(ctx, &updated, from); err != nil {
		return nil, err
	}

	detail := map[string]string{
		"from":    string(from),
		"to":      string(to),
		"trigger": string(trigger),
	}
	if updated.DryRunServed > 0 {
		detail["dry_run_served"] = updated.DryRunServed.String()
	}
	if err := s.appendAudit(ctx, &updated, auditKind(from, to, trigger), detail); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rule_id", updated.ID).
		Str("user_id", updated.UserID).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("trigger", string(trigger)).
		Msg("Rule transitioned")

	return &updated, nil
}

// checkConflict rejects entering an evaluated state when another evaluated rule
// of the user has the same condition and an action of the same kind on the same target
func (s *Service) checkConflict(ctx context.Context, rule *domain.AutopilotRule) error {
	running, err := s.repo.ListByStates(ctx, rule.UserID, domain.RuleStateDryRun, domain.RuleStateActive)
	if err != nil {
		return err
	}
	for _, other := range running {
		if other.ID == rule.ID {
			continue
		}
		if domain.SameEffect(rule.Condition, rule.Action, other.Condition, other.Action) {
			return &domain.RuleConflictError{RuleID: rule.ID, ConflictingRuleID: other.ID}
		}
	}
	return nil
}

func (s *Service) appendAudit(ctx context.Context, rule *domain.AutopilotRule, kind domain.AuditKind, detail map[string]string) error {
	_, err := s.audit.Append(ctx, domain.AuditEntry{
		UserID: rule.UserID,
		Kind:   kind,
		RuleID: rule.ID,
		Detail: detail,
	})
	if err != nil {
		s.log.Error().Err(err).Str("rule_id", rule.ID).Str("kind", string(kind)).Msg("Failed to append audit entry")
		return fmt.Errorf("failed to audit %s for rule %s: %w", kind, rule.ID, err)
	}
	return nil
}
