// Package execution evaluates autopilot rules against financial events and
// reverses executions inside their rollback window.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/FenadoAI/autopilot/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ReasonTimeout is recorded when a capability call exceeds its deadline
const ReasonTimeout = "timeout"

// RuleSource reads rules and limits from the rule store
type RuleSource interface {
	Evaluated(ctx context.Context, userID string) ([]domain.AutopilotRule, error)
	Get(ctx context.Context, id string) (*domain.AutopilotRule, error)
	Limits(ctx context.Context, userID string) (domain.UserLimits, error)
}

// Config holds execution policy
type Config struct {
	MoverTimeout     time.Duration
	RollbackWindow   time.Duration
	MinBalanceBuffer decimal.Decimal
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		MoverTimeout:     10 * time.Second,
		RollbackWindow:   24 * time.Hour,
		MinBalanceBuffer: decimal.NewFromInt(500),
	}
}

// Engine runs rule actions and their rollbacks
type Engine struct {
	rules    RuleSource
	repo     *Repository
	mover    domain.FundsMover
	notifier domain.Notifier
	subs     domain.SubscriptionController
	audit    domain.AuditLog
	locks    *utils.KeyedMutex
	cfg      Config
	clock    func() time.Time
	log      zerolog.Logger
}

// NewEngine creates an execution engine.
// locks must be the instance shared with the rule service.
func NewEngine(
	rules RuleSource,
	repo *Repository,
	mover domain.FundsMover,
	notifier domain.Notifier,
	subs domain.SubscriptionController,
	audit domain.AuditLog,
	locks *utils.KeyedMutex,
	cfg Config,
	log zerolog.Logger,
) *Engine {
	if locks == nil {
		locks = utils.NewKeyedMutex()
	}
	if cfg.MoverTimeout <= 0 {
		cfg.MoverTimeout = DefaultConfig().MoverTimeout
	}
	if cfg.RollbackWindow <= 0 {
		cfg.RollbackWindow = DefaultConfig().RollbackWindow
	}
	return &Engine{
		rules:    rules,
		repo:     repo,
		mover:    mover,
		notifier: notifier,
		subs:     subs,
		audit:    audit,
		locks:    locks,
		cfg:      cfg,
		clock:    time.Now,
		log:      log.With().Str("service", "execution").Logger(),
	}
}

// WithClock overrides clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Get returns one execution
func (e *Engine) Get(ctx context.Context, id string) (*domain.RuleExecution, error) {
	return e.repo.Get(ctx, id)
}

// ListByUser returns a user's executions, newest first
func (e *Engine) ListByUser(ctx context.Context, userID string, limit int) ([]domain.RuleExecution, error) {
	return e.repo.ListByUser(ctx, userID, limit)
}

// Evaluate matches the user's dry-run and active rules against event and runs
// the actions of those that fire. Individual failures are recorded on their
// execution and never abort the batch; only a failure to read the rules is returned.
func (e *Engine) Evaluate(ctx context.Context, userID string, event domain.Event) ([]domain.RuleExecution, error) {
	if event.UserID == "" {
		event.UserID = userID
	}
	if event.UserID != userID {
		return nil, &domain.ValidationError{Field: "user_id", Reason: fmt.Sprintf("event belongs to %s, not %s", event.UserID, userID)}
	}
	if err := event.Validate(); err != nil {
		return nil, &domain.ValidationError{Field: "event", Reason: err.Error()}
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	candidates, err := e.rules.Evaluated(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for %s: %w", userID, err)
	}
	if len(candidates) == 0 {
		return []domain.RuleExecution{}, nil
	}

	limits, err := e.rules.Limits(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load limits for %s: %w", userID, err)
	}

	available := e.initialAvailable(event)
	executions := make([]domain.RuleExecution, 0)

	for i := range candidates {
		rule := &candidates[i]
		if !Matches(rule.Condition, event) {
			continue
		}

		exec, ok := e.run(ctx, rule, event, available, limits.TransactionCap)
		if !ok {
			continue
		}
		if exec.Outcome == domain.OutcomeSuccess && !exec.Simulated && rule.Action.Monetary() {
			available = available.Sub(exec.Amount)
		}
		executions = append(executions, exec)
	}

	e.log.Debug().
		Str("user_id", userID).
		Str("event_id", event.ID).
		Int("rules", len(candidates)).
		Int("executions", len(executions)).
		Msg("Event evaluated")

	return executions, nil
}

// initialAvailable is the positive surplus, or else the balance above the buffer
func (e *Engine) initialAvailable(event domain.Event) decimal.Decimal {
	if event.Surplus.IsPositive() {
		return event.Surplus
	}
	avail := event.Balance.Sub(e.cfg.MinBalanceBuffer)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// Matches reports whether the condition fires for event
func Matches(cond domain.Condition, event domain.Event) bool {
	switch c := cond.(type) {
	case domain.PaycheckSurplus:
		return event.Type == domain.EventPaycheck && event.Surplus.GreaterThanOrEqual(c.Threshold)
	case domain.SpendingSpike:
		if c.Category != "" && !strings.EqualFold(c.Category, event.Category) {
			return false
		}
		if !event.CategoryBaseline.IsPositive() {
			return false
		}
		limit := event.CategoryBaseline.Mul(c.ThresholdPct).Div(decimal.NewFromInt(100))
		return event.CategorySpend.GreaterThanOrEqual(limit)
	case domain.GoalUnderfunded:
		snap, ok := event.Goals[c.GoalID]
		return ok && snap.Gap().GreaterThanOrEqual(c.Shortfall)
	}
	return false
}

// Amount computes the monetary amount of action for event, before the user cap
func Amount(action domain.Action, event domain.Event, available decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch a := action.(type) {
	case domain.SweepToGoal:
		amount = decimal.Min(available, a.Cap)
		if snap, ok := event.Goals[a.GoalID]; ok {
			amount = decimal.Min(amount, snap.Gap())
		}
	case domain.RoundUpInvest:
		amount = decimal.Min(a.RoundUp(event.Amount), a.Cap, available)
	default:
		return decimal.Zero
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// run executes one fired rule. ok is false when nothing was recorded.
func (e *Engine) run(ctx context.Context, rule *domain.AutopilotRule, event domain.Event, available, txCap decimal.Decimal) (domain.RuleExecution, bool) {
	now := e.clock().UTC()
	exec := domain.RuleExecution{
		ID:               uuid.New().String(),
		RuleID:           rule.ID,
		UserID:           rule.UserID,
		EventID:          event.ID,
		ActionKind:       rule.Action.Kind(),
		Target:           rule.Action.Target(),
		Timestamp:        now,
		Amount:           decimal.Zero,
		Outcome:          domain.OutcomeSuccess,
		RollbackDeadline: now.Add(e.cfg.RollbackWindow),
	}

	if rule.Action.Monetary() {
		amount := Amount(rule.Action, event, available)
		if txCap.IsPositive() {
			amount = decimal.Min(amount, txCap)
		}
		if !amount.IsPositive() {
			e.log.Debug().Str("rule_id", rule.ID).Str("event_id", event.ID).Msg("Zero amount, execution skipped")
			return exec, false
		}
		exec.Amount = amount
	}

	switch rule.State {
	case domain.RuleStateDryRun:
		exec.Simulated = true
	case domain.RuleStateActive:
		if failure := e.perform(ctx, rule, event, &exec); failure != nil {
			exec.Outcome = domain.OutcomeFailed
			exec.FailureReason = failure.Reason
		}
	default:
		return exec, false
	}

	e.record(ctx, exec)
	return exec, true
}

// perform invokes the external capability for an active rule
func (e *Engine) perform(ctx context.Context, rule *domain.AutopilotRule, event domain.Event, exec *domain.RuleExecution) *domain.ExecutionFailure {
	// Safety re-check: the stored rule is authoritative
	current, err := e.rules.Get(ctx, rule.ID)
	if err != nil {
		return &domain.ExecutionFailure{Reason: fmt.Sprintf("safety check failed: %v", err)}
	}
	if !current.CanMoveFunds() {
		e.log.Warn().
			Str("rule_id", rule.ID).
			Str("state", string(current.State)).
			Bool("approved", current.Approved).
			Msg("Execution blocked: rule is not active and approved")
		return &domain.ExecutionFailure{Reason: fmt.Sprintf("rule is %s", current.State)}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.MoverTimeout)
	defer cancel()

	switch a := rule.Action.(type) {
	case domain.SweepToGoal, domain.RoundUpInvest:
		receipt, err := e.mover.Move(callCtx, domain.TransferRequest{
			ExecutionID:   exec.ID,
			UserID:        exec.UserID,
			RuleID:        rule.ID,
			SourceAccount: event.SourceAccount,
			Destination:   exec.Target,
			Amount:        exec.Amount,
		})
		if err != nil {
			return failureFrom(callCtx, err)
		}
		exec.TransferRef = receipt.Reference
	case domain.FreezeSubscription:
		until := exec.Timestamp.AddDate(0, 0, a.Days())
		if err := e.subs.Freeze(callCtx, exec.UserID, a.Merchant, until); err != nil {
			return failureFrom(callCtx, err)
		}
	case domain.Alert:
		if err := e.notifier.Notify(callCtx, exec.UserID, a.Message); err != nil {
			return failureFrom(callCtx, err)
		}
	default:
		return &domain.ExecutionFailure{Reason: fmt.Sprintf("unsupported action %s", rule.Action.Kind())}
	}
	return nil
}

func failureFrom(callCtx context.Context, err error) *domain.ExecutionFailure {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &domain.ExecutionFailure{Reason: ReasonTimeout}
	}
	return &domain.ExecutionFailure{Reason: err.Error()}
}

// record persists and audits an execution; errors are logged, never returned
func (e *Engine) record(ctx context.Context, exec domain.RuleExecution) {
	persisted := true
	if err := e.repo.Insert(ctx, exec); err != nil {
		persisted = false
		ev := e.log.Error().Err(err).
			Str("execution_id", exec.ID).
			Str("rule_id", exec.RuleID).
			Str("user_id", exec.UserID).
			Str("amount", exec.Amount.String())
		if exec.TransferRef != "" {
			// Funds moved but the record is lost; rollback needs manual reconciliation
			ev = ev.Str("transfer_ref", exec.TransferRef)
		}
		ev.Msg("Failed to persist execution")
	}

	kind := domain.AuditExecution
	switch {
	case exec.Outcome == domain.OutcomeFailed:
		kind = domain.AuditExecutionFailed
	case exec.Simulated:
		kind = domain.AuditExecutionSimulated
	}

	detail := map[string]string{
		"action": string(exec.ActionKind),
		"target": exec.Target,
		"amount": exec.Amount.String(),
		"event":  exec.EventID,
	}
	if exec.FailureReason != "" {
		detail["reason"] = exec.FailureReason
	}
	if exec.TransferRef != "" {
		detail["transfer_ref"] = exec.TransferRef
	}
	if !persisted {
		detail["persisted"] = "false"
	}

	if _, err := e.audit.Append(ctx, domain.AuditEntry{
		UserID:      exec.UserID,
		Kind:        kind,
		RuleID:      exec.RuleID,
		ExecutionID: exec.ID,
		Detail:      detail,
	}); err != nil {
		e.log.Error().Err(err).Str("execution_id", exec.ID).Msg("Failed to audit execution")
	}

	ev := e.log.Info()
	if exec.Outcome == domain.OutcomeFailed {
		ev = e.log.Warn().Str("reason", exec.FailureReason)
	}
	ev.Str("execution_id", exec.ID).
		Str("rule_id", exec.RuleID).
		Str("action", string(exec.ActionKind)).
		Str("amount", exec.Amount.String()).
		Bool("simulated", exec.Simulated).
		Msg("Rule executed")
}
