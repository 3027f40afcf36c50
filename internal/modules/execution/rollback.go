package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/shopspring/decimal"
)

// Rollback reverses a successful execution inside its rollback window.
// It runs under the same per-user lock as Evaluate.
func (e *Engine) Rollback(ctx context.Context, executionID, reason string) (*domain.RollbackResult, error) {
	exec, err := e.repo.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(exec.UserID)
	defer unlock()

	exec, err = e.repo.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if exec.RolledBack || exec.RollbackClaimedAt != nil {
		return nil, fmt.Errorf("execution %s: %w", exec.ID, domain.ErrAlreadyRolledBack)
	}
	if !exec.Reversible() {
		return nil, fmt.Errorf("execution %s (%s, %s): %w", exec.ID, exec.ActionKind, exec.Outcome, domain.ErrNotReversible)
	}
	now := e.clock().UTC()
	if now.After(exec.RollbackDeadline) {
		return nil, fmt.Errorf("execution %s expired at %s: %w", exec.ID, exec.RollbackDeadline.Format(time.RFC3339), domain.ErrRollbackWindowExpired)
	}

	// Claim before reversing so a failed finalize can never lead to a second refund
	if err := e.repo.ClaimRollback(ctx, exec.ID, now); err != nil {
		return nil, err
	}

	refunded, err := e.reverse(ctx, exec)
	if err != nil {
		if releaseErr := e.repo.ReleaseRollback(ctx, exec.ID); releaseErr != nil {
			e.log.Error().Err(releaseErr).Str("execution_id", exec.ID).Msg("Failed to release rollback claim")
		}
		return nil, err
	}

	if err := e.repo.MarkRolledBack(ctx, exec.ID, now, reason); err != nil {
		e.log.Error().
			Err(err).
			Str("execution_id", exec.ID).
			Str("refunded", refunded.String()).
			Msg("Reversal issued but rollback not finalized; execution stays claimed")
		return nil, err
	}

	detail := map[string]string{
		"action":   string(exec.ActionKind),
		"refunded": refunded.String(),
	}
	if reason != "" {
		detail["reason"] = reason
	}
	if _, err := e.audit.Append(ctx, domain.AuditEntry{
		UserID:      exec.UserID,
		Kind:        domain.AuditRollback,
		RuleID:      exec.RuleID,
		ExecutionID: exec.ID,
		Detail:      detail,
	}); err != nil {
		e.log.Error().Err(err).Str("execution_id", exec.ID).Msg("Failed to audit rollback")
	}

	e.log.Info().
		Str("execution_id", exec.ID).
		Str("user_id", exec.UserID).
		Str("refunded", refunded.String()).
		Msg("Execution rolled back")

	return &domain.RollbackResult{
		ExecutionID:    exec.ID,
		RolledBack:     true,
		RefundedAmount: refunded,
	}, nil
}

// reverse undoes the external effect of exec and returns the refunded amount
func (e *Engine) reverse(ctx context.Context, exec *domain.RuleExecution) (decimal.Decimal, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.MoverTimeout)
	defer cancel()

	switch exec.ActionKind {
	case domain.ActionSweepToGoal, domain.ActionRoundUpInvest:
		if err := e.mover.Reverse(callCtx, exec.ID, exec.Amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to reverse execution %s: %w", exec.ID, err)
		}
		return exec.Amount, nil
	case domain.ActionFreezeSubscription:
		merchant := e.merchantOf(ctx, exec)
		if err := e.subs.Unfreeze(callCtx, exec.UserID, merchant); err != nil {
			return decimal.Zero, fmt.Errorf("failed to unfreeze %s for execution %s: %w", merchant, exec.ID, err)
		}
	}
	return decimal.Zero, nil
}

// merchantOf recovers the merchant name from the rule, falling back to the target
func (e *Engine) merchantOf(ctx context.Context, exec *domain.RuleExecution) string {
	if rule, err := e.rules.Get(ctx, exec.RuleID); err == nil {
		if a, ok := rule.Action.(domain.FreezeSubscription); ok {
			return a.Merchant
		}
	}
	return strings.TrimPrefix(exec.Target, "merchant:")
}
