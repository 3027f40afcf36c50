package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	testingpkg "github.com/FenadoAI/autopilot/internal/testing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// executeSweep runs one real 500 sweep and returns its execution
func executeSweep(t *testing.T, f *fixture) domain.RuleExecution {
	t.Helper()
	cond, action := surplusSweep(1000, 500)
	f.newRule(t, cond, action, domain.RuleStateActive)
	f.mover.On("Move", mock.Anything, amountIs("500")).Return(domain.TransferReceipt{Reference: "tr-1"}, nil).Once()

	execs, err := f.engine.Evaluate(context.Background(), "user-1", testingpkg.NewPaycheckEvent("user-1", 1500))
	require.NoError(t, err)
	require.Len(t, execs, 1)
	return execs[0]
}

func decimalIs(v string) interface{} {
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(dec(v)) })
}

func TestRollback_InsideWindow(t *testing.T) {
	f, cleanup := setup(t, DefaultConfig())
	defer cleanup()
	ctx := context.Background()

	exec := executeSweep(t, f)
	f.mover.On("Reverse", mock.Anything, exec.ID, decimalIs("500")).Return(nil).Once()

	f.clock.Advance(23 * time.Hour)
	result, err := f.engine.Rollback(ctx, exec.ID, "changed my mind")
	require.NoError(t, err)
	assert.True(t, result.RolledBack)
	assert.Equal(t, exec.ID, result.ExecutionID)
	assert.True(t, dec("500").Equal(result.RefundedAmount))

	stored, err := f.engine.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.True(t, stored.RolledBack)
	assert.Equal(t, "changed my mind", stored.RollbackReason)
	require.NotNil(t, stored.RolledBackAt)
	assert.True(t, stored.RolledBackAt.Equal(f.clock.now))

	kinds := f.audit.Kinds()
	assert.Equal(t, domain.AuditRollback, kinds[len(kinds)-1])

	// Refund happens exactly once
	_, err = f.engine.Rollback(ctx, exec.ID, "")
	assert.ErrorIs(t, err, domain.ErrAlreadyRolledBack)
	f.mover.AssertNumberOfCalls(t, "Reverse", 1)
}

func TestRollback_WindowExpired(t *testing.T) {
	f, cleanup := setup(t, DefaultConfig())
	defer cleanup()

	exec := executeSweep(t, f)
	f.clock.Advance(25 * time.Hour)

	_, err := f.engine.Rollback(context.Background(), exec.ID, "")
	assert.ErrorIs(t, err, domain.ErrRollbackWindowExpired)
	f.mover.AssertNotCalled(t, "Reverse", mock.Anything, mock.Anything, mock.Anything)

	stored, err := f.engine.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.False(t, stored.RolledBack)
}

func TestRollback_NotReversible(t *testing.T) {
	f, cleanup := setup(t, DefaultConfig())
	defer cleanup()
	ctx := context.Background()

	// dry-run sweep, failed sweep and an alert
	cond, action := surplusSweep(1000, 500)
	f.newRule(t, cond, action, domain.RuleStateDryRun)
	f.newRule(t, domain.PaycheckSurplus{Threshold: dec("1000")},
		domain.SweepToGoal{GoalID: "goal-house", Cap: dec("500")}, domain.RuleStateActive)
	f.newRule(t, domain.PaycheckSurplus{Threshold: dec("1000")}, domain.Alert{Message: "payday"}, domain.RuleStateActive)

	f.mover.On("Move", mock.Anything, mock.Anything).Return(domain.TransferReceipt{}, errors.New("bank offline")).Once()
	f.notifier.On("Notify", mock.Anything, "user-1", "payday").Return(nil).Once()

	execs, err := f.engine.Evaluate(ctx, "user-1", testingpkg.NewPaycheckEvent("user-1", 1500))
	require.NoError(t, err)
	require.Len(t, execs, 3)
	assert.True(t, execs[0].Simulated)
	assert.Equal(t, domain.OutcomeFailed, execs[1].Outcome)
	assert.Equal(t, domain.ActionAlert, execs[2].ActionKind)

	for _, exec := range execs {
		_, err := f.engine.Rollback(ctx, exec.ID, "")
		assert.ErrorIs(t, err, domain.ErrNotReversible, exec.ID)
	}
	f.mover.AssertNotCalled(t, "Reverse", mock.Anything, mock.Anything, mock.Anything)
}

func TestRollback_UnfreezesSubscription(t *testing.T) {
	f, cleanup := setup(t, DefaultConfig())
	defer cleanup()
	ctx := context.Background()

	f.newRule(t, domain.SpendingSpike{Category: "subscriptions", ThresholdPct: dec("130")},
		domain.FreezeSubscription{Merchant: "Netflix", DurationDays: 7}, domain.RuleStateActive)
	f.subs.On("Freeze", mock.Anything, "user-1", "Netflix", mock.Anything).Return(nil).Once()
	f.subs.On("Unfreeze", mock.Anything, "user-1", "Netflix").Return(nil).Once()

	execs, err := f.engine.Evaluate(ctx, "user-1", domain.Event{
		ID:               "evt-sub",
		Type:             domain.EventTransaction,
		Category:         "subscriptions",
		CategorySpend:    dec("170"),
		CategoryBaseline: dec("120"),
	})
	require.NoError(t, err)
	require.Len(t, execs, 1)

	result, err := f.engine.Rollback(ctx, execs[0].ID, "")
	require.NoError(t, err)
	assert.True(t, result.RefundedAmount.IsZero())
	f.subs.AssertExpectations(t)
}

func TestRollback_ReverseFailureLeavesExecutionOpen(t *testing.T) {
	f, cleanup := setup(t, DefaultConfig())
	defer cleanup()
	ctx := context.Background()

	exec := executeSweep(t, f)
	f.mover.On("Reverse", mock.Anything, exec.ID, mock.Anything).Return(errors.New("bank offline")).Once()

	_, err := f.engine.Rollback(ctx, exec.ID, "")
	require.Error(t, err)

	stored, err := f.engine.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.False(t, stored.RolledBack)
}

func TestRollback_FinalizeFailureNeverRefundsTwice(t *testing.T) {
	f, cleanup := setup(t, DefaultConfig())
	defer cleanup()
	ctx := context.Background()

	exec := executeSweep(t, f)
	f.mover.On("Reverse", mock.Anything, exec.ID, decimalIs("500")).Return(nil).Once()

	_, err := f.conn.Exec(`CREATE TRIGGER block_finalize BEFORE UPDATE OF rolled_back ON executions
		WHEN NEW.rolled_back = 1 BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)

	_, err = f.engine.Rollback(ctx, exec.ID, "")
	require.Error(t, err)

	stored, err := f.engine.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.False(t, stored.RolledBack)
	assert.NotNil(t, stored.RollbackClaimedAt)

	_, err = f.conn.Exec(`DROP TRIGGER block_finalize`)
	require.NoError(t, err)

	// The claim stays; a retry must not reverse again
	_, err = f.engine.Rollback(ctx, exec.ID, "")
	assert.ErrorIs(t, err, domain.ErrAlreadyRolledBack)
	f.mover.AssertNumberOfCalls(t, "Reverse", 1)
}

func TestRollback_ReverseFailureReleasesClaim(t *testing.T) {
	f, cleanup := setup(t, DefaultConfig())
	defer cleanup()
	ctx := context.Background()

	exec := executeSweep(t, f)
	f.mover.On("Reverse", mock.Anything, exec.ID, mock.Anything).Return(errors.New("bank offline")).Once()
	f.mover.On("Reverse", mock.Anything, exec.ID, decimalIs("500")).Return(nil).Once()

	_, err := f.engine.Rollback(ctx, exec.ID, "")
	require.Error(t, err)

	stored, err := f.engine.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RollbackClaimedAt)

	result, err := f.engine.Rollback(ctx, exec.ID, "retry")
	require.NoError(t, err)
	assert.True(t, dec("500").Equal(result.RefundedAmount))
	f.mover.AssertNumberOfCalls(t, "Reverse", 2)
}

func TestRollback_NotFound(t *testing.T) {
	f, cleanup := setup(t, DefaultConfig())
	defer cleanup()

	_, err := f.engine.Rollback(context.Background(), "missing", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
