package rules

import (
	"context"
	"testing"
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	testingpkg "github.com/FenadoAI/autopilot/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) (*Repository, func()) {
	db, cleanup := testingpkg.NewTestDB(t, "autopilot")
	return NewRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled)), cleanup
}

func storedRule(id string, state domain.RuleState, at time.Time) *domain.AutopilotRule {
	r := testingpkg.NewSweepRule("user-1", 1000, 500)
	r.ID = id
	r.State = state
	r.CreatedAt = at
	r.UpdatedAt = at
	r.StateChangedAt = at
	return &r
}

func TestRepository_RoundTripsEveryActionKind(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()
	ctx := context.Background()

	actions := map[string]domain.Action{
		"sweep":  domain.SweepToGoal{GoalID: "goal-emergency", Cap: decimal.NewFromInt(500)},
		"round":  domain.RoundUpInvest{Cap: decimal.NewFromInt(50), RoundTo: decimal.NewFromInt(5)},
		"freeze": domain.FreezeSubscription{Merchant: "Netflix", DurationDays: 7},
		"alert":  domain.Alert{Message: "dining is running hot"},
	}
	for id, action := range actions {
		r := storedRule(id, domain.RuleStateDraft, testingpkg.FixedTime)
		r.Condition = domain.SpendingSpike{Category: "dining", ThresholdPct: decimal.NewFromInt(130)}
		r.Action = action
		require.NoError(t, repo.Create(ctx, r))

		got, err := repo.Get(ctx, id)
		require.NoError(t, err)
		want, err := domain.MarshalAction(action)
		require.NoError(t, err)
		have, err := domain.MarshalAction(got.Action)
		require.NoError(t, err)
		assert.JSONEq(t, string(want), string(have), id)
		assert.Equal(t, r.Condition.Key(), got.Condition.Key())
		assert.Nil(t, got.Justification)
		assert.Nil(t, got.ApprovedAt)
	}
}

func TestRepository_ListOrdering(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()
	ctx := context.Background()

	base := testingpkg.FixedTime
	require.NoError(t, repo.Create(ctx, storedRule("b", domain.RuleStateActive, base)))
	require.NoError(t, repo.Create(ctx, storedRule("a", domain.RuleStateDryRun, base)))
	require.NoError(t, repo.Create(ctx, storedRule("c", domain.RuleStatePaused, base.Add(-time.Hour))))

	all, err := repo.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{all[0].ID, all[1].ID, all[2].ID})

	running, err := repo.ListByStates(ctx, "user-1", domain.RuleStateDryRun, domain.RuleStateActive)
	require.NoError(t, err)
	require.Len(t, running, 2)
	assert.Equal(t, "a", running[0].ID)

	none, err := repo.ListByStates(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, none)

	due, err := repo.ListDue(ctx, domain.RuleStateDryRun, base)
	require.NoError(t, err)
	require.Len(t, due, 1)
	due, err = repo.ListDue(ctx, domain.RuleStateDryRun, base.Add(-time.Nanosecond))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRepository_UpdateStateIsGuarded(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()
	ctx := context.Background()

	r := storedRule("rule-1", domain.RuleStateDraft, testingpkg.FixedTime)
	require.NoError(t, repo.Create(ctx, r))

	approvedAt := testingpkg.FixedTime.Add(time.Minute)
	r.State = domain.RuleStateDryRun
	r.Approved = true
	r.ApprovedAt = &approvedAt
	require.NoError(t, repo.UpdateState(ctx, r, domain.RuleStateDraft))

	// Second writer still believes the rule is a draft
	r.State = domain.RuleStateRejected
	err := repo.UpdateState(ctx, r, domain.RuleStateDraft)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	got, err := repo.Get(ctx, "rule-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RuleStateDryRun, got.State)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, got.ApprovedAt.Equal(approvedAt))
}

func TestRepository_Limits(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()
	ctx := context.Background()

	limits, err := repo.GetLimits(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, limits)

	require.NoError(t, repo.SetLimits(ctx, domain.UserLimits{UserID: "user-1", TransactionCap: decimal.NewFromInt(750), Explicit: true, UpdatedAt: testingpkg.FixedTime}))
	require.NoError(t, repo.SetLimits(ctx, domain.UserLimits{UserID: "user-1", TransactionCap: decimal.NewFromInt(900), Explicit: true, UpdatedAt: testingpkg.FixedTime}))

	limits, err = repo.GetLimits(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, limits)
	assert.True(t, decimal.NewFromInt(900).Equal(limits.TransactionCap))
	assert.True(t, limits.Explicit)
}
