package simulation

import (
	"context"
	"testing"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_CancelUser(t *testing.T) {
	tracker := NewTracker(zerolog.New(nil).Level(zerolog.Disabled))

	runA, ctxA := tracker.Start(context.Background(), "alice", 100, 1)
	_, ctxB := tracker.Start(context.Background(), "bob", 100, 1)
	tracker.Transition(runA.ID, RunRunning)

	active := tracker.Active("alice")
	require.Len(t, active, 1)
	assert.Equal(t, RunRunning, active[0].Status)

	assert.Equal(t, 1, tracker.CancelUser("alice"))
	assert.ErrorIs(t, ctxA.Err(), context.Canceled)
	assert.NoError(t, ctxB.Err())

	tracker.Finish(runA.ID)
	assert.Empty(t, tracker.Active("alice"))
	assert.Len(t, tracker.Active(""), 1)
	assert.Equal(t, 0, tracker.CancelUser("alice"))
}

func TestCandidateRules(t *testing.T) {
	p := emergencyFundProfile()
	p.ExpenseCategories = map[string]domain.Distribution{
		"dining":        {Mean: 500, Variance: 40000},
		"subscriptions": {Mean: 120, Variance: 100},
	}

	conservative := CandidateRules(p, domain.ModeConservative)
	require.Len(t, conservative, 4)
	assert.Equal(t, "Paycheck Surplus Sweep", conservative[0].Name)
	sweep, ok := conservative[0].Action.(domain.SweepToGoal)
	require.True(t, ok)
	assert.Equal(t, "goal-emergency", sweep.GoalID)
	assert.True(t, decimal.NewFromInt(600).Equal(sweep.Cap))

	spike, ok := conservative[2].Condition.(domain.SpendingSpike)
	require.True(t, ok)
	assert.Equal(t, "dining", spike.Category)
	assert.True(t, decimal.NewFromInt(130).Equal(spike.ThresholdPct))

	freeze, ok := conservative[3].Action.(domain.FreezeSubscription)
	require.True(t, ok)
	assert.Equal(t, domain.DefaultFreezeDays, freeze.DurationDays)

	balanced := CandidateRules(p, domain.ModeBalanced)
	require.Len(t, balanced, 3)
	assert.Equal(t, domain.ActionRoundUpInvest, balanced[0].Action.Kind())

	experimental := CandidateRules(p, domain.ModeExperimental)
	require.Len(t, experimental, 3)
	for _, tpl := range experimental {
		assert.NoError(t, tpl.Validate(), tpl.Name)
	}
}

func TestCandidateRules_NoGoals(t *testing.T) {
	p := emergencyFundProfile()
	p.Goals = nil

	for _, tpl := range CandidateRules(p, domain.ModeBalanced) {
		assert.NotEqual(t, domain.ActionSweepToGoal, tpl.Action.Kind())
	}
	assert.Len(t, CandidateRules(p, domain.ModeConservative), 2)
}

func TestMarketDipHitsInvestments(t *testing.T) {
	p := emergencyFundProfile()
	p.InvestmentBalance = 50000
	sim := newTestSimulator(2)

	base, err := sim.Simulate(context.Background(), Request{Profile: p, Mode: domain.ModeBalanced, Trials: 200, Seed: 11, Rules: []Template{}})
	require.NoError(t, err)
	dip, err := sim.Simulate(context.Background(), Request{
		Profile:  p,
		Scenario: domain.MarketDip{DrawdownPct: 0.4, StartMonth: 2, DurationMonths: 4},
		Mode:     domain.ModeBalanced,
		Trials:   200,
		Seed:     11,
		Rules:    []Template{},
	})
	require.NoError(t, err)

	// Liquid cash is untouched by a market dip; net worth is not
	assert.Equal(t, base.MedianEndingBalance, dip.MedianEndingBalance)
	assert.Less(t, dip.MedianNetWorth, base.MedianNetWorth)
}
