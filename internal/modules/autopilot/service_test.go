package autopilot

import (
	"context"
	"testing"
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/FenadoAI/autopilot/internal/modules/execution"
	"github.com/FenadoAI/autopilot/internal/modules/ledger"
	"github.com/FenadoAI/autopilot/internal/modules/recommender"
	"github.com/FenadoAI/autopilot/internal/modules/rules"
	"github.com/FenadoAI/autopilot/internal/modules/simulation"
	testingpkg "github.com/FenadoAI/autopilot/internal/testing"
	"github.com/FenadoAI/autopilot/internal/utils"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	service *Service
	ledger  *ledger.AuditLedger
	mover   *testingpkg.MockFundsMover
	clock   *testClock
}

func newHarness(t *testing.T) (*harness, func()) {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	appDB, cleanupApp := testingpkg.NewTestDB(t, "autopilot")
	ledgerDB, cleanupLedger := testingpkg.NewTestDB(t, "ledger")

	h := &harness{
		mover: new(testingpkg.MockFundsMover),
		clock: &testClock{now: testingpkg.FixedTime},
	}
	h.ledger = ledger.NewAuditLedger(ledgerDB.Conn(), log).WithClock(h.clock.Now)

	locks := utils.NewKeyedMutex()
	ruleService := rules.NewService(rules.NewRepository(appDB.Conn(), log), h.ledger, locks, rules.DefaultPolicy(), log).WithClock(h.clock.Now)
	engine := execution.NewEngine(ruleService, execution.NewRepository(appDB.Conn(), log), h.mover,
		new(testingpkg.MockNotifier), new(testingpkg.MockSubscriptionController), h.ledger, locks,
		execution.DefaultConfig(), log).WithClock(h.clock.Now)

	sim := simulation.New(simulation.Config{Workers: 2, DefaultTrials: 100}, nil, log)
	h.service = NewService(sim, recommender.New(sim, 50, log), ruleService, engine, h.ledger, log).WithClock(h.clock.Now)

	return h, func() {
		cleanupApp()
		cleanupLedger()
	}
}

func sweepRecommendation() domain.RecommendedRule {
	r := testingpkg.NewSweepRule("user-1", 1000, 500)
	return domain.RecommendedRule{Name: r.Name, Condition: r.Condition, Action: r.Action, Mode: r.Mode}
}

func TestRunSimulation_SeedAndRecommendations(t *testing.T) {
	h, cleanup := newHarness(t)
	defer cleanup()
	ctx := context.Background()

	seed := int64(42)
	req := SimulationRequest{
		Profile:  testingpkg.NewProfileFixture(),
		Scenario: domain.JobLoss{StartMonth: 2, DurationMonths: 4},
		Mode:     domain.ModeConservative,
		Trials:   200,
		Seed:     &seed,
	}
	first, err := h.service.RunSimulation(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(42), first.Seed)
	assert.NotNil(t, first.Recommendations)
	assert.LessOrEqual(t, first.P10EndingBalance, first.MedianEndingBalance)
	assert.LessOrEqual(t, first.MedianEndingBalance, first.P90EndingBalance)

	second, err := h.service.RunSimulation(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.MedianEndingBalance, second.MedianEndingBalance)
	assert.Equal(t, first.GoalSuccessProbability, second.GoalSuccessProbability)

	req.Seed = nil
	drawn, err := h.service.RunSimulation(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, testingpkg.FixedTime.UnixNano(), drawn.Seed)
}

func TestRunSimulation_InsufficientHistory(t *testing.T) {
	h, cleanup := newHarness(t)
	defer cleanup()

	profile := testingpkg.NewProfileFixture()
	profile.HistoryMonths = 2
	_, err := h.service.RunSimulation(context.Background(), SimulationRequest{Profile: profile, Mode: domain.ModeBalanced})
	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)
}

func TestRuleToRollback_EndToEnd(t *testing.T) {
	h, cleanup := newHarness(t)
	defer cleanup()
	ctx := context.Background()

	rule, err := h.service.CreateRule(ctx, "user-1", sweepRecommendation(), nil)
	require.NoError(t, err)
	_, err = h.service.ApproveRule(ctx, rule.ID)
	require.NoError(t, err)

	// Dry run: recorded but no money moves
	execs, err := h.service.HandleEvent(ctx, "user-1", testingpkg.NewPaycheckEvent("user-1", 1500))
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].Simulated)
	h.mover.AssertNotCalled(t, "Move", mock.Anything, mock.Anything)

	h.clock.Advance(time.Hour)
	_, err = h.service.ConfirmRule(ctx, rule.ID)
	require.NoError(t, err)

	h.mover.On("Move", mock.Anything, mock.Anything).Return(domain.TransferReceipt{Reference: "tr-1"}, nil).Once()
	execs, err = h.service.HandleEvent(ctx, "user-1", testingpkg.NewPaycheckEvent("user-1", 1500))
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.False(t, execs[0].Simulated)
	assert.True(t, decimal.NewFromInt(500).Equal(execs[0].Amount))

	h.mover.On("Reverse", mock.Anything, execs[0].ID, mock.Anything).Return(nil).Once()
	h.clock.Advance(23 * time.Hour)
	result, err := h.service.RollbackExecution(ctx, execs[0].ID, "")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(500).Equal(result.RefundedAmount))

	listed, err := h.service.ListExecutions(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	entries, err := h.service.GetAuditLog(ctx, "user-1", time.Time{}, time.Time{})
	require.NoError(t, err)
	kinds := make([]domain.AuditKind, len(entries))
	for i, e := range entries {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []domain.AuditKind{
		domain.AuditRuleCreated,
		domain.AuditRuleApproved,
		domain.AuditExecutionSimulated,
		domain.AuditRuleActivated,
		domain.AuditExecution,
		domain.AuditRollback,
	}, kinds)

	report, err := h.ledger.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 6, report.Entries)
}

func TestKillSwitch_StopsExecution(t *testing.T) {
	h, cleanup := newHarness(t)
	defer cleanup()
	ctx := context.Background()

	rule, err := h.service.CreateRule(ctx, "user-1", sweepRecommendation(), nil)
	require.NoError(t, err)
	_, err = h.service.ApproveRule(ctx, rule.ID)
	require.NoError(t, err)

	paused, err := h.service.KillSwitch(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, paused, 1)
	assert.Equal(t, domain.RuleStatePaused, paused[0].State)

	execs, err := h.service.HandleEvent(ctx, "user-1", testingpkg.NewPaycheckEvent("user-1", 1500))
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestGetAuditLog_Range(t *testing.T) {
	h, cleanup := newHarness(t)
	defer cleanup()
	ctx := context.Background()

	_, err := h.service.CreateRule(ctx, "user-1", sweepRecommendation(), nil)
	require.NoError(t, err)
	h.clock.Advance(2 * time.Hour)
	_, err = h.service.SetTransactionCap(ctx, "user-1", decimal.NewFromInt(800))
	require.NoError(t, err)

	entries, err := h.service.GetAuditLog(ctx, "user-1", testingpkg.FixedTime.Add(time.Hour), time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditCapChanged, entries[0].Kind)

	_, err = h.service.GetAuditLog(ctx, "user-1", testingpkg.FixedTime, testingpkg.FixedTime.Add(-time.Hour))
	assert.ErrorIs(t, err, domain.ErrValidation)
}
