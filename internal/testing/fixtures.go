package testing

import (
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/shopspring/decimal"
)

// FixedTime is the reference "now" used across tests
var FixedTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// NewProfileFixture returns a stable, healthy financial profile
func NewProfileFixture() domain.FinancialProfile {
	return domain.FinancialProfile{
		UserID:        "user-1",
		AsOf:          FixedTime,
		LiquidBalance: 10000,
		Income:        domain.Distribution{Mean: 5000, Variance: 250000},
		Expense:       domain.Distribution{Mean: 3800, Variance: 160000},
		ExpenseCategories: map[string]domain.Distribution{
			"housing":       {Mean: 1800, Variance: 0},
			"groceries":     {Mean: 700, Variance: 10000},
			"dining":        {Mean: 500, Variance: 40000},
			"subscriptions": {Mean: 120, Variance: 100},
			"other":         {Mean: 680, Variance: 30000},
		},
		Goals: []domain.Goal{
			{
				ID:            "goal-emergency",
				Name:          "Emergency Fund",
				TargetAmount:  20000,
				CurrentAmount: 8000,
				Deadline:      FixedTime.AddDate(0, 10, 0),
			},
		},
		InvestmentBalance: 5000,
		HistoryMonths:     12,
	}
}

// NewPaycheckEvent returns a paycheck event with the given surplus
func NewPaycheckEvent(userID string, surplus int64) domain.Event {
	return domain.Event{
		ID:         "evt-paycheck",
		UserID:     userID,
		Type:       domain.EventPaycheck,
		OccurredAt: FixedTime,
		Amount:     decimal.NewFromInt(5000),
		Balance:    decimal.NewFromInt(6000),
		Surplus:    decimal.NewFromInt(surplus),
		Goals: map[string]domain.GoalSnapshot{
			"goal-emergency": {Target: decimal.NewFromInt(20000), Current: decimal.NewFromInt(8000)},
		},
	}
}

// NewSweepRule returns a draft SweepToGoal-on-PaycheckSurplus rule
func NewSweepRule(userID string, threshold, cap int64) domain.AutopilotRule {
	return domain.AutopilotRule{
		UserID:    userID,
		Name:      "Paycheck Surplus Sweep",
		Mode:      domain.ModeConservative,
		Condition: domain.PaycheckSurplus{Threshold: decimal.NewFromInt(threshold)},
		Action:    domain.SweepToGoal{GoalID: "goal-emergency", Cap: decimal.NewFromInt(cap)},
		State:     domain.RuleStateDraft,
	}
}
