package simulation

import (
	"testing"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeCases_AdviceFollowsScenarioAndMode(t *testing.T) {
	res := &Result{P10EndingBalance: 100, MedianEndingBalance: 200, P90EndingBalance: 300, MeanGoalCompletion: 0.9}

	tests := []struct {
		name       string
		scenario   domain.Scenario
		mode       domain.Mode
		completion float64
		worst      []string
		expected   []string
		best       []string
	}{
		{
			name:       "windfall balanced",
			scenario:   domain.Windfall{Amount: 5000, Month: 1},
			mode:       domain.ModeBalanced,
			completion: 0.9,
			worst:      []string{"Send 50% of the windfall to the emergency fund"},
			expected: []string{
				"Send 50% of the windfall to the emergency fund",
				"Auto-invest 30% of the windfall into index funds",
				"Round up purchases to the nearest $10 and invest the difference",
			},
			best: []string{
				"Auto-invest 30% of the windfall into index funds",
				"Round up purchases to the nearest $10 and invest the difference",
				"Route 10% of bonuses to retirement",
			},
		},
		{
			name:       "job loss conservative behind on goals",
			scenario:   domain.JobLoss{StartMonth: 1, DurationMonths: 3},
			mode:       domain.ModeConservative,
			completion: 0.2,
			worst: []string{
				"Build an emergency fund of $21000 covering 6 months of essential spending",
				"Auto-pause non-essential subscriptions while income is interrupted",
				"Sweep paycheck surplus into the emergency goal",
				"Alert when discretionary spending exceeds 15% of income",
			},
			expected: []string{
				"Build an emergency fund of $21000 covering 6 months of essential spending",
				"Auto-pause non-essential subscriptions while income is interrupted",
				"Sweep paycheck surplus into the emergency goal",
			},
			best: []string{"Increase automatic goal contributions by 5% monthly"},
		},
		{
			name:       "baseline experimental",
			scenario:   nil,
			mode:       domain.ModeExperimental,
			completion: 0.9,
			worst:      []string{},
			expected: []string{
				"Reallocate budget categories dynamically from recent spending",
				"Negotiate recurring bills automatically",
			},
			best: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tips := adviceFor(emergencyFundProfile(), tt.scenario, tt.mode, tt.completion)
			require.LessOrEqual(t, len(tips), maxAdvice)

			out := outcomeCases(res, tips, 0.1, 1)
			assert.Equal(t, tt.worst, out.WorstCase.Advice)
			assert.Equal(t, tt.expected, out.Expected.Advice)
			assert.Equal(t, tt.best, out.BestCase.Advice)

			assert.Equal(t, 0.1, out.WorstCase.GoalCompletion)
			assert.Equal(t, 0.9, out.Expected.GoalCompletion)
			assert.Equal(t, 1.0, out.BestCase.GoalCompletion)
			assert.Equal(t, 100.0, out.WorstCase.EndingBalance)
			assert.Equal(t, 300.0, out.BestCase.EndingBalance)
		})
	}
}
