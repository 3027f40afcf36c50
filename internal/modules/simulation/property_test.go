package simulation

import (
	"context"
	"testing"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestPercentileOrderingProperty verifies P10 <= median <= P90 for arbitrary profiles.
func TestPercentileOrderingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	sim := newTestSimulator(4)
	modes := []domain.Mode{domain.ModeConservative, domain.ModeBalanced, domain.ModeExperimental}

	properties.Property("percentiles are ordered", prop.ForAll(
		func(seed int64, balance, income, expense float64, modeIdx int) bool {
			p := emergencyFundProfile()
			p.LiquidBalance = balance
			p.Income = domain.Distribution{Mean: income, Variance: income * income * 0.04}
			p.Expense = domain.Distribution{Mean: expense, Variance: expense * expense * 0.09}

			res, err := sim.Simulate(context.Background(), Request{
				Profile: p,
				Mode:    modes[modeIdx],
				Trials:  60,
				Seed:    seed,
			})
			if err != nil {
				return false
			}
			return res.P10EndingBalance <= res.MedianEndingBalance &&
				res.MedianEndingBalance <= res.P90EndingBalance &&
				res.GoalSuccessProbability >= 0 && res.GoalSuccessProbability <= 1 &&
				res.RiskEventsSurvivedRate <= res.RiskEventRate
		},
		gen.Int64(),
		gen.Float64Range(-2000, 50000),
		gen.Float64Range(0, 15000),
		gen.Float64Range(0, 15000),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}

// TestDeterminismProperty verifies identical requests give identical aggregates.
func TestDeterminismProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("same seed, same result", prop.ForAll(
		func(seed int64, month int) bool {
			req := Request{
				Profile:  emergencyFundProfile(),
				Scenario: domain.JobLoss{StartMonth: month, DurationMonths: 2},
				Mode:     domain.ModeBalanced,
				Trials:   40,
				Seed:     seed,
			}
			a, errA := newTestSimulator(1).Simulate(context.Background(), req)
			b, errB := newTestSimulator(3).Simulate(context.Background(), req)
			if errA != nil || errB != nil {
				return false
			}
			return a.MedianEndingBalance == b.MedianEndingBalance &&
				a.MeanEndingBalance == b.MeanEndingBalance &&
				a.GoalSuccessProbability == b.GoalSuccessProbability &&
				a.MedianNetWorth == b.MedianNetWorth
		},
		gen.Int64(),
		gen.IntRange(1, domain.HorizonMonths),
	))

	properties.TestingRun(t)
}
