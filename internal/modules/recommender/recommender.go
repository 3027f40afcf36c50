// Package recommender scores candidate autopilot rules against a control simulation.
package recommender

import (
	"context"
	"sort"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/FenadoAI/autopilot/internal/modules/simulation"
	"github.com/rs/zerolog"
)

const (
	// DefaultTrials is the reduced trial count used for each control/treatment pair
	DefaultTrials = 200
	// MinImprovement is the smallest marginal improvement worth recommending
	MinImprovement = 0.001
)

// Runner runs simulations; satisfied by *simulation.Simulator
type Runner interface {
	Simulate(ctx context.Context, req simulation.Request) (*simulation.Result, error)
}

// Recommender ranks rule templates by their marginal effect on a simulated outcome
type Recommender struct {
	runner Runner
	trials int
	log    zerolog.Logger
}

// New creates a recommender; trials <= 0 uses DefaultTrials
func New(runner Runner, trials int, log zerolog.Logger) *Recommender {
	if trials <= 0 {
		trials = DefaultTrials
	}
	return &Recommender{
		runner: runner,
		trials: trials,
		log:    log.With().Str("service", "recommender").Logger(),
	}
}

type scored struct {
	rule     domain.RecommendedRule
	variance float64
	params   int
	order    int
}

// Recommend returns ranked candidates for mode. It never fails: any error,
// including cancellation, yields an empty list.
func (r *Recommender) Recommend(ctx context.Context, result *simulation.Result, mode domain.Mode) []domain.RecommendedRule {
	out := []domain.RecommendedRule{}
	if result == nil || !mode.Valid() {
		return out
	}

	templates := simulation.CandidateRules(result.Profile, mode)
	if len(templates) == 0 {
		return out
	}

	base := simulation.Request{
		UserID:   result.Profile.UserID,
		Profile:  result.Profile,
		Scenario: result.Scenario,
		Mode:     mode,
		Trials:   r.trials,
		Seed:     result.Seed,
	}

	controlReq := base
	controlReq.Rules = []simulation.Template{}
	control, err := r.runner.Simulate(ctx, controlReq)
	if err != nil {
		r.log.Warn().Err(err).Msg("Control simulation failed, no recommendations")
		return out
	}

	annualIncome := result.Profile.Income.Mean * 12
	monthlyIncome := result.Profile.Income.Mean

	candidates := make([]scored, 0, len(templates))
	for i, tpl := range templates {
		treatReq := base
		treatReq.Rules = []simulation.Template{tpl}
		treatment, err := r.runner.Simulate(ctx, treatReq)
		if err != nil {
			r.log.Warn().Err(err).Str("template", tpl.Name).Msg("Treatment simulation failed, no recommendations")
			return []domain.RecommendedRule{}
		}

		impact := domain.Impact{
			GoalSuccessDelta:    treatment.GoalSuccessProbability - control.GoalSuccessProbability,
			MedianBalanceDelta:  treatment.MedianEndingBalance - control.MedianEndingBalance,
			MedianNetWorthDelta: treatment.MedianNetWorth - control.MedianNetWorth,
		}
		improvement := impact.GoalSuccessDelta
		if annualIncome > 0 {
			improvement += impact.MedianNetWorthDelta / annualIncome
		}
		if improvement <= MinImprovement {
			r.log.Debug().Str("template", tpl.Name).Float64("improvement", improvement).Msg("Template dropped")
			continue
		}

		candidates = append(candidates, scored{
			rule: domain.RecommendedRule{
				Name:               tpl.Name,
				Condition:          tpl.Condition,
				Action:             tpl.Action,
				Mode:               mode,
				SuccessProbability: treatment.GoalSuccessProbability,
				EstimatedImpact:    impact,
				RiskLevel:          riskLevel(treatment.StdDevEndingBalance, monthlyIncome),
				Score:              improvement,
				OutcomeStdDev:      treatment.StdDevEndingBalance,
			},
			variance: treatment.StdDevEndingBalance * treatment.StdDevEndingBalance,
			params:   tpl.Condition.ParamCount(),
			order:    i,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.rule.Score != b.rule.Score {
			return a.rule.Score > b.rule.Score
		}
		if a.variance != b.variance {
			return a.variance < b.variance
		}
		if a.params != b.params {
			return a.params < b.params
		}
		return a.order < b.order
	})

	for _, c := range candidates {
		out = append(out, c.rule)
	}

	r.log.Debug().Int("templates", len(templates)).Int("recommended", len(out)).Str("mode", string(mode)).Msg("Recommendations ranked")
	return out
}

// riskLevel buckets outcome volatility relative to monthly income
func riskLevel(stdDev, monthlyIncome float64) domain.RiskLevel {
	if monthlyIncome <= 0 {
		if stdDev > 0 {
			return domain.RiskHigh
		}
		return domain.RiskLow
	}
	ratio := stdDev / monthlyIncome
	switch {
	case ratio < 1:
		return domain.RiskLow
	case ratio < 3:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}
