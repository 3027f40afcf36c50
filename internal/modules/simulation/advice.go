package simulation

import (
	"fmt"

	"github.com/FenadoAI/autopilot/internal/domain"
)

const (
	maxAdvice      = 5
	expectedAdvice = 3
	// lowCompletion is the mean goal completion below which contributions should rise
	lowCompletion = 0.5
)

type stance int

const (
	stanceNeutral stance = iota
	stanceProtect
	stanceGrow
)

type tip struct {
	text   string
	stance stance
}

// OutcomeCase is one named scenario case reported to users
type OutcomeCase struct {
	Name           string   `json:"name"`
	Probability    float64  `json:"probability"`
	EndingBalance  float64  `json:"ending_balance"`
	GoalCompletion float64  `json:"goal_completion"`
	Advice         []string `json:"advice"`
}

// Outcomes are the worst, expected and best cases of a run
type Outcomes struct {
	WorstCase OutcomeCase `json:"worst_case"`
	Expected  OutcomeCase `json:"expected"`
	BestCase  OutcomeCase `json:"best_case"`
}

// adviceFor lists scenario tips first, then mode tips, capped at maxAdvice
func adviceFor(profile domain.FinancialProfile, scenario domain.Scenario, mode domain.Mode, meanCompletion float64) []tip {
	var tips []tip

	switch kindOf(scenario) {
	case domain.ScenarioJobLoss:
		tips = append(tips,
			tip{fmt.Sprintf("Build an emergency fund of $%.0f covering 6 months of essential spending", profile.Income.Mean*0.7*6), stanceProtect},
			tip{"Auto-pause non-essential subscriptions while income is interrupted", stanceProtect},
		)
	case domain.ScenarioMarketDip:
		tips = append(tips,
			tip{"Auto-invest surplus cash while markets are down", stanceGrow},
			tip{"Turn on spending alerts to avoid panic purchases", stanceProtect},
		)
	case domain.ScenarioBigPurchase:
		tips = append(tips,
			tip{"Open a sinking fund goal for the purchase", stanceNeutral},
			tip{"Auto-transfer bonuses and windfalls to the purchase fund", stanceNeutral},
		)
	case domain.ScenarioWindfall:
		tips = append(tips,
			tip{"Send 50% of the windfall to the emergency fund", stanceProtect},
			tip{"Auto-invest 30% of the windfall into index funds", stanceGrow},
		)
	}

	switch mode {
	case domain.ModeConservative:
		tips = append(tips,
			tip{"Sweep paycheck surplus into the emergency goal", stanceProtect},
			tip{"Alert when discretionary spending exceeds 15% of income", stanceProtect},
		)
	case domain.ModeBalanced:
		tips = append(tips,
			tip{"Round up purchases to the nearest $10 and invest the difference", stanceGrow},
			tip{"Route 10% of bonuses to retirement", stanceGrow},
		)
	case domain.ModeExperimental:
		tips = append(tips,
			tip{"Reallocate budget categories dynamically from recent spending", stanceNeutral},
			tip{"Negotiate recurring bills automatically", stanceNeutral},
		)
	}

	if meanCompletion < lowCompletion {
		tips = append(tips, tip{"Increase automatic goal contributions by 5% monthly", stanceGrow})
	}

	if len(tips) > maxAdvice {
		tips = tips[:maxAdvice]
	}
	return tips
}

func texts(tips []tip, keep func(tip) bool) []string {
	out := make([]string, 0, len(tips))
	for _, t := range tips {
		if keep == nil || keep(t) {
			out = append(out, t.text)
		}
	}
	return out
}

// outcomeCases splits the tips across the three cases: protective tips for the
// worst case, growth tips for the best case, the leading tips for the median.
func outcomeCases(res *Result, tips []tip, minCompletion, maxCompletion float64) Outcomes {
	expected := tips
	if len(expected) > expectedAdvice {
		expected = expected[:expectedAdvice]
	}
	return Outcomes{
		WorstCase: OutcomeCase{
			Name:           "Worst Case (10th Percentile)",
			Probability:    0.10,
			EndingBalance:  res.P10EndingBalance,
			GoalCompletion: minCompletion,
			Advice:         texts(tips, func(t tip) bool { return t.stance == stanceProtect }),
		},
		Expected: OutcomeCase{
			Name:           "Expected Case (Median)",
			Probability:    0.50,
			EndingBalance:  res.MedianEndingBalance,
			GoalCompletion: res.MeanGoalCompletion,
			Advice:         texts(expected, nil),
		},
		BestCase: OutcomeCase{
			Name:           "Best Case (90th Percentile)",
			Probability:    0.10,
			EndingBalance:  res.P90EndingBalance,
			GoalCompletion: maxCompletion,
			Advice:         texts(tips, func(t tip) bool { return t.stance == stanceGrow }),
		},
	}
}
