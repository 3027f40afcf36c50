package simulation

import (
	"fmt"
	"math"
	"sort"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/shopspring/decimal"
)

// Template is a candidate rule applied inside a simulation as if it were active
type Template struct {
	Name      string
	Condition domain.Condition
	Action    domain.Action
}

// Validate checks both sides of the template
func (t Template) Validate() error {
	if t.Condition == nil || t.Action == nil {
		return &domain.InvalidScenarioParameterError{Param: "rules", Reason: fmt.Sprintf("rule %q needs a condition and an action", t.Name)}
	}
	if err := t.Condition.Validate(); err != nil {
		return &domain.InvalidScenarioParameterError{Param: "rules", Reason: err.Error()}
	}
	if err := t.Action.Validate(); err != nil {
		return &domain.InvalidScenarioParameterError{Param: "rules", Reason: err.Error()}
	}
	return nil
}

const subscriptionsCategory = "subscriptions"

// CandidateRules builds the rule templates for a mode from the profile's figures.
// Order is significant: it is the final tie-break when ranking recommendations.
func CandidateRules(p domain.FinancialProfile, mode domain.Mode) []Template {
	surplus := math.Max(0, p.Income.Mean-p.Expense.Mean)
	goal, hasGoal := p.MostUnderfundedGoal()
	spikeCategory := mostVolatileCategory(p)

	var out []Template
	addGoal := func(t Template) {
		if hasGoal {
			out = append(out, t)
		}
	}

	switch mode {
	case domain.ModeConservative:
		addGoal(Template{
			Name:      "Paycheck Surplus Sweep",
			Condition: domain.PaycheckSurplus{Threshold: money(roundTo100(surplus * 0.5))},
			Action:    domain.SweepToGoal{GoalID: goal.ID, Cap: money(math.Max(100, roundTo100(surplus*0.5)))},
		})
		addGoal(Template{
			Name:      "Goal Catch-Up Sweep",
			Condition: domain.GoalUnderfunded{GoalID: goal.ID, Shortfall: money(roundTo100(goal.Gap() * 0.25))},
			Action:    domain.SweepToGoal{GoalID: goal.ID, Cap: money(math.Max(100, roundTo100(surplus*0.25)))},
		})
		out = append(out, Template{
			Name:      "Spending Spike Alert",
			Condition: domain.SpendingSpike{Category: spikeCategory, ThresholdPct: decimal.NewFromInt(130)},
			Action:    domain.Alert{Message: spikeMessage(spikeCategory)},
		})
		out = append(out, Template{
			Name:      "Spending Spike Protection",
			Condition: domain.SpendingSpike{Category: subscriptionsCategory, ThresholdPct: decimal.NewFromInt(130)},
			Action:    domain.FreezeSubscription{Merchant: subscriptionsCategory, DurationDays: domain.DefaultFreezeDays},
		})

	case domain.ModeBalanced:
		out = append(out, Template{
			Name:      "Round-Up Micro-Investing",
			Condition: domain.PaycheckSurplus{Threshold: money(roundTo100(surplus * 0.25))},
			Action:    domain.RoundUpInvest{Cap: decimal.NewFromInt(50), RoundTo: decimal.NewFromInt(domain.DefaultRoundTo)},
		})
		addGoal(Template{
			Name:      "Paycheck Surplus Sweep",
			Condition: domain.PaycheckSurplus{Threshold: money(roundTo100(surplus * 0.5))},
			Action:    domain.SweepToGoal{GoalID: goal.ID, Cap: money(math.Max(100, roundTo100(surplus*0.75)))},
		})
		addGoal(Template{
			Name:      "Goal Catch-Up Sweep",
			Condition: domain.GoalUnderfunded{GoalID: goal.ID, Shortfall: money(roundTo100(goal.Gap() * 0.25))},
			Action:    domain.SweepToGoal{GoalID: goal.ID, Cap: money(math.Max(100, roundTo100(surplus*0.5)))},
		})

	case domain.ModeExperimental:
		out = append(out, Template{
			Name:      "Aggressive Round-Up",
			Condition: domain.PaycheckSurplus{Threshold: decimal.Zero},
			Action:    domain.RoundUpInvest{Cap: decimal.NewFromInt(150), RoundTo: decimal.NewFromInt(domain.DefaultRoundTo)},
		})
		addGoal(Template{
			Name:      "Opportunistic Sweep",
			Condition: domain.PaycheckSurplus{Threshold: money(roundTo100(surplus * 0.25))},
			Action:    domain.SweepToGoal{GoalID: goal.ID, Cap: money(math.Max(100, roundTo100(surplus)))},
		})
		out = append(out, Template{
			Name:      "Spike Round-Up",
			Condition: domain.SpendingSpike{ThresholdPct: decimal.NewFromInt(110)},
			Action:    domain.RoundUpInvest{Cap: decimal.NewFromInt(100), RoundTo: decimal.NewFromInt(domain.DefaultRoundTo)},
		})
	}

	return out
}

// mostVolatileCategory picks the category with the highest variance, empty when none are given
func mostVolatileCategory(p domain.FinancialProfile) string {
	names := make([]string, 0, len(p.ExpenseCategories))
	for name := range p.ExpenseCategories {
		names = append(names, name)
	}
	sort.Strings(names)

	best, bestVar := "", -1.0
	for _, name := range names {
		if v := p.ExpenseCategories[name].Variance; v > bestVar {
			best, bestVar = name, v
		}
	}
	return best
}

func spikeMessage(category string) string {
	if category == "" {
		return "Spending is running 30% above normal this month"
	}
	return fmt.Sprintf("Spending on %s is running 30%% above normal this month", category)
}

func roundTo100(v float64) float64 {
	return math.Round(v/100) * 100
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}
