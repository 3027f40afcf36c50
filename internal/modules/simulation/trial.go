package simulation

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/FenadoAI/autopilot/internal/domain"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// OverdraftFloor is the lowest balance a user can reach before needing an external rescue
	OverdraftFloor = -1000.0

	investMonthlyReturn = 0.005
	investMonthlyVol    = 0.04

	roundUpExpenseShare = 0.05
	freezeSavingsShare  = 0.5
	alertRecoveryShare  = 0.25
)

// modeParams holds the noise bounds for a mode
type modeParams struct {
	varianceScale float64
	perturbation  float64
}

var modeTable = map[domain.Mode]modeParams{
	domain.ModeConservative: {varianceScale: 0.75, perturbation: 0.05},
	domain.ModeBalanced:     {varianceScale: 1.0, perturbation: 0.10},
	domain.ModeExperimental: {varianceScale: 1.5, perturbation: 0.20},
}

// trialOutcome is everything one trial contributes to the aggregate
type trialOutcome struct {
	endingBalance  float64
	netWorth       float64
	allGoalsMet    bool
	goalCompletion float64
	riskEvent      bool
	rescued        bool
	survived       bool
}

// compiledRule is a template lowered to float parameters for the hot loop
type compiledRule struct {
	cond    domain.ConditionKind
	action  domain.ActionKind
	thresh  float64
	pct     float64
	cat     string
	goalIdx int // -1 when the goal is unknown
	condIdx int // goal referenced by a GoalUnderfunded condition, -1 when unknown
	cap     float64
}

type category struct {
	name string
	dist domain.Distribution
}

// plan is the immutable, per-request input shared read-only by all workers
type plan struct {
	profile    domain.FinancialProfile
	scenario   domain.Scenario
	params     modeParams
	rules      []compiledRule
	categories []category
	deadlines  []int
	buffer     float64
}

func newPlan(p domain.FinancialProfile, s domain.Scenario, mode domain.Mode, templates []Template) *plan {
	pl := &plan{
		profile:  p,
		scenario: s,
		params:   modeTable[mode],
		buffer:   math.Max(0, p.Expense.Mean),
	}

	names := make([]string, 0, len(p.ExpenseCategories))
	for name := range p.ExpenseCategories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pl.categories = append(pl.categories, category{name: name, dist: p.ExpenseCategories[name]})
	}

	pl.deadlines = make([]int, len(p.Goals))
	for i, g := range p.Goals {
		pl.deadlines[i] = p.DeadlineMonth(g)
	}

	goalIndex := func(id string) int {
		for i, g := range p.Goals {
			if g.ID == id {
				return i
			}
		}
		return -1
	}

	for _, t := range templates {
		r := compiledRule{cond: t.Condition.Kind(), action: t.Action.Kind(), goalIdx: -1, condIdx: -1}
		switch c := t.Condition.(type) {
		case domain.PaycheckSurplus:
			r.thresh = c.Threshold.InexactFloat64()
		case domain.SpendingSpike:
			r.cat = c.Category
			r.pct = c.ThresholdPct.InexactFloat64() / 100
		case domain.GoalUnderfunded:
			r.condIdx = goalIndex(c.GoalID)
			r.thresh = c.Shortfall.InexactFloat64()
		}
		switch a := t.Action.(type) {
		case domain.SweepToGoal:
			r.goalIdx = goalIndex(a.GoalID)
			r.cap = a.Cap.InexactFloat64()
		case domain.RoundUpInvest:
			r.cap = a.Cap.InexactFloat64()
		}
		pl.rules = append(pl.rules, r)
	}

	return pl
}

// monthState is what the rules see after a month's cash flow settled
type monthState struct {
	income     float64
	expense    float64
	surplus    float64
	categories map[string]float64
}

// runTrial simulates one 12-month path. The RNG stream is a pure function of (seed, index),
// and rules never consume randomness, so control and treatment runs share draws.
func (pl *plan) runTrial(seed int64, index int) trialOutcome {
	src := rand.NewPCG(uint64(seed), uint64(index))
	rng := rand.New(src)

	bound := pl.params.perturbation
	incomeFactor := 1 + bound*(2*rng.Float64()-1)
	expenseFactor := 1 + bound*(2*rng.Float64()-1)
	sdScale := math.Sqrt(pl.params.varianceScale)

	draw := func(d domain.Distribution, factor float64) float64 {
		n := distuv.Normal{Mu: d.Mean * factor, Sigma: d.StdDev() * sdScale, Src: src}
		return math.Max(0, n.Rand())
	}
	investReturn := distuv.Normal{Mu: investMonthlyReturn, Sigma: investMonthlyVol * sdScale, Src: src}

	p := pl.profile
	liquid := p.LiquidBalance
	invest := math.Max(0, p.InvestmentBalance)
	goals := make([]float64, len(p.Goals))
	for i, g := range p.Goals {
		goals[i] = g.CurrentAmount
	}
	met := make([]bool, len(p.Goals))
	for i, d := range pl.deadlines {
		if d < 1 {
			met[i] = goals[i] >= p.Goals[i].TargetAmount
		}
	}

	var out trialOutcome
	catSpend := make(map[string]float64, len(pl.categories))

	for month := 1; month <= domain.HorizonMonths; month++ {
		income := draw(p.Income, incomeFactor)
		var expense float64
		if len(pl.categories) > 0 {
			for _, c := range pl.categories {
				v := draw(c.dist, expenseFactor)
				catSpend[c.name] = v
				expense += v
			}
		} else {
			expense = draw(p.Expense, expenseFactor)
		}
		ret := investReturn.Rand()

		// Scenario shock
		var credit, debit float64
		switch s := pl.scenario.(type) {
		case domain.JobLoss:
			if s.Active(month) {
				income = 0
			}
		case domain.MarketDip:
			invest *= s.MonthlyFactor(month)
		case domain.BigPurchase:
			if month == s.Month {
				debit = s.Amount
			}
		case domain.Windfall:
			if month == s.Month {
				credit = s.Amount
			}
		}

		invest = math.Max(0, invest*(1+ret))
		flow := income + credit - expense - debit
		liquid += flow

		ms := monthState{income: income, expense: expense, surplus: flow, categories: catSpend}
		liquid, invest = pl.applyRules(ms, liquid, invest, goals)

		if liquid < 0 {
			out.riskEvent = true
		}
		if liquid < OverdraftFloor {
			out.rescued = true
			liquid = OverdraftFloor
		}

		for i, d := range pl.deadlines {
			if d == month {
				met[i] = goals[i] >= p.Goals[i].TargetAmount
			}
		}
	}

	allMet := true
	var completion float64
	for i, g := range p.Goals {
		if d := pl.deadlines[i]; d > domain.HorizonMonths {
			// Judge on linear pace: horizon contributions extended to the deadline
			gained := goals[i] - g.CurrentAmount
			projected := g.CurrentAmount + gained*float64(d)/float64(domain.HorizonMonths)
			met[i] = projected >= g.TargetAmount
		}
		if !met[i] {
			allMet = false
		}
		if g.TargetAmount > 0 {
			completion += math.Min(goals[i]/g.TargetAmount, 1)
		} else {
			completion++
		}
	}
	if len(p.Goals) > 0 {
		completion /= float64(len(p.Goals))
	} else {
		completion = 1
	}

	out.endingBalance = liquid
	out.netWorth = liquid + invest
	for _, v := range goals {
		out.netWorth += v
	}
	out.allGoalsMet = allMet
	out.goalCompletion = completion
	out.survived = out.riskEvent && !out.rescued && liquid >= 0
	return out
}

// applyRules fires every candidate rule whose condition holds this month, in template order
func (pl *plan) applyRules(ms monthState, liquid, invest float64, goals []float64) (float64, float64) {
	p := pl.profile
	for _, r := range pl.rules {
		var fired bool
		var spikeExcess float64
		switch r.cond {
		case domain.ConditionPaycheckSurplus:
			fired = ms.income > 0 && ms.surplus >= r.thresh
		case domain.ConditionSpendingSpike:
			spend, baseline, ok := pl.categorySpend(ms, r.cat)
			if ok && baseline > 0 && spend >= baseline*r.pct {
				fired = true
				spikeExcess = spend - baseline
			}
		case domain.ConditionGoalUnderfunded:
			if r.condIdx >= 0 {
				gap := p.Goals[r.condIdx].TargetAmount - goals[r.condIdx]
				fired = gap > 0 && gap >= r.thresh
			}
		}
		if !fired {
			continue
		}

		available := math.Max(0, liquid-pl.buffer)
		if r.cond == domain.ConditionPaycheckSurplus {
			available = math.Min(available, math.Max(0, ms.surplus))
		}

		switch r.action {
		case domain.ActionSweepToGoal:
			if r.goalIdx < 0 {
				continue
			}
			gap := math.Max(0, p.Goals[r.goalIdx].TargetAmount-goals[r.goalIdx])
			amount := math.Min(math.Min(available, gap), r.cap)
			liquid -= amount
			goals[r.goalIdx] += amount
		case domain.ActionRoundUpInvest:
			amount := math.Min(math.Min(r.cap, ms.expense*roundUpExpenseShare), available)
			liquid -= amount
			invest += amount
		case domain.ActionFreezeSubscription:
			if sub, ok := p.ExpenseCategories[subscriptionsCategory]; ok {
				liquid += sub.Mean * freezeSavingsShare
			}
		case domain.ActionAlert:
			liquid += spikeExcess * alertRecoveryShare
		}
	}
	return liquid, invest
}

// categorySpend returns this month's spend and the baseline for a category.
// An empty category means total expense.
func (pl *plan) categorySpend(ms monthState, cat string) (float64, float64, bool) {
	if cat == "" {
		return ms.expense, pl.profile.Expense.Mean, true
	}
	d, ok := pl.profile.ExpenseCategories[cat]
	if !ok {
		return 0, 0, false
	}
	return ms.categories[cat], d.Mean, true
}
