// Package domain provides core domain models and types shared by the simulator,
// the rule store and the execution engine.
package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Mode controls the risk/action profile of simulations and rule templates
type Mode string

const (
	ModeConservative Mode = "conservative"
	ModeBalanced     Mode = "balanced"
	ModeExperimental Mode = "experimental"
)

// Modes lists every supported mode in a stable order
var Modes = []Mode{ModeConservative, ModeBalanced, ModeExperimental}

// ParseMode normalizes a user supplied mode string
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", &InvalidScenarioParameterError{Param: "mode", Reason: fmt.Sprintf("unknown mode %q", s)}
	}
	return m, nil
}

// Valid reports whether m is one of the supported modes
func (m Mode) Valid() bool {
	switch m {
	case ModeConservative, ModeBalanced, ModeExperimental:
		return true
	}
	return false
}

// Distribution describes a monthly amount estimated from history
type Distribution struct {
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

// StdDev returns the standard deviation of the distribution
func (d Distribution) StdDev() float64 {
	if d.Variance <= 0 {
		return 0
	}
	return math.Sqrt(d.Variance)
}

func (d Distribution) usable() bool {
	return !math.IsNaN(d.Mean) && !math.IsInf(d.Mean, 0) && d.Mean >= 0 &&
		!math.IsNaN(d.Variance) && !math.IsInf(d.Variance, 0) && d.Variance >= 0
}

// Goal is a savings goal tracked by the user
type Goal struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	TargetAmount  float64   `json:"target_amount"`
	CurrentAmount float64   `json:"current_amount"`
	Deadline      time.Time `json:"deadline"`
}

// Gap returns how much is still missing to reach the target
func (g Goal) Gap() float64 {
	return math.Max(0, g.TargetAmount-g.CurrentAmount)
}

// MinHistoryMonths is the minimum history needed to estimate income/expense variance
const MinHistoryMonths = 3

// FinancialProfile is an immutable snapshot of a user's finances used as simulation input.
// Callers own the value; the simulator never mutates it.
type FinancialProfile struct {
	UserID            string                  `json:"user_id"`
	AsOf              time.Time               `json:"as_of"`
	LiquidBalance     float64                 `json:"liquid_balance"`
	Income            Distribution            `json:"income"`
	Expense           Distribution            `json:"expense"`
	ExpenseCategories map[string]Distribution `json:"expense_categories,omitempty"`
	Goals             []Goal                  `json:"goals"`
	InvestmentBalance float64                 `json:"investment_balance"`
	HistoryMonths     int                     `json:"history_months"`
}

// CheckHistory verifies that the profile carries enough history to estimate variance
func (p FinancialProfile) CheckHistory() error {
	if p.HistoryMonths < MinHistoryMonths {
		return fmt.Errorf("%w: %d months of history, need at least %d",
			ErrInsufficientHistory, p.HistoryMonths, MinHistoryMonths)
	}
	if !p.Income.usable() {
		return fmt.Errorf("%w: income distribution cannot be estimated", ErrInsufficientHistory)
	}
	if !p.Expense.usable() {
		return fmt.Errorf("%w: expense distribution cannot be estimated", ErrInsufficientHistory)
	}
	for name, d := range p.ExpenseCategories {
		if !d.usable() {
			return fmt.Errorf("%w: expense category %q cannot be estimated", ErrInsufficientHistory, name)
		}
	}
	if math.IsNaN(p.LiquidBalance) || math.IsInf(p.LiquidBalance, 0) {
		return fmt.Errorf("%w: liquid balance is not a number", ErrInsufficientHistory)
	}
	return nil
}

// GoalByID returns the goal with the given id
func (p FinancialProfile) GoalByID(id string) (Goal, bool) {
	for _, g := range p.Goals {
		if g.ID == id {
			return g, true
		}
	}
	return Goal{}, false
}

// MostUnderfundedGoal returns the goal with the largest remaining gap
func (p FinancialProfile) MostUnderfundedGoal() (Goal, bool) {
	var best Goal
	found := false
	for _, g := range p.Goals {
		if !found || g.Gap() > best.Gap() {
			best = g
			found = true
		}
	}
	return best, found
}

// DeadlineMonth converts a goal deadline into a month offset from the profile date.
// Deadlines in the past map to month 0; goals without a deadline are judged at the horizon.
func (p FinancialProfile) DeadlineMonth(g Goal) int {
	if g.Deadline.IsZero() {
		return HorizonMonths
	}
	years := g.Deadline.Year() - p.AsOf.Year()
	months := years*12 + int(g.Deadline.Month()) - int(p.AsOf.Month())
	if g.Deadline.Day() < p.AsOf.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// EventType classifies incoming financial events
type EventType string

const (
	EventPaycheck      EventType = "paycheck"
	EventTransaction   EventType = "transaction"
	EventBalanceUpdate EventType = "balance_update"
)

// GoalSnapshot is the provider's view of a goal at event time
type GoalSnapshot struct {
	Target  decimal.Decimal `json:"target"`
	Current decimal.Decimal `json:"current"`
}

// Gap returns the remaining amount for the goal, never negative
func (g GoalSnapshot) Gap() decimal.Decimal {
	gap := g.Target.Sub(g.Current)
	if gap.IsNegative() {
		return decimal.Zero
	}
	return gap
}

// Event is one financial event supplied by the external transaction subsystem
type Event struct {
	ID               string                  `json:"id"`
	UserID           string                  `json:"user_id"`
	Type             EventType               `json:"type"`
	OccurredAt       time.Time               `json:"occurred_at"`
	Amount           decimal.Decimal         `json:"amount"`
	Category         string                  `json:"category,omitempty"`
	Merchant         string                  `json:"merchant,omitempty"`
	Balance          decimal.Decimal         `json:"balance"`
	Surplus          decimal.Decimal         `json:"surplus"`
	CategorySpend    decimal.Decimal         `json:"category_spend"`
	CategoryBaseline decimal.Decimal         `json:"category_baseline"`
	Goals            map[string]GoalSnapshot `json:"goals,omitempty"`
	SourceAccount    string                  `json:"source_account,omitempty"`
}

// Validate checks the structural fields of an event
func (e Event) Validate() error {
	switch e.Type {
	case EventPaycheck, EventTransaction, EventBalanceUpdate:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Amount.IsNegative() {
		return fmt.Errorf("event amount must not be negative")
	}
	return nil
}

// TimeRange is an inclusive [From, To] interval used for audit queries
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t lies inside the range. Zero bounds are open.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}
