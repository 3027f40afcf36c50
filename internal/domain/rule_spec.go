package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ConditionKind identifies a rule trigger
type ConditionKind string

const (
	ConditionPaycheckSurplus ConditionKind = "paycheck_surplus"
	ConditionSpendingSpike   ConditionKind = "spending_spike"
	ConditionGoalUnderfunded ConditionKind = "goal_underfunded"
)

// Condition is the trigger side of a rule
type Condition interface {
	Kind() ConditionKind
	// Key is a canonical string; two conditions are identical iff their keys match
	Key() string
	// ParamCount is used as a simplicity tie-break when ranking recommendations
	ParamCount() int
	Validate() error
	condition()
}

// PaycheckSurplus fires on a paycheck whose surplus reaches Threshold
type PaycheckSurplus struct {
	Threshold decimal.Decimal `json:"threshold"`
}

// SpendingSpike fires when category spend reaches ThresholdPct percent of its baseline.
// An empty Category matches any category.
type SpendingSpike struct {
	Category     string          `json:"category,omitempty"`
	ThresholdPct decimal.Decimal `json:"threshold_pct"`
}

// GoalUnderfunded fires when the goal is at least Shortfall away from its target
type GoalUnderfunded struct {
	GoalID    string          `json:"goal_id"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

func (PaycheckSurplus) Kind() ConditionKind { return ConditionPaycheckSurplus }
func (SpendingSpike) Kind() ConditionKind   { return ConditionSpendingSpike }
func (GoalUnderfunded) Kind() ConditionKind { return ConditionGoalUnderfunded }

func (PaycheckSurplus) condition() {}
func (SpendingSpike) condition()   {}
func (GoalUnderfunded) condition() {}

func (c PaycheckSurplus) Key() string {
	return fmt.Sprintf("%s:%s", c.Kind(), c.Threshold.String())
}

func (c SpendingSpike) Key() string {
	return fmt.Sprintf("%s:%s:%s", c.Kind(), strings.ToLower(c.Category), c.ThresholdPct.String())
}

func (c GoalUnderfunded) Key() string {
	return fmt.Sprintf("%s:%s:%s", c.Kind(), c.GoalID, c.Shortfall.String())
}

func (PaycheckSurplus) ParamCount() int { return 1 }

func (c SpendingSpike) ParamCount() int {
	if c.Category == "" {
		return 1
	}
	return 2
}

func (GoalUnderfunded) ParamCount() int { return 2 }

func (c PaycheckSurplus) Validate() error {
	if c.Threshold.IsNegative() {
		return fmt.Errorf("paycheck surplus threshold must not be negative")
	}
	return nil
}

func (c SpendingSpike) Validate() error {
	if !c.ThresholdPct.IsPositive() {
		return fmt.Errorf("spending spike threshold_pct must be positive")
	}
	return nil
}

func (c GoalUnderfunded) Validate() error {
	if c.GoalID == "" {
		return fmt.Errorf("goal_underfunded requires goal_id")
	}
	if c.Shortfall.IsNegative() {
		return fmt.Errorf("goal_underfunded shortfall must not be negative")
	}
	return nil
}

// ActionKind identifies what a rule does when it fires
type ActionKind string

const (
	ActionSweepToGoal        ActionKind = "sweep_to_goal"
	ActionRoundUpInvest      ActionKind = "round_up_invest"
	ActionFreezeSubscription ActionKind = "freeze_subscription"
	ActionAlert              ActionKind = "alert"
)

// Action is the effect side of a rule
type Action interface {
	Kind() ActionKind
	// Target names what the action touches (goal, merchant, investment account)
	Target() string
	// Monetary reports whether the action moves funds
	Monetary() bool
	Validate() error
	action()
}

const (
	DefaultRoundTo      = 10
	DefaultFreezeDays   = 14
	InvestmentAccountID = "investment"
)

// SweepToGoal moves available cash into a goal, bounded by Cap
type SweepToGoal struct {
	GoalID string          `json:"goal_id"`
	Cap    decimal.Decimal `json:"cap"`
}

// RoundUpInvest invests the round-up of the triggering amount to the next RoundTo
type RoundUpInvest struct {
	Cap     decimal.Decimal `json:"cap"`
	RoundTo decimal.Decimal `json:"round_to"`
}

// FreezeSubscription pauses a recurring merchant charge for DurationDays
type FreezeSubscription struct {
	Merchant     string `json:"merchant"`
	DurationDays int    `json:"duration_days"`
}

// Alert notifies the user without moving money
type Alert struct {
	Message string `json:"message"`
}

func (SweepToGoal) Kind() ActionKind        { return ActionSweepToGoal }
func (RoundUpInvest) Kind() ActionKind      { return ActionRoundUpInvest }
func (FreezeSubscription) Kind() ActionKind { return ActionFreezeSubscription }
func (Alert) Kind() ActionKind              { return ActionAlert }

func (SweepToGoal) action()        {}
func (RoundUpInvest) action()      {}
func (FreezeSubscription) action() {}
func (Alert) action()              {}

func (a SweepToGoal) Target() string        { return "goal:" + a.GoalID }
func (RoundUpInvest) Target() string        { return "account:" + InvestmentAccountID }
func (a FreezeSubscription) Target() string { return "merchant:" + strings.ToLower(a.Merchant) }
func (Alert) Target() string                { return "user" }

func (SweepToGoal) Monetary() bool        { return true }
func (RoundUpInvest) Monetary() bool      { return true }
func (FreezeSubscription) Monetary() bool { return false }
func (Alert) Monetary() bool              { return false }

func (a SweepToGoal) Validate() error {
	if a.GoalID == "" {
		return fmt.Errorf("sweep_to_goal requires goal_id")
	}
	if !a.Cap.IsPositive() {
		return fmt.Errorf("sweep_to_goal cap must be positive")
	}
	return nil
}

func (a RoundUpInvest) Validate() error {
	if !a.Cap.IsPositive() {
		return fmt.Errorf("round_up_invest cap must be positive")
	}
	if a.RoundTo.IsNegative() {
		return fmt.Errorf("round_up_invest round_to must not be negative")
	}
	return nil
}

func (a FreezeSubscription) Validate() error {
	if a.Merchant == "" {
		return fmt.Errorf("freeze_subscription requires merchant")
	}
	if a.DurationDays < 0 {
		return fmt.Errorf("freeze_subscription duration_days must not be negative")
	}
	return nil
}

func (Alert) Validate() error { return nil }

// Step returns RoundTo, falling back to the default of 10
func (a RoundUpInvest) Step() decimal.Decimal {
	if a.RoundTo.IsPositive() {
		return a.RoundTo
	}
	return decimal.NewFromInt(DefaultRoundTo)
}

// RoundUp returns how much is needed to lift amount to the next multiple of Step.
// Exact multiples round up by nothing.
func (a RoundUpInvest) RoundUp(amount decimal.Decimal) decimal.Decimal {
	step := a.Step()
	if !amount.IsPositive() {
		return decimal.Zero
	}
	rem := amount.Mod(step)
	if rem.IsZero() {
		return decimal.Zero
	}
	return step.Sub(rem)
}

// Days returns DurationDays, falling back to the default of 14
func (a FreezeSubscription) Days() int {
	if a.DurationDays > 0 {
		return a.DurationDays
	}
	return DefaultFreezeDays
}

// SameEffect reports whether two rules would trigger identically and act on the same target
func SameEffect(c1 Condition, a1 Action, c2 Condition, a2 Action) bool {
	if c1 == nil || c2 == nil || a1 == nil || a2 == nil {
		return false
	}
	return c1.Key() == c2.Key() && a1.Kind() == a2.Kind() && a1.Target() == a2.Target()
}

type envelope struct {
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params"`
}

// MarshalCondition encodes a condition as {"kind":..., "params":{...}}
func MarshalCondition(c Condition) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("condition is nil")
	}
	params, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal condition params: %w", err)
	}
	return json.Marshal(envelope{Kind: string(c.Kind()), Params: params})
}

// UnmarshalCondition decodes the envelope produced by MarshalCondition
func UnmarshalCondition(data []byte) (Condition, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal condition: %w", err)
	}
	var (
		c   Condition
		err error
	)
	switch ConditionKind(env.Kind) {
	case ConditionPaycheckSurplus:
		var v PaycheckSurplus
		err = decodeParams(env.Params, &v)
		c = v
	case ConditionSpendingSpike:
		var v SpendingSpike
		err = decodeParams(env.Params, &v)
		c = v
	case ConditionGoalUnderfunded:
		var v GoalUnderfunded
		err = decodeParams(env.Params, &v)
		c = v
	default:
		return nil, fmt.Errorf("unknown condition kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s params: %w", env.Kind, err)
	}
	return c, nil
}

// MarshalAction encodes an action as {"kind":..., "params":{...}}
func MarshalAction(a Action) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("action is nil")
	}
	params, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal action params: %w", err)
	}
	return json.Marshal(envelope{Kind: string(a.Kind()), Params: params})
}

// UnmarshalAction decodes the envelope produced by MarshalAction
func UnmarshalAction(data []byte) (Action, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action: %w", err)
	}
	var (
		a   Action
		err error
	)
	switch ActionKind(env.Kind) {
	case ActionSweepToGoal:
		var v SweepToGoal
		err = decodeParams(env.Params, &v)
		a = v
	case ActionRoundUpInvest:
		var v RoundUpInvest
		err = decodeParams(env.Params, &v)
		a = v
	case ActionFreezeSubscription:
		var v FreezeSubscription
		err = decodeParams(env.Params, &v)
		a = v
	case ActionAlert:
		var v Alert
		err = decodeParams(env.Params, &v)
		a = v
	default:
		return nil, fmt.Errorf("unknown action kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s params: %w", env.Kind, err)
	}
	return a, nil
}
