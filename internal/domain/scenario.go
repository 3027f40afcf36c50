package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// HorizonMonths is the simulation horizon
const HorizonMonths = 12

// ScenarioKind identifies a scenario variant
type ScenarioKind string

const (
	ScenarioBaseline    ScenarioKind = "baseline"
	ScenarioJobLoss     ScenarioKind = "job_loss"
	ScenarioMarketDip   ScenarioKind = "market_dip"
	ScenarioBigPurchase ScenarioKind = "big_purchase"
	ScenarioWindfall    ScenarioKind = "windfall"
)

// Scenario is a scripted shock applied to a simulated year.
// The set of implementations is closed to this package.
type Scenario interface {
	Kind() ScenarioKind
	Validate() error
	scenario()
}

// Baseline applies no shock
type Baseline struct{}

// JobLoss zeroes income for DurationMonths starting at StartMonth
type JobLoss struct {
	StartMonth     int `json:"start_month"`
	DurationMonths int `json:"duration_months"`
}

// MarketDip removes DrawdownPct of the investment balance, spread across the window
type MarketDip struct {
	DrawdownPct    float64 `json:"drawdown_pct"`
	StartMonth     int     `json:"start_month"`
	DurationMonths int     `json:"duration_months"`
}

// BigPurchase is a one-time debit
type BigPurchase struct {
	Amount float64 `json:"amount"`
	Month  int     `json:"month"`
}

// Windfall is a one-time credit
type Windfall struct {
	Amount float64 `json:"amount"`
	Month  int     `json:"month"`
}

func (Baseline) Kind() ScenarioKind    { return ScenarioBaseline }
func (JobLoss) Kind() ScenarioKind     { return ScenarioJobLoss }
func (MarketDip) Kind() ScenarioKind   { return ScenarioMarketDip }
func (BigPurchase) Kind() ScenarioKind { return ScenarioBigPurchase }
func (Windfall) Kind() ScenarioKind    { return ScenarioWindfall }

func (Baseline) scenario()    {}
func (JobLoss) scenario()     {}
func (MarketDip) scenario()   {}
func (BigPurchase) scenario() {}
func (Windfall) scenario()    {}

func (Baseline) Validate() error { return nil }

func (s JobLoss) Validate() error {
	if err := validateMonth("start_month", s.StartMonth); err != nil {
		return err
	}
	if s.DurationMonths <= 0 {
		return &InvalidScenarioParameterError{Param: "duration_months", Reason: "must be positive"}
	}
	return nil
}

// Active reports whether income is lost in the given 1-based month
func (s JobLoss) Active(month int) bool {
	return month >= s.StartMonth && month < s.StartMonth+s.DurationMonths
}

func (s MarketDip) Validate() error {
	if math.IsNaN(s.DrawdownPct) || s.DrawdownPct <= 0 || s.DrawdownPct > 1 {
		return &InvalidScenarioParameterError{Param: "drawdown_pct", Reason: "must be in (0, 1]"}
	}
	if err := validateMonth("start_month", s.StartMonth); err != nil {
		return err
	}
	if s.DurationMonths <= 0 {
		return &InvalidScenarioParameterError{Param: "duration_months", Reason: "must be positive"}
	}
	return nil
}

// MonthlyFactor returns the multiplier applied to the investment balance in month.
// The drawdown is spread geometrically so the window as a whole loses DrawdownPct.
func (s MarketDip) MonthlyFactor(month int) float64 {
	if month < s.StartMonth || month >= s.StartMonth+s.DurationMonths {
		return 1
	}
	if s.DrawdownPct >= 1 {
		return 0
	}
	return math.Pow(1-s.DrawdownPct, 1/float64(s.DurationMonths))
}

func (s BigPurchase) Validate() error {
	if err := validateAmount(s.Amount); err != nil {
		return err
	}
	return validateMonth("month", s.Month)
}

func (s Windfall) Validate() error {
	if err := validateAmount(s.Amount); err != nil {
		return err
	}
	return validateMonth("month", s.Month)
}

func validateMonth(param string, m int) error {
	if m < 1 || m > HorizonMonths {
		return &InvalidScenarioParameterError{Param: param, Reason: fmt.Sprintf("must be within 1..%d", HorizonMonths)}
	}
	return nil
}

func validateAmount(a float64) error {
	if math.IsNaN(a) || math.IsInf(a, 0) || a <= 0 {
		return &InvalidScenarioParameterError{Param: "amount", Reason: "must be a positive finite number"}
	}
	return nil
}

// ScenarioEnvelope is the wire form of a Scenario
type ScenarioEnvelope struct {
	Kind   ScenarioKind    `json:"kind"`
	Params json.RawMessage `json:"params,omitempty"`
}

// MarshalScenario encodes a scenario as {"kind":..., "params":{...}}
func MarshalScenario(s Scenario) ([]byte, error) {
	if s == nil {
		s = Baseline{}
	}
	params, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scenario params: %w", err)
	}
	return json.Marshal(ScenarioEnvelope{Kind: s.Kind(), Params: params})
}

// UnmarshalScenario decodes the envelope produced by MarshalScenario
func UnmarshalScenario(data []byte) (Scenario, error) {
	var env ScenarioEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scenario: %w", err)
	}
	return env.Decode()
}

// Decode turns the envelope into a concrete scenario
func (env ScenarioEnvelope) Decode() (Scenario, error) {
	var (
		s   Scenario
		err error
	)
	switch env.Kind {
	case ScenarioBaseline, "":
		return Baseline{}, nil
	case ScenarioJobLoss:
		var v JobLoss
		err = decodeParams(env.Params, &v)
		s = v
	case ScenarioMarketDip:
		var v MarketDip
		err = decodeParams(env.Params, &v)
		s = v
	case ScenarioBigPurchase:
		var v BigPurchase
		err = decodeParams(env.Params, &v)
		s = v
	case ScenarioWindfall:
		var v Windfall
		err = decodeParams(env.Params, &v)
		s = v
	default:
		return nil, &InvalidScenarioParameterError{Param: "kind", Reason: fmt.Sprintf("unknown scenario %q", env.Kind)}
	}
	if err != nil {
		return nil, &InvalidScenarioParameterError{Param: "params", Reason: err.Error()}
	}
	return s, nil
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
