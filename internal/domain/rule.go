package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RuleState is the lifecycle state of an autopilot rule
type RuleState string

const (
	RuleStateDraft    RuleState = "draft"
	RuleStateDryRun   RuleState = "dry_run"
	RuleStateActive   RuleState = "active"
	RuleStatePaused   RuleState = "paused"
	RuleStateDisabled RuleState = "disabled"
	RuleStateRejected RuleState = "rejected"
)

// Terminal reports whether no further transitions are possible
func (s RuleState) Terminal() bool {
	return s == RuleStateDisabled || s == RuleStateRejected
}

// Evaluated reports whether rules in this state are matched against events
func (s RuleState) Evaluated() bool {
	return s == RuleStateDryRun || s == RuleStateActive
}

// RiskLevel is the coarse volatility bucket of a recommendation
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Impact is the difference between a treatment run and its control
type Impact struct {
	GoalSuccessDelta    float64 `json:"goal_success_delta" msgpack:"goal_success_delta"`
	MedianBalanceDelta  float64 `json:"median_balance_delta" msgpack:"median_balance_delta"`
	MedianNetWorthDelta float64 `json:"median_net_worth_delta" msgpack:"median_net_worth_delta"`
}

// RecommendedRule is a candidate rule scored against a control simulation
type RecommendedRule struct {
	Name               string    `json:"name"`
	Condition          Condition `json:"-"`
	Action             Action    `json:"-"`
	Mode               Mode      `json:"mode"`
	SuccessProbability float64   `json:"success_probability"`
	EstimatedImpact    Impact    `json:"estimated_impact"`
	RiskLevel          RiskLevel `json:"risk_level"`
	Score              float64   `json:"score"`
	OutcomeStdDev      float64   `json:"outcome_std_dev"`
}

type recommendedRuleJSON struct {
	recommendedRuleAlias
	Condition json.RawMessage `json:"condition"`
	Action    json.RawMessage `json:"action"`
}

type recommendedRuleAlias RecommendedRule

func (r RecommendedRule) MarshalJSON() ([]byte, error) {
	cond, action, err := marshalPair(r.Condition, r.Action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(recommendedRuleJSON{recommendedRuleAlias: recommendedRuleAlias(r), Condition: cond, Action: action})
}

func (r *RecommendedRule) UnmarshalJSON(data []byte) error {
	var raw recommendedRuleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = RecommendedRule(raw.recommendedRuleAlias)
	cond, action, err := unmarshalPair(raw.Condition, raw.Action)
	if err != nil {
		return err
	}
	r.Condition, r.Action = cond, action
	return nil
}

// Justification is the simulation summary that produced a rule.
// It is persisted alongside the rule as a msgpack blob.
type Justification struct {
	Seed                   int64        `json:"seed" msgpack:"seed"`
	Trials                 int          `json:"trials" msgpack:"trials"`
	Mode                   Mode         `json:"mode" msgpack:"mode"`
	Scenario               ScenarioKind `json:"scenario" msgpack:"scenario"`
	GoalSuccessProbability float64      `json:"goal_success_probability" msgpack:"goal_success_probability"`
	P10EndingBalance       float64      `json:"p10_ending_balance" msgpack:"p10_ending_balance"`
	MedianEndingBalance    float64      `json:"median_ending_balance" msgpack:"median_ending_balance"`
	P90EndingBalance       float64      `json:"p90_ending_balance" msgpack:"p90_ending_balance"`
	RiskEventRate          float64      `json:"risk_event_rate" msgpack:"risk_event_rate"`
	EstimatedImpact        Impact       `json:"estimated_impact" msgpack:"estimated_impact"`
	RiskLevel              RiskLevel    `json:"risk_level" msgpack:"risk_level"`
}

// AutopilotRule is a persisted, user-owned rule
type AutopilotRule struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Name           string         `json:"name"`
	Mode           Mode           `json:"mode"`
	Condition      Condition      `json:"-"`
	Action         Action         `json:"-"`
	State          RuleState      `json:"state"`
	Approved       bool           `json:"approved"`
	Justification  *Justification `json:"justification,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	StateChangedAt time.Time      `json:"state_changed_at"`
	ApprovedAt     *time.Time     `json:"approved_at,omitempty"`
	// PausedFrom is the state a paused rule returns to on resume
	PausedFrom RuleState `json:"paused_from,omitempty"`
	// DryRunServed is dry-run time completed before the rule was paused
	DryRunServed time.Duration `json:"dry_run_served,omitempty"`
}

// StateSince returns when the current state effectively began.
// A dry run resumed after a pause keeps the time it had already served.
func (r AutopilotRule) StateSince() time.Time {
	if r.State == RuleStateDryRun {
		return r.StateChangedAt.Add(-r.DryRunServed)
	}
	return r.StateChangedAt
}

// CanMoveFunds reports whether the rule may execute a real transfer
func (r AutopilotRule) CanMoveFunds() bool {
	return r.State == RuleStateActive && r.Approved
}

type autopilotRuleAlias AutopilotRule

type autopilotRuleJSON struct {
	autopilotRuleAlias
	Condition json.RawMessage `json:"condition"`
	Action    json.RawMessage `json:"action"`
}

func (r AutopilotRule) MarshalJSON() ([]byte, error) {
	cond, action, err := marshalPair(r.Condition, r.Action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(autopilotRuleJSON{autopilotRuleAlias: autopilotRuleAlias(r), Condition: cond, Action: action})
}

func (r *AutopilotRule) UnmarshalJSON(data []byte) error {
	var raw autopilotRuleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = AutopilotRule(raw.autopilotRuleAlias)
	cond, action, err := unmarshalPair(raw.Condition, raw.Action)
	if err != nil {
		return err
	}
	r.Condition, r.Action = cond, action
	return nil
}

func marshalPair(c Condition, a Action) (json.RawMessage, json.RawMessage, error) {
	var cond, action json.RawMessage
	var err error
	if c != nil {
		if cond, err = MarshalCondition(c); err != nil {
			return nil, nil, err
		}
	}
	if a != nil {
		if action, err = MarshalAction(a); err != nil {
			return nil, nil, err
		}
	}
	return cond, action, nil
}

func unmarshalPair(cond, action json.RawMessage) (Condition, Action, error) {
	var (
		c   Condition
		a   Action
		err error
	)
	if len(cond) > 0 && string(cond) != "null" {
		if c, err = UnmarshalCondition(cond); err != nil {
			return nil, nil, err
		}
	}
	if len(action) > 0 && string(action) != "null" {
		if a, err = UnmarshalAction(action); err != nil {
			return nil, nil, err
		}
	}
	return c, a, nil
}

// ExecutionOutcome is the result of one rule firing
type ExecutionOutcome string

const (
	OutcomeSuccess ExecutionOutcome = "success"
	OutcomeFailed  ExecutionOutcome = "failed"
)

// RuleExecution is a record of one rule firing against one event
type RuleExecution struct {
	ID               string           `json:"id"`
	RuleID           string           `json:"rule_id"`
	UserID           string           `json:"user_id"`
	EventID          string           `json:"event_id"`
	ActionKind       ActionKind       `json:"action_kind"`
	Target           string           `json:"target"`
	Timestamp        time.Time        `json:"timestamp"`
	Amount           decimal.Decimal  `json:"amount"`
	Simulated        bool             `json:"simulated"`
	Outcome          ExecutionOutcome `json:"outcome"`
	FailureReason    string           `json:"failure_reason,omitempty"`
	TransferRef      string           `json:"transfer_ref,omitempty"`
	RollbackDeadline time.Time        `json:"rollback_deadline"`
	// RollbackClaimedAt is set before the reversal is requested; a claimed
	// execution is never reversed again
	RollbackClaimedAt *time.Time `json:"rollback_claimed_at,omitempty"`
	RolledBack        bool       `json:"rolled_back"`
	RolledBackAt      *time.Time `json:"rolled_back_at,omitempty"`
	RollbackReason    string     `json:"rollback_reason,omitempty"`
}

// Reversible reports whether the execution had an external effect that can be undone
func (e RuleExecution) Reversible() bool {
	if e.Outcome != OutcomeSuccess || e.Simulated {
		return false
	}
	switch e.ActionKind {
	case ActionSweepToGoal, ActionRoundUpInvest, ActionFreezeSubscription:
		return true
	}
	return false
}

// RollbackResult is returned by a successful rollback
type RollbackResult struct {
	ExecutionID    string          `json:"execution_id"`
	RolledBack     bool            `json:"rolled_back"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
}

// AuditKind classifies audit entries
type AuditKind string

const (
	AuditRuleCreated        AuditKind = "rule_created"
	AuditRuleApproved       AuditKind = "rule_approved"
	AuditRuleRejected       AuditKind = "rule_rejected"
	AuditRuleActivated      AuditKind = "rule_activated"
	AuditRulePaused         AuditKind = "rule_paused"
	AuditRuleResumed        AuditKind = "rule_resumed"
	AuditRuleDisabled       AuditKind = "rule_disabled"
	AuditRuleExpired        AuditKind = "rule_expired"
	AuditKillSwitch         AuditKind = "kill_switch"
	AuditExecution          AuditKind = "execution"
	AuditExecutionSimulated AuditKind = "execution_simulated"
	AuditExecutionFailed    AuditKind = "execution_failed"
	AuditRollback           AuditKind = "rollback"
	AuditCapChanged         AuditKind = "cap_changed"
)

// AuditEntry is an immutable, hash-chained record of a state change or execution
type AuditEntry struct {
	Sequence    int64             `json:"sequence"`
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Kind        AuditKind         `json:"kind"`
	RuleID      string            `json:"rule_id,omitempty"`
	ExecutionID string            `json:"execution_id,omitempty"`
	Detail      map[string]string `json:"detail,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	PrevHash    string            `json:"prev_hash"`
	Hash        string            `json:"hash"`
}

// UserLimits holds per-user execution bounds
type UserLimits struct {
	UserID         string          `json:"user_id"`
	TransactionCap decimal.Decimal `json:"transaction_cap"`
	Explicit       bool            `json:"explicit"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// String renders a short description used in logs
func (r AutopilotRule) String() string {
	var ck ConditionKind
	var ak ActionKind
	if r.Condition != nil {
		ck = r.Condition.Kind()
	}
	if r.Action != nil {
		ak = r.Action.Kind()
	}
	return fmt.Sprintf("%s(%s %s->%s)", r.ID, r.State, ck, ak)
}
