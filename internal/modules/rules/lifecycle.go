package rules

import "github.com/FenadoAI/autopilot/internal/domain"

// Trigger names what caused a transition
type Trigger string

const (
	TriggerUser         Trigger = "user"
	TriggerKillSwitch   Trigger = "kill_switch"
	TriggerDryRunPeriod Trigger = "dry_run_elapsed"
	TriggerDraftExpiry  Trigger = "draft_expired"
)

type edge struct {
	from, to domain.RuleState
}

// transitions maps every legal edge to the triggers allowed to take it
var transitions = map[edge][]Trigger{
	{domain.RuleStateDraft, domain.RuleStateRejected}:  {TriggerUser, TriggerDraftExpiry},
	{domain.RuleStateDraft, domain.RuleStateDryRun}:    {TriggerUser},
	{domain.RuleStateDryRun, domain.RuleStateActive}:   {TriggerUser, TriggerDryRunPeriod},
	{domain.RuleStateDryRun, domain.RuleStatePaused}:   {TriggerKillSwitch},
	{domain.RuleStateDryRun, domain.RuleStateDisabled}: {TriggerUser},
	{domain.RuleStateActive, domain.RuleStatePaused}:   {TriggerUser, TriggerKillSwitch},
	{domain.RuleStatePaused, domain.RuleStateActive}:   {TriggerUser},
	{domain.RuleStatePaused, domain.RuleStateDryRun}:   {TriggerUser},
	{domain.RuleStateActive, domain.RuleStateDisabled}: {TriggerUser},
	{domain.RuleStatePaused, domain.RuleStateDisabled}: {TriggerUser},
}

// CanTransition reports whether trigger may move a rule from one state to another
func CanTransition(from, to domain.RuleState, trigger Trigger) bool {
	for _, t := range transitions[edge{from, to}] {
		if t == trigger {
			return true
		}
	}
	return false
}

// resumeTarget is the state a paused rule returns to.
// Rules paused out of their dry run go back to it; they never skip to active.
func resumeTarget(rule *domain.AutopilotRule) domain.RuleState {
	if rule.PausedFrom == domain.RuleStateDryRun {
		return domain.RuleStateDryRun
	}
	return domain.RuleStateActive
}

// auditKind returns the audit entry kind recorded for entering state to
func auditKind(from, to domain.RuleState, trigger Trigger) domain.AuditKind {
	switch to {
	case domain.RuleStateDryRun:
		if from == domain.RuleStatePaused {
			return domain.AuditRuleResumed
		}
		return domain.AuditRuleApproved
	case domain.RuleStateRejected:
		if trigger == TriggerDraftExpiry {
			return domain.AuditRuleExpired
		}
		return domain.AuditRuleRejected
	case domain.RuleStateActive:
		if from == domain.RuleStatePaused {
			return domain.AuditRuleResumed
		}
		return domain.AuditRuleActivated
	case domain.RuleStatePaused:
		return domain.AuditRulePaused
	default:
		return domain.AuditRuleDisabled
	}
}
