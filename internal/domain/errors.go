package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientHistory means the profile cannot support a confident simulation
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrInvalidScenarioParameter means a simulation scenario or its mode is out of bounds
	ErrInvalidScenarioParameter = errors.New("invalid scenario parameter")
	// ErrValidation means a rule, event, limit or query argument is malformed
	ErrValidation             = errors.New("validation failed")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrRuleConflict           = errors.New("rule conflict")
	ErrRollbackWindowExpired  = errors.New("rollback window expired")
	ErrAlreadyRolledBack      = errors.New("execution already rolled back")
	ErrNotReversible          = errors.New("execution is not reversible")
	ErrNotFound               = errors.New("not found")
	ErrExecutionFailed        = errors.New("execution failed")
)

// InvalidScenarioParameterError names the offending parameter
type InvalidScenarioParameterError struct {
	Param  string
	Reason string
}

func (e *InvalidScenarioParameterError) Error() string {
	return fmt.Sprintf("invalid scenario parameter %s: %s", e.Param, e.Reason)
}

func (e *InvalidScenarioParameterError) Unwrap() error { return ErrInvalidScenarioParameter }

// ValidationError names the offending field of a non-simulation request
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidStateTransitionError is returned when a rule cannot move from From to To
type InvalidStateTransitionError struct {
	RuleID string
	From   RuleState
	To     RuleState
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("rule %s: invalid state transition %s -> %s", e.RuleID, e.From, e.To)
}

func (e *InvalidStateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// RuleConflictError is returned when another running rule already has the same effect
type RuleConflictError struct {
	RuleID            string
	ConflictingRuleID string
}

func (e *RuleConflictError) Error() string {
	return fmt.Sprintf("rule %s conflicts with rule %s", e.RuleID, e.ConflictingRuleID)
}

func (e *RuleConflictError) Unwrap() error { return ErrRuleConflict }

// ExecutionFailure carries the reason recorded on a failed execution
type ExecutionFailure struct {
	Reason string
}

func (e *ExecutionFailure) Error() string {
	return "execution failed: " + e.Reason
}

func (e *ExecutionFailure) Unwrap() error { return ErrExecutionFailed }

// NotFoundError wraps ErrNotFound with the missing entity
func NotFoundError(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
}
