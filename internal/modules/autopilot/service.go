// Package autopilot is the engine's public surface. It ties the simulator,
// recommender, rule store, execution engine and audit log together.
package autopilot

import (
	"context"
	"fmt"
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/FenadoAI/autopilot/internal/modules/execution"
	"github.com/FenadoAI/autopilot/internal/modules/rules"
	"github.com/FenadoAI/autopilot/internal/modules/simulation"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Simulator runs Monte Carlo simulations; satisfied by *simulation.Simulator
type Simulator interface {
	Simulate(ctx context.Context, req simulation.Request) (*simulation.Result, error)
	Tracker() *simulation.Tracker
}

// Recommender ranks candidate rules; satisfied by *recommender.Recommender
type Recommender interface {
	Recommend(ctx context.Context, result *simulation.Result, mode domain.Mode) []domain.RecommendedRule
}

// SimulationRequest is the input of RunSimulation.
// A nil Seed draws one from the clock and reports it on the result.
type SimulationRequest struct {
	Profile  domain.FinancialProfile
	Scenario domain.Scenario
	Mode     domain.Mode
	Trials   int
	Seed     *int64
}

// Service exposes every autopilot operation
type Service struct {
	simulator   Simulator
	recommender Recommender
	rules       *rules.Service
	engine      *execution.Engine
	audit       domain.AuditLog
	clock       func() time.Time
	log         zerolog.Logger
}

// NewService creates the autopilot facade
func NewService(
	simulator Simulator,
	recommender Recommender,
	ruleService *rules.Service,
	engine *execution.Engine,
	audit domain.AuditLog,
	log zerolog.Logger,
) *Service {
	return &Service{
		simulator:   simulator,
		recommender: recommender,
		rules:       ruleService,
		engine:      engine,
		audit:       audit,
		clock:       time.Now,
		log:         log.With().Str("service", "autopilot").Logger(),
	}
}

// WithClock overrides clock for testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// RunSimulation simulates the profile under scenario and attaches the
// recommendations for mode to the result.
func (s *Service) RunSimulation(ctx context.Context, req SimulationRequest) (*simulation.Result, error) {
	seed := s.clock().UnixNano()
	if req.Seed != nil {
		seed = *req.Seed
	}

	result, err := s.simulator.Simulate(ctx, simulation.Request{
		UserID:   req.Profile.UserID,
		Profile:  req.Profile,
		Scenario: req.Scenario,
		Mode:     req.Mode,
		Trials:   req.Trials,
		Seed:     seed,
	})
	if err != nil {
		return nil, err
	}

	result.Recommendations = s.recommender.Recommend(ctx, result, req.Mode)

	s.log.Info().
		Str("user_id", req.Profile.UserID).
		Int64("seed", seed).
		Int("recommendations", len(result.Recommendations)).
		Msg("Simulation served")

	return result, nil
}

// CancelSimulations cancels a user's in-flight simulations
func (s *Service) CancelSimulations(userID string) int {
	return s.simulator.Tracker().CancelUser(userID)
}

// ActiveSimulations lists a user's in-flight simulations
func (s *Service) ActiveSimulations(userID string) []simulation.Run {
	return s.simulator.Tracker().Active(userID)
}

// CreateRule stores a recommended rule as a draft
func (s *Service) CreateRule(ctx context.Context, userID string, rec domain.RecommendedRule, justification *domain.Justification) (*domain.AutopilotRule, error) {
	return s.rules.Create(ctx, userID, rec, justification)
}

// GetRule returns one rule
func (s *Service) GetRule(ctx context.Context, ruleID string) (*domain.AutopilotRule, error) {
	return s.rules.Get(ctx, ruleID)
}

// ListRules returns all rules of a user
func (s *Service) ListRules(ctx context.Context, userID string) ([]domain.AutopilotRule, error) {
	return s.rules.ListByUser(ctx, userID)
}

func (s *Service) ApproveRule(ctx context.Context, ruleID string) (*domain.AutopilotRule, error) {
	return s.rules.Approve(ctx, ruleID)
}

func (s *Service) RejectRule(ctx context.Context, ruleID string) (*domain.AutopilotRule, error) {
	return s.rules.Reject(ctx, ruleID)
}

// ConfirmRule activates a dry-run rule before its dry-run period ends
func (s *Service) ConfirmRule(ctx context.Context, ruleID string) (*domain.AutopilotRule, error) {
	return s.rules.Confirm(ctx, ruleID)
}

func (s *Service) PauseRule(ctx context.Context, ruleID string) (*domain.AutopilotRule, error) {
	return s.rules.Pause(ctx, ruleID)
}

func (s *Service) ResumeRule(ctx context.Context, ruleID string) (*domain.AutopilotRule, error) {
	return s.rules.Resume(ctx, ruleID)
}

// DeleteRule disables a rule; the record is kept for the audit trail
func (s *Service) DeleteRule(ctx context.Context, ruleID string) (*domain.AutopilotRule, error) {
	return s.rules.Delete(ctx, ruleID)
}

// KillSwitch pauses every running rule of a user and cancels their simulations
func (s *Service) KillSwitch(ctx context.Context, userID string) ([]domain.AutopilotRule, error) {
	paused, err := s.rules.KillSwitch(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.CancelSimulations(userID)
	return paused, nil
}

// GetLimits returns the effective limits of a user
func (s *Service) GetLimits(ctx context.Context, userID string) (domain.UserLimits, error) {
	return s.rules.Limits(ctx, userID)
}

// SetTransactionCap raises or lowers a user's per-transaction cap
func (s *Service) SetTransactionCap(ctx context.Context, userID string, txCap decimal.Decimal) (domain.UserLimits, error) {
	return s.rules.SetTransactionCap(ctx, userID, txCap)
}

// HandleEvent evaluates one financial event against the user's running rules
func (s *Service) HandleEvent(ctx context.Context, userID string, event domain.Event) ([]domain.RuleExecution, error) {
	return s.engine.Evaluate(ctx, userID, event)
}

// GetExecution returns one execution
func (s *Service) GetExecution(ctx context.Context, executionID string) (*domain.RuleExecution, error) {
	return s.engine.Get(ctx, executionID)
}

// ListExecutions returns a user's executions, newest first
func (s *Service) ListExecutions(ctx context.Context, userID string, limit int) ([]domain.RuleExecution, error) {
	return s.engine.ListByUser(ctx, userID, limit)
}

// RollbackExecution reverses an execution inside its rollback window
func (s *Service) RollbackExecution(ctx context.Context, executionID, reason string) (*domain.RollbackResult, error) {
	return s.engine.Rollback(ctx, executionID, reason)
}

// GetAuditLog returns a user's audit entries with timestamps in [from, to].
// Zero bounds are open.
func (s *Service) GetAuditLog(ctx context.Context, userID string, from, to time.Time) ([]domain.AuditEntry, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, &domain.ValidationError{Field: "to", Reason: "must not be before from"}
	}
	entries, err := s.audit.Query(ctx, userID, domain.TimeRange{From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log for %s: %w", userID, err)
	}
	return entries, nil
}
