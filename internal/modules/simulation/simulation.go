// Package simulation runs reproducible Monte Carlo forecasts of a user's finances
// under scenario shocks and candidate autopilot rules.
package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/FenadoAI/autopilot/internal/utils"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultTrials = 1000
	MaxTrials     = 100000
)

// Request describes one simulation run.
// Rules == nil applies the mode's candidate templates; an empty non-nil slice runs a control.
type Request struct {
	UserID   string
	Profile  domain.FinancialProfile
	Scenario domain.Scenario
	Mode     domain.Mode
	Trials   int
	Seed     int64
	Rules    []Template
}

// Result is the immutable aggregate of a completed run. The same request and
// seed always produce an equal Result; run bookkeeping lives on the tracker's Run.
type Result struct {
	Profile                domain.FinancialProfile  `json:"profile"`
	Scenario               domain.Scenario          `json:"-"`
	Mode                   domain.Mode              `json:"mode"`
	Trials                 int                      `json:"trials"`
	Seed                   int64                    `json:"seed"`
	AppliedRules           []string                 `json:"applied_rules"`
	P10EndingBalance       float64                  `json:"p10_ending_balance"`
	MedianEndingBalance    float64                  `json:"median_ending_balance"`
	P90EndingBalance       float64                  `json:"p90_ending_balance"`
	MeanEndingBalance      float64                  `json:"mean_ending_balance"`
	StdDevEndingBalance    float64                  `json:"std_dev_ending_balance"`
	MedianNetWorth         float64                  `json:"median_net_worth"`
	GoalSuccessProbability float64                  `json:"goal_success_probability"`
	MeanGoalCompletion     float64                  `json:"mean_goal_completion"`
	RiskEventRate          float64                  `json:"risk_event_rate"`
	RiskEventsSurvivedRate float64                  `json:"risk_events_survived_rate"`
	Outcomes               Outcomes                 `json:"outcomes"`
	Recommendations        []domain.RecommendedRule `json:"recommendations"`
}

type resultAlias Result

// MarshalJSON adds the scenario envelope
func (r Result) MarshalJSON() ([]byte, error) {
	scenario, err := domain.MarshalScenario(r.Scenario)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		resultAlias
		Scenario json.RawMessage `json:"scenario"`
	}{resultAlias(r), scenario})
}

// Justification summarizes the result for storage alongside a rule
func (r Result) Justification(rec *domain.RecommendedRule) *domain.Justification {
	j := &domain.Justification{
		Seed:                   r.Seed,
		Trials:                 r.Trials,
		Mode:                   r.Mode,
		Scenario:               kindOf(r.Scenario),
		GoalSuccessProbability: r.GoalSuccessProbability,
		P10EndingBalance:       r.P10EndingBalance,
		MedianEndingBalance:    r.MedianEndingBalance,
		P90EndingBalance:       r.P90EndingBalance,
		RiskEventRate:          r.RiskEventRate,
	}
	if rec != nil {
		j.EstimatedImpact = rec.EstimatedImpact
		j.RiskLevel = rec.RiskLevel
	}
	return j
}

func kindOf(s domain.Scenario) domain.ScenarioKind {
	if s == nil {
		return domain.ScenarioBaseline
	}
	return s.Kind()
}

// Config tunes the simulator
type Config struct {
	// Workers bounds trial parallelism; zero means one per logical CPU
	Workers int
	// DefaultTrials is used when a request does not set Trials
	DefaultTrials int
}

// Simulator runs simulations and tracks in-flight runs
type Simulator struct {
	workers       int
	defaultTrials int
	tracker       *Tracker
	now           func() time.Time
	log           zerolog.Logger
}

// New creates a simulator
func New(cfg Config, tracker *Tracker, log zerolog.Logger) *Simulator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	trials := cfg.DefaultTrials
	if trials <= 0 {
		trials = DefaultTrials
	}
	if tracker == nil {
		tracker = NewTracker(log)
	}
	return &Simulator{
		workers:       workers,
		defaultTrials: trials,
		tracker:       tracker,
		now:           time.Now,
		log:           log.With().Str("service", "simulation").Logger(),
	}
}

// DefaultWorkers returns the logical CPU count, falling back to 4
func DefaultWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return 4
	}
	return n
}

// Tracker exposes the in-flight run tracker
func (s *Simulator) Tracker() *Tracker {
	return s.tracker
}

// normalize validates a request and fills defaults
func (s *Simulator) normalize(req *Request) error {
	if !req.Mode.Valid() {
		return &domain.InvalidScenarioParameterError{Param: "mode", Reason: fmt.Sprintf("unknown mode %q", req.Mode)}
	}
	if req.Scenario == nil {
		req.Scenario = domain.Baseline{}
	}
	if err := req.Scenario.Validate(); err != nil {
		return err
	}
	if req.Trials == 0 {
		req.Trials = s.defaultTrials
	}
	if req.Trials < 0 || req.Trials > MaxTrials {
		return &domain.InvalidScenarioParameterError{Param: "trials", Reason: fmt.Sprintf("must be within 1..%d", MaxTrials)}
	}
	if err := req.Profile.CheckHistory(); err != nil {
		return err
	}
	if req.Rules == nil {
		req.Rules = CandidateRules(req.Profile, req.Mode)
	}
	for _, t := range req.Rules {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	if req.UserID == "" {
		req.UserID = req.Profile.UserID
	}
	return nil
}

// Simulate runs the request to completion or cancellation.
// It never returns a partial result.
func (s *Simulator) Simulate(ctx context.Context, req Request) (*Result, error) {
	if err := s.normalize(&req); err != nil {
		return nil, err
	}

	run, runCtx := s.tracker.Start(ctx, req.UserID, req.Trials, req.Seed)
	defer s.tracker.Finish(run.ID)

	s.tracker.Transition(run.ID, RunRunning)
	start := s.now()

	outcomes, err := s.runTrials(runCtx, newPlan(req.Profile, req.Scenario, req.Mode, req.Rules), req.Seed, req.Trials)
	if err != nil {
		status := RunFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = RunCancelled
		}
		s.tracker.Transition(run.ID, status)
		s.log.Debug().Err(err).Str("run_id", run.ID).Msg("Simulation aborted")
		return nil, err
	}

	res, completion := aggregate(outcomes)
	res.Profile = req.Profile
	res.Scenario = req.Scenario
	res.Mode = req.Mode
	res.Trials = req.Trials
	res.Seed = req.Seed
	res.AppliedRules = make([]string, 0, len(req.Rules))
	for _, t := range req.Rules {
		res.AppliedRules = append(res.AppliedRules, t.Name)
	}
	res.Outcomes = outcomeCases(res, adviceFor(req.Profile, req.Scenario, req.Mode, res.MeanGoalCompletion), completion.min, completion.max)
	res.Recommendations = []domain.RecommendedRule{}

	s.tracker.Transition(run.ID, RunCompleted)
	s.log.Debug().
		Str("run_id", run.ID).
		Str("scenario", string(req.Scenario.Kind())).
		Str("mode", string(req.Mode)).
		Int("trials", req.Trials).
		Dur("duration", s.now().Sub(start)).
		Float64("goal_success", res.GoalSuccessProbability).
		Msg("Simulation completed")

	return res, nil
}

// runTrials fans trials out over a bounded worker pool. Each worker owns a contiguous
// index range and writes only its own slots; the caller reduces after Wait.
func (s *Simulator) runTrials(ctx context.Context, pl *plan, seed int64, trials int) ([]trialOutcome, error) {
	defer utils.OperationTimer("simulation_trials", s.log)()

	outcomes := make([]trialOutcome, trials)

	workers := s.workers
	if workers > trials {
		workers = trials
	}
	chunk := (trials + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < trials; lo += chunk {
		lo, hi := lo, min(lo+chunk, trials)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				outcomes[i] = pl.runTrial(seed, i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

type completionRange struct {
	min, max float64
}

// aggregate reduces trial outcomes in index order
func aggregate(outcomes []trialOutcome) (*Result, completionRange) {
	n := len(outcomes)
	endings := make([]float64, n)
	netWorths := make([]float64, n)
	var goalsMet, riskEvents, survived int
	var completion float64
	span := completionRange{min: math.Inf(1), max: math.Inf(-1)}

	for i, o := range outcomes {
		endings[i] = o.endingBalance
		netWorths[i] = o.netWorth
		if o.allGoalsMet {
			goalsMet++
		}
		if o.riskEvent {
			riskEvents++
		}
		if o.survived {
			survived++
		}
		completion += o.goalCompletion
		span.min = math.Min(span.min, o.goalCompletion)
		span.max = math.Max(span.max, o.goalCompletion)
	}

	mean, std := stat.MeanStdDev(endings, nil)
	if n < 2 {
		std = 0
	}

	sort.Float64s(endings)
	sort.Float64s(netWorths)

	res := &Result{
		P10EndingBalance:       percentile(endings, 0.10),
		MedianEndingBalance:    percentile(endings, 0.50),
		P90EndingBalance:       percentile(endings, 0.90),
		MeanEndingBalance:      mean,
		StdDevEndingBalance:    std,
		MedianNetWorth:         percentile(netWorths, 0.50),
		GoalSuccessProbability: float64(goalsMet) / float64(n),
		MeanGoalCompletion:     completion / float64(n),
		RiskEventRate:          float64(riskEvents) / float64(n),
		RiskEventsSurvivedRate: float64(survived) / float64(n),
	}
	return res, span
}

// percentile is a nearest-rank percentile over already sorted data
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}
