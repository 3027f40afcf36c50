package simulation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunStatus is the lifecycle of a SimulationRun
type RunStatus string

const (
	RunCreated   RunStatus = "created"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run is an in-flight simulation
type Run struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Trials    int       `json:"trials"`
	Seed      int64     `json:"seed"`
	Status    RunStatus `json:"status"`
	StartedAt time.Time `json:"started_at"`

	cancel context.CancelFunc
}

// Tracker holds runs only while they are in flight
type Tracker struct {
	mu   sync.Mutex
	runs map[string]*Run
	log  zerolog.Logger
}

// NewTracker creates an empty run tracker
func NewTracker(log zerolog.Logger) *Tracker {
	return &Tracker{
		runs: make(map[string]*Run),
		log:  log.With().Str("component", "simulation_tracker").Logger(),
	}
}

// Start registers a new run and returns a context cancelled by CancelUser
func (t *Tracker) Start(ctx context.Context, userID string, trials int, seed int64) (Run, context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:        uuid.New().String(),
		UserID:    userID,
		Trials:    trials,
		Seed:      seed,
		Status:    RunCreated,
		StartedAt: time.Now(),
		cancel:    cancel,
	}

	t.mu.Lock()
	t.runs[run.ID] = run
	t.mu.Unlock()

	return *run, runCtx
}

// Transition records a status change for an in-flight run
func (t *Tracker) Transition(id string, status RunStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if run, ok := t.runs[id]; ok {
		run.Status = status
		t.log.Debug().Str("run_id", id).Str("status", string(status)).Msg("Run transition")
	}
}

// Finish releases the run's context and forgets it
func (t *Tracker) Finish(id string) {
	t.mu.Lock()
	run, ok := t.runs[id]
	delete(t.runs, id)
	t.mu.Unlock()
	if ok {
		run.cancel()
	}
}

// CancelUser cancels every in-flight run of a user, e.g. after their profile changed.
// Returns the number of runs cancelled.
func (t *Tracker) CancelUser(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, run := range t.runs {
		if run.UserID != userID {
			continue
		}
		run.cancel()
		n++
	}
	if n > 0 {
		t.log.Info().Str("user_id", userID).Int("runs", n).Msg("Cancelled in-flight simulations")
	}
	return n
}

// Active returns a copy of the in-flight runs of a user
func (t *Tracker) Active(userID string) []Run {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Run, 0)
	for _, run := range t.runs {
		if userID == "" || run.UserID == userID {
			r := *run
			r.cancel = nil
			out = append(out, r)
		}
	}
	return out
}
