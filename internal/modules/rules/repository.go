// Package rules provides the autopilot rule store and its lifecycle state machine.
// This file implements the Repository, which persists rules and per-user limits
// in autopilot.db.
package rules

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/FenadoAI/autopilot/internal/utils"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

const ruleColumns = `id, user_id, name, mode, condition_json, action_json, state, approved,
	justification, created_at, updated_at, state_changed_at, approved_at, paused_from, dry_run_served`

// Repository handles rule and limit persistence.
//
// Conditions and actions are stored as their JSON envelopes; the justification
// is a msgpack blob. Timestamps are Unix nanoseconds.
//
// Database: autopilot.db (rules, user_limits tables)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new rules repository.
//
// Parameters:
//   - db: Database connection to autopilot.db
//   - log: Structured logger
//
// Returns:
//   - *Repository: Initialized repository instance
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "rules").Logger(),
	}
}

// Create inserts a new rule
func (r *Repository) Create(ctx context.Context, rule *domain.AutopilotRule) error {
	cond, err := domain.MarshalCondition(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal condition: %w", err)
	}
	action, err := domain.MarshalAction(rule.Action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}
	var justification []byte
	if rule.Justification != nil {
		justification, err = msgpack.Marshal(rule.Justification)
		if err != nil {
			return fmt.Errorf("failed to marshal justification: %w", err)
		}
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.UserID, rule.Name, string(rule.Mode), string(cond), string(action),
		string(rule.State), boolToInt(rule.Approved), justification,
		rule.CreatedAt.UnixNano(), rule.UpdatedAt.UnixNano(), rule.StateChangedAt.UnixNano(),
		nullTime(rule.ApprovedAt), string(rule.PausedFrom), int64(rule.DryRunServed),
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule %s: %w", rule.ID, err)
	}
	return nil
}

// Get retrieves a rule by ID.
// Returns an error wrapping domain.ErrNotFound if the rule doesn't exist.
func (r *Repository) Get(ctx context.Context, id string) (*domain.AutopilotRule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundError("rule", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %s: %w", id, err)
	}
	return rule, nil
}

// ListByUser returns all rules of a user, oldest first
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]domain.AutopilotRule, error) {
	return r.list(ctx, "list_rules_by_user",
		`SELECT `+ruleColumns+` FROM rules WHERE user_id = ? ORDER BY created_at ASC, id ASC`, userID)
}

// ListByStates returns a user's rules in any of the given states, oldest first
func (r *Repository) ListByStates(ctx context.Context, userID string, states ...domain.RuleState) ([]domain.AutopilotRule, error) {
	if len(states) == 0 {
		return []domain.AutopilotRule{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(states)), ", ")
	args := []interface{}{userID}
	for _, s := range states {
		args = append(args, string(s))
	}
	return r.list(ctx, "list_rules_by_states",
		`SELECT `+ruleColumns+` FROM rules WHERE user_id = ? AND state IN (`+placeholders+`)
		 ORDER BY created_at ASC, id ASC`, args...)
}

// ListDue returns rules of every user that have been in state since at or before cutoff.
// Dry-run time served before a pause counts towards the state's age.
func (r *Repository) ListDue(ctx context.Context, state domain.RuleState, cutoff time.Time) ([]domain.AutopilotRule, error) {
	return r.list(ctx, "list_due_rules",
		`SELECT `+ruleColumns+` FROM rules WHERE state = ? AND state_changed_at - dry_run_served <= ?
		 ORDER BY state_changed_at ASC, id ASC`, string(state), cutoff.UnixNano())
}

// UpdateState persists a transition of rule from the given state.
// The update is guarded on the stored state so a concurrent writer cannot be overwritten;
// a lost race returns an InvalidStateTransitionError.
func (r *Repository) UpdateState(ctx context.Context, rule *domain.AutopilotRule, from domain.RuleState) error {
	res, err := r.db.ExecContext(ctx, `UPDATE rules
		SET state = ?, approved = ?, approved_at = ?, updated_at = ?, state_changed_at = ?,
			paused_from = ?, dry_run_served = ?
		WHERE id = ? AND state = ?`,
		string(rule.State), boolToInt(rule.Approved), nullTime(rule.ApprovedAt),
		rule.UpdatedAt.UnixNano(), rule.StateChangedAt.UnixNano(),
		string(rule.PausedFrom), int64(rule.DryRunServed),
		rule.ID, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", rule.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return &domain.InvalidStateTransitionError{RuleID: rule.ID, From: from, To: rule.State}
	}
	return nil
}

// GetLimits returns the stored limits of a user, or nil when none are stored
func (r *Repository) GetLimits(ctx context.Context, userID string) (*domain.UserLimits, error) {
	var capStr string
	var explicit int
	var updatedAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT transaction_cap, explicit, updated_at FROM user_limits WHERE user_id = ?`, userID,
	).Scan(&capStr, &explicit, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get limits for %s: %w", userID, err)
	}

	txCap, err := decimal.NewFromString(capStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction cap %q: %w", capStr, err)
	}
	return &domain.UserLimits{
		UserID:         userID,
		TransactionCap: txCap,
		Explicit:       explicit == 1,
		UpdatedAt:      time.Unix(0, updatedAt).UTC(),
	}, nil
}

// SetLimits upserts the limits of a user
func (r *Repository) SetLimits(ctx context.Context, limits domain.UserLimits) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO user_limits (user_id, transaction_cap, explicit, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			transaction_cap = excluded.transaction_cap,
			explicit = excluded.explicit,
			updated_at = excluded.updated_at`,
		limits.UserID, limits.TransactionCap.String(), boolToInt(limits.Explicit), limits.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to set limits for %s: %w", limits.UserID, err)
	}
	return nil
}

func (r *Repository) list(ctx context.Context, name, query string, args ...interface{}) ([]domain.AutopilotRule, error) {
	done := utils.MeasureDBQuery(name, r.log)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	rules := make([]domain.AutopilotRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	done(int64(len(rules)))
	return rules, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(s scanner) (*domain.AutopilotRule, error) {
	var rule domain.AutopilotRule
	var mode, condJSON, actionJSON, state, pausedFrom string
	var approved int
	var justification []byte
	var createdAt, updatedAt, stateChangedAt, dryRunServed int64
	var approvedAt sql.NullInt64

	if err := s.Scan(&rule.ID, &rule.UserID, &rule.Name, &mode, &condJSON, &actionJSON, &state,
		&approved, &justification, &createdAt, &updatedAt, &stateChangedAt, &approvedAt,
		&pausedFrom, &dryRunServed); err != nil {
		return nil, err
	}

	cond, err := domain.UnmarshalCondition([]byte(condJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to decode condition of rule %s: %w", rule.ID, err)
	}
	action, err := domain.UnmarshalAction([]byte(actionJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to decode action of rule %s: %w", rule.ID, err)
	}
	if len(justification) > 0 {
		var j domain.Justification
		if err := msgpack.Unmarshal(justification, &j); err != nil {
			return nil, fmt.Errorf("failed to decode justification of rule %s: %w", rule.ID, err)
		}
		rule.Justification = &j
	}

	rule.Mode = domain.Mode(mode)
	rule.Condition = cond
	rule.Action = action
	rule.State = domain.RuleState(state)
	rule.Approved = approved == 1
	rule.CreatedAt = time.Unix(0, createdAt).UTC()
	rule.UpdatedAt = time.Unix(0, updatedAt).UTC()
	rule.StateChangedAt = time.Unix(0, stateChangedAt).UTC()
	rule.PausedFrom = domain.RuleState(pausedFrom)
	rule.DryRunServed = time.Duration(dryRunServed)
	if approvedAt.Valid {
		t := time.Unix(0, approvedAt.Int64).UTC()
		rule.ApprovedAt = &t
	}
	return &rule, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
