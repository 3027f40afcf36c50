package execution

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const executionColumns = `id, rule_id, user_id, event_id, action_kind, target, executed_at, amount,
	simulated, outcome, failure_reason, transfer_ref, rollback_deadline, rollback_claimed_at,
	rolled_back, rolled_back_at, rollback_reason`

// Repository persists rule executions in autopilot.db
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new execution repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "executions").Logger(),
	}
}

// Insert stores a new execution record
func (r *Repository) Insert(ctx context.Context, e domain.RuleExecution) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RuleID, e.UserID, e.EventID, string(e.ActionKind), e.Target,
		e.Timestamp.UnixNano(), e.Amount.String(), boolToInt(e.Simulated), string(e.Outcome),
		nullString(e.FailureReason), nullString(e.TransferRef), e.RollbackDeadline.UnixNano(),
		nullTime(e.RollbackClaimedAt), boolToInt(e.RolledBack), nullTime(e.RolledBackAt), nullString(e.RollbackReason),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution %s: %w", e.ID, err)
	}
	return nil
}

// Get retrieves an execution by ID
func (r *Repository) Get(ctx context.Context, id string) (*domain.RuleExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundError("execution", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}
	return e, nil
}

// ListByUser returns a user's executions, newest first.
// limit <= 0 returns all.
func (r *Repository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.RuleExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE user_id = ? ORDER BY executed_at DESC, id DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	executions := make([]domain.RuleExecution, 0)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return executions, nil
}

// ClaimRollback marks an execution as being reversed.
// Only one claim can ever succeed; later claims return an error wrapping
// domain.ErrAlreadyRolledBack.
func (r *Repository) ClaimRollback(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE executions SET rollback_claimed_at = ?
		WHERE id = ? AND rolled_back = 0 AND rollback_claimed_at IS NULL`,
		at.UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to claim rollback of execution %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("execution %s rollback already claimed: %w", id, domain.ErrAlreadyRolledBack)
	}
	return nil
}

// ReleaseRollback drops an unfinished claim after the reversal was refused
func (r *Repository) ReleaseRollback(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE executions SET rollback_claimed_at = NULL
		WHERE id = ? AND rolled_back = 0`, id)
	if err != nil {
		return fmt.Errorf("failed to release rollback claim of execution %s: %w", id, err)
	}
	return nil
}

// MarkRolledBack flips rolled_back exactly once.
// Returns an error wrapping domain.ErrAlreadyRolledBack when it was already set.
func (r *Repository) MarkRolledBack(ctx context.Context, id string, at time.Time, reason string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE executions
		SET rolled_back = 1, rolled_back_at = ?, rollback_reason = ?
		WHERE id = ? AND rolled_back = 0`,
		at.UnixNano(), nullString(reason), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark execution %s rolled back: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("execution %s: %w", id, domain.ErrAlreadyRolledBack)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(s scanner) (*domain.RuleExecution, error) {
	var e domain.RuleExecution
	var actionKind, amount, outcome string
	var executedAt, deadline int64
	var simulated, rolledBack int
	var failureReason, transferRef, rollbackReason sql.NullString
	var claimedAt, rolledBackAt sql.NullInt64

	if err := s.Scan(&e.ID, &e.RuleID, &e.UserID, &e.EventID, &actionKind, &e.Target, &executedAt,
		&amount, &simulated, &outcome, &failureReason, &transferRef, &deadline, &claimedAt,
		&rolledBack, &rolledBackAt, &rollbackReason); err != nil {
		return nil, err
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
	}

	e.ActionKind = domain.ActionKind(actionKind)
	e.Timestamp = time.Unix(0, executedAt).UTC()
	e.Amount = parsed
	e.Simulated = simulated == 1
	e.Outcome = domain.ExecutionOutcome(outcome)
	e.FailureReason = failureReason.String
	e.TransferRef = transferRef.String
	e.RollbackDeadline = time.Unix(0, deadline).UTC()
	e.RolledBack = rolledBack == 1
	e.RollbackReason = rollbackReason.String
	if claimedAt.Valid {
		t := time.Unix(0, claimedAt.Int64).UTC()
		e.RollbackClaimedAt = &t
	}
	if rolledBackAt.Valid {
		t := time.Unix(0, rolledBackAt.Int64).UTC()
		e.RolledBackAt = &t
	}
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
