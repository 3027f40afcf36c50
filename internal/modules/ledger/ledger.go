// Package ledger provides the append-only, hash-chained audit log.
//
// Each entry hashes the RFC 8785 canonical JSON of its content together with the
// previous entry's hash, so any rewrite of history breaks the chain. The storage
// itself rejects UPDATE and DELETE.
package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/FenadoAI/autopilot/internal/database"
	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/rs/zerolog"
)

// GenesisHash is the previous hash of the first entry
const GenesisHash = "genesis"

const auditColumns = `seq, id, user_id, kind, rule_id, execution_id, detail, created_at, prev_hash, hash`

// AuditLedger is the SQLite-backed audit log
type AuditLedger struct {
	db    *sql.DB
	mu    sync.Mutex
	clock func() time.Time
	log   zerolog.Logger
}

// NewAuditLedger creates an audit ledger over the ledger database
func NewAuditLedger(db *sql.DB, log zerolog.Logger) *AuditLedger {
	return &AuditLedger{
		db:    db,
		clock: time.Now,
		log:   log.With().Str("repo", "audit_ledger").Logger(),
	}
}

// WithClock overrides clock for testing.
func (l *AuditLedger) WithClock(clock func() time.Time) *AuditLedger {
	l.clock = clock
	return l
}

// hashInput is the content covered by an entry hash
type hashInput struct {
	Sequence    int64             `json:"seq"`
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Kind        string            `json:"kind"`
	RuleID      string            `json:"rule_id"`
	ExecutionID string            `json:"execution_id"`
	Detail      map[string]string `json:"detail"`
	Timestamp   string            `json:"timestamp"`
	PrevHash    string            `json:"prev"`
}

// ComputeHash returns the chain hash for an entry
func ComputeHash(e domain.AuditEntry) (string, error) {
	detail := e.Detail
	if detail == nil {
		detail = map[string]string{}
	}
	raw, err := json.Marshal(hashInput{
		Sequence:    e.Sequence,
		ID:          e.ID,
		UserID:      e.UserID,
		Kind:        string(e.Kind),
		RuleID:      e.RuleID,
		ExecutionID: e.ExecutionID,
		Detail:      detail,
		Timestamp:   e.Timestamp.UTC().Format(time.RFC3339Nano),
		PrevHash:    e.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize audit entry: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Append stores a new entry at the head of the chain.
// ID and Timestamp are assigned when empty; Sequence and hashes always are.
func (l *AuditLedger) Append(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	if entry.UserID == "" {
		return domain.AuditEntry{}, fmt.Errorf("audit entry requires a user id")
	}
	if entry.Kind == "" {
		return domain.AuditEntry{}, fmt.Errorf("audit entry requires a kind")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.clock()
	}
	entry.Timestamp = time.Unix(0, entry.Timestamp.UnixNano()).UTC()

	err := database.WithTransaction(l.db, func(tx *sql.Tx) error {
		var lastSeq sql.NullInt64
		var lastHash sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT seq, hash FROM audit_entries ORDER BY seq DESC LIMIT 1`).Scan(&lastSeq, &lastHash)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to read chain head: %w", err)
		}

		entry.Sequence = 1
		entry.PrevHash = GenesisHash
		if lastSeq.Valid {
			entry.Sequence = lastSeq.Int64 + 1
			entry.PrevHash = lastHash.String
		}

		hash, err := ComputeHash(entry)
		if err != nil {
			return err
		}
		entry.Hash = hash

		detail, err := json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("failed to marshal detail: %w", err)
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO audit_entries (`+auditColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.Sequence, entry.ID, entry.UserID, string(entry.Kind),
			nullString(entry.RuleID), nullString(entry.ExecutionID), string(detail),
			entry.Timestamp.UnixNano(), entry.PrevHash, entry.Hash,
		)
		if err != nil {
			return fmt.Errorf("failed to insert audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("failed to append audit entry: %w", err)
	}

	l.log.Debug().
		Int64("seq", entry.Sequence).
		Str("kind", string(entry.Kind)).
		Str("user_id", entry.UserID).
		Msg("Audit entry appended")

	return entry, nil
}

// Query returns a user's entries within the range, oldest first
func (l *AuditLedger) Query(ctx context.Context, userID string, r domain.TimeRange) ([]domain.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_entries WHERE user_id = ?`
	args := []interface{}{userID}
	if !r.From.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, r.From.UnixNano())
	}
	if !r.To.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, r.To.UnixNano())
	}
	query += " ORDER BY seq ASC"

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// VerifyReport is the outcome of a full chain check
type VerifyReport struct {
	Entries  int    `json:"entries"`
	Valid    bool   `json:"valid"`
	BrokenAt int64  `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
	HeadHash string `json:"head_hash"`
}

// Verify recomputes every hash and checks the links between entries
func (l *AuditLedger) Verify(ctx context.Context) (*VerifyReport, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT `+auditColumns+` FROM audit_entries ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{Entries: len(entries), Valid: true, HeadHash: GenesisHash}
	prev := GenesisHash
	for i, e := range entries {
		if e.Sequence != int64(i+1) {
			return report.broken(e.Sequence, "sequence gap"), nil
		}
		if e.PrevHash != prev {
			return report.broken(e.Sequence, "previous hash mismatch"), nil
		}
		hash, err := ComputeHash(e)
		if err != nil {
			return nil, err
		}
		if hash != e.Hash {
			return report.broken(e.Sequence, "content hash mismatch"), nil
		}
		prev = e.Hash
	}
	report.HeadHash = prev

	if !report.Valid {
		l.log.Error().Int64("broken_at", report.BrokenAt).Msg("Audit chain verification failed")
	}
	return report, nil
}

func (r *VerifyReport) broken(seq int64, reason string) *VerifyReport {
	r.Valid = false
	r.BrokenAt = seq
	r.Reason = reason
	return r
}

func scanEntries(rows *sql.Rows) ([]domain.AuditEntry, error) {
	entries := make([]domain.AuditEntry, 0)
	for rows.Next() {
		var e domain.AuditEntry
		var kind, detail string
		var ruleID, executionID sql.NullString
		var createdAt int64

		if err := rows.Scan(&e.Sequence, &e.ID, &e.UserID, &kind, &ruleID, &executionID,
			&detail, &createdAt, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		e.Kind = domain.AuditKind(kind)
		e.RuleID = ruleID.String
		e.ExecutionID = executionID.String
		e.Timestamp = time.Unix(0, createdAt).UTC()
		if detail != "" && detail != "null" {
			if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
