package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TransferRequest asks the funds mover to move money between a user's accounts
type TransferRequest struct {
	ExecutionID   string          `json:"execution_id"`
	UserID        string          `json:"user_id"`
	RuleID        string          `json:"rule_id"`
	SourceAccount string          `json:"source_account,omitempty"`
	Destination   string          `json:"destination"`
	Amount        decimal.Decimal `json:"amount"`
}

// TransferReceipt is returned by a successful transfer
type TransferReceipt struct {
	Reference string    `json:"reference"`
	SettledAt time.Time `json:"settled_at"`
}

// FundsMover abstracts the external payment rail.
// The engine never retries a failed Move; Reverse is only called for rollbacks.
type FundsMover interface {
	// Move transfers funds and returns a reference for later reversal
	Move(ctx context.Context, req TransferRequest) (TransferReceipt, error)

	// Reverse refunds exactly amount for a previously successful execution
	Reverse(ctx context.Context, executionID string, amount decimal.Decimal) error
}

// Notifier delivers alerts to a user
type Notifier interface {
	Notify(ctx context.Context, userID, message string) error
}

// SubscriptionController freezes and unfreezes recurring merchant charges
type SubscriptionController interface {
	Freeze(ctx context.Context, userID, merchant string, until time.Time) error
	Unfreeze(ctx context.Context, userID, merchant string) error
}

// AuditLog is the append-only audit trail.
// Append assigns sequence and hashes; callers only fill the descriptive fields.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) (AuditEntry, error)
	Query(ctx context.Context, userID string, r TimeRange) ([]AuditEntry, error)
}
