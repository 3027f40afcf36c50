package testing

import (
	"context"
	"sync"
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockFundsMover is a testify mock of domain.FundsMover
type MockFundsMover struct {
	mock.Mock
}

func (m *MockFundsMover) Move(ctx context.Context, req domain.TransferRequest) (domain.TransferReceipt, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.TransferReceipt), args.Error(1)
}

func (m *MockFundsMover) Reverse(ctx context.Context, executionID string, amount decimal.Decimal) error {
	args := m.Called(ctx, executionID, amount)
	return args.Error(0)
}

// MockNotifier is a testify mock of domain.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, userID, message string) error {
	args := m.Called(ctx, userID, message)
	return args.Error(0)
}

// MockSubscriptionController is a testify mock of domain.SubscriptionController
type MockSubscriptionController struct {
	mock.Mock
}

func (m *MockSubscriptionController) Freeze(ctx context.Context, userID, merchant string, until time.Time) error {
	args := m.Called(ctx, userID, merchant, until)
	return args.Error(0)
}

func (m *MockSubscriptionController) Unfreeze(ctx context.Context, userID, merchant string) error {
	args := m.Called(ctx, userID, merchant)
	return args.Error(0)
}

// MemoryAuditLog is an in-memory domain.AuditLog for tests that don't care about the hash chain
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	err     error
}

// NewMemoryAuditLog creates an empty audit log
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

// SetError makes subsequent appends fail
func (l *MemoryAuditLog) SetError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *MemoryAuditLog) Append(_ context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return domain.AuditEntry{}, l.err
	}
	entry.Sequence = int64(len(l.entries) + 1)
	l.entries = append(l.entries, entry)
	return entry, nil
}

func (l *MemoryAuditLog) Query(_ context.Context, userID string, r domain.TimeRange) ([]domain.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.AuditEntry, 0)
	for _, e := range l.entries {
		if e.UserID == userID && r.Contains(e.Timestamp) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Kinds returns the kinds of all appended entries in order
func (l *MemoryAuditLog) Kinds() []domain.AuditKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]domain.AuditKind, len(l.entries))
	for i, e := range l.entries {
		kinds[i] = e.Kind
	}
	return kinds
}

// Last returns the most recent entry
func (l *MemoryAuditLog) Last() (domain.AuditEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return domain.AuditEntry{}, false
	}
	return l.entries[len(l.entries)-1], true
}
