package fundsmover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PaperMover records transfers without moving money
type PaperMover struct {
	mu        sync.Mutex
	transfers map[string]*paperTransfer
	clock     func() time.Time
	log       zerolog.Logger
}

type paperTransfer struct {
	request  domain.TransferRequest
	receipt  domain.TransferReceipt
	reversed bool
}

// NewPaperMover creates a new paper mover
func NewPaperMover(log zerolog.Logger) *PaperMover {
	return &PaperMover{
		transfers: make(map[string]*paperTransfer),
		clock:     time.Now,
		log:       log.With().Str("component", "paper_mover").Logger(),
	}
}

// Move records the transfer and returns a paper reference
func (m *PaperMover) Move(ctx context.Context, req domain.TransferRequest) (domain.TransferReceipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.TransferReceipt{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.TransferReceipt{}, fmt.Errorf("transfer amount must be positive, got %s", req.Amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.transfers[req.ExecutionID]; exists {
		return domain.TransferReceipt{}, fmt.Errorf("execution %s already transferred", req.ExecutionID)
	}

	receipt := domain.TransferReceipt{
		Reference: "paper-" + uuid.NewString(),
		SettledAt: m.clock(),
	}
	m.transfers[req.ExecutionID] = &paperTransfer{request: req, receipt: receipt}

	m.log.Info().
		Str("execution_id", req.ExecutionID).
		Str("user_id", req.UserID).
		Str("destination", req.Destination).
		Str("amount", req.Amount.StringFixed(2)).
		Msg("Paper transfer recorded")

	return receipt, nil
}

// Reverse marks a recorded transfer as refunded. The amount must match the original.
func (m *PaperMover) Reverse(ctx context.Context, executionID string, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	transfer, ok := m.transfers[executionID]
	if !ok {
		return fmt.Errorf("no paper transfer for execution %s", executionID)
	}
	if transfer.reversed {
		return fmt.Errorf("paper transfer for execution %s already reversed", executionID)
	}
	if !transfer.request.Amount.Equal(amount) {
		return fmt.Errorf("reversal amount %s does not match transfer amount %s", amount, transfer.request.Amount)
	}

	transfer.reversed = true
	m.log.Info().
		Str("execution_id", executionID).
		Str("amount", amount.StringFixed(2)).
		Msg("Paper transfer reversed")
	return nil
}

// Net returns what paper transfers have moved to destination, net of reversals
func (m *PaperMover) Net(destination string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := decimal.Zero
	for _, t := range m.transfers {
		if t.request.Destination == destination && !t.reversed {
			total = total.Add(t.request.Amount)
		}
	}
	return total
}
