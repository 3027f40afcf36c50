package fundsmover

import (
	"context"
	"strings"
	"testing"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperMover_MoveAndReverse(t *testing.T) {
	m := NewPaperMover(zerolog.Nop())
	ctx := context.Background()

	receipt, err := m.Move(ctx, domain.TransferRequest{
		ExecutionID: "exec-1",
		Destination: "goal:goal-emergency",
		Amount:      decimal.NewFromInt(500),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(receipt.Reference, "paper-"))
	assert.True(t, decimal.NewFromInt(500).Equal(m.Net("goal:goal-emergency")))

	_, err = m.Move(ctx, domain.TransferRequest{ExecutionID: "exec-1", Amount: decimal.NewFromInt(1)})
	assert.Error(t, err, "an execution moves funds at most once")

	assert.Error(t, m.Reverse(ctx, "exec-1", decimal.NewFromInt(400)))
	require.NoError(t, m.Reverse(ctx, "exec-1", decimal.NewFromInt(500)))
	assert.True(t, m.Net("goal:goal-emergency").IsZero())
	assert.Error(t, m.Reverse(ctx, "exec-1", decimal.NewFromInt(500)))

	assert.Error(t, m.Reverse(ctx, "unknown", decimal.NewFromInt(1)))
}

func TestPaperMover_Rejects(t *testing.T) {
	m := NewPaperMover(zerolog.Nop())

	_, err := m.Move(context.Background(), domain.TransferRequest{ExecutionID: "exec-1", Amount: decimal.Zero})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Move(ctx, domain.TransferRequest{ExecutionID: "exec-2", Amount: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, context.Canceled)
}
