package execution

import (
	"context"
	"testing"
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	testingpkg "github.com/FenadoAI/autopilot/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedExecution(id string, at time.Time) domain.RuleExecution {
	return domain.RuleExecution{
		ID:               id,
		RuleID:           "rule-1",
		UserID:           "user-1",
		EventID:          "evt-1",
		ActionKind:       domain.ActionSweepToGoal,
		Target:           "goal:goal-emergency",
		Timestamp:        at,
		Amount:           dec("123.45"),
		Outcome:          domain.OutcomeSuccess,
		TransferRef:      "tr-" + id,
		RollbackDeadline: at.Add(24 * time.Hour),
	}
}

func TestRepository_InsertAndList(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "autopilot")
	defer cleanup()
	repo := NewRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
	ctx := context.Background()

	base := testingpkg.FixedTime
	require.NoError(t, repo.Insert(ctx, storedExecution("a", base)))
	require.NoError(t, repo.Insert(ctx, storedExecution("b", base.Add(time.Hour))))
	other := storedExecution("c", base.Add(2*time.Hour))
	other.UserID = "user-2"
	require.NoError(t, repo.Insert(ctx, other))

	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, dec("123.45").Equal(got.Amount))
	assert.Equal(t, "tr-a", got.TransferRef)
	assert.True(t, got.Timestamp.Equal(base))
	assert.True(t, got.RollbackDeadline.Equal(base.Add(24*time.Hour)))
	assert.Nil(t, got.RolledBackAt)

	all, err := repo.ListByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID)

	limited, err := repo.ListByUser(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepository_MarkRolledBackOnce(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "autopilot")
	defer cleanup()
	repo := NewRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, storedExecution("a", testingpkg.FixedTime)))

	at := testingpkg.FixedTime.Add(time.Hour)
	require.NoError(t, repo.MarkRolledBack(ctx, "a", at, "oops"))
	assert.ErrorIs(t, repo.MarkRolledBack(ctx, "a", at, "again"), domain.ErrAlreadyRolledBack)

	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.RolledBack)
	assert.Equal(t, "oops", got.RollbackReason)
	require.NotNil(t, got.RolledBackAt)
	assert.True(t, got.RolledBackAt.Equal(at))
}
