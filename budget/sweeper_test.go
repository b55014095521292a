package budget_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-ledger/budget"
)

func TestSweepExpired_ReleasesOnlyExpiredHolds(t *testing.T) {
	// GIVEN: one expired hold and one live hold
	// WHEN:  sweeping
	// THEN:  only the expired hold is released

	s := newTestStore()
	start := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	clock := start
	now := func() time.Time { return clock }

	manager := budget.NewManager(s).WithClock(now)
	sweeper := budget.NewSweeper(s).WithClock(now)
	ctx := context.Background()

	_, err := manager.Reserve(ctx, budget.ReserveRequest{
		Key: testKey, PRID: "pr-short", Quarter: budget.Q1,
		Amount: budget.MoneyFromInt(100), TTL: time.Hour,
	})
	require.NoError(t, err)

	_, err = manager.Reserve(ctx, budget.ReserveRequest{
		Key: testKey, PRID: "pr-long", Quarter: budget.Q1,
		Amount: budget.MoneyFromInt(200), TTL: 30 * 24 * time.Hour,
	})
	require.NoError(t, err)

	clock = start.Add(2 * time.Hour)

	report, err := sweeper.SweepExpired(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ReleasedCount)
	assert.Equal(t, "100", report.TotalAmount.String())
	require.Len(t, report.Details, 1)
	assert.Equal(t, budget.PRID("pr-short"), report.Details[0].PRID)
	assert.Zero(t, report.Errors)

	// The live hold still counts.
	avail, err := manager.CheckAvailability(ctx, testKey, budget.Q1, budget.Zero)
	require.NoError(t, err)
	assert.Equal(t, "200", avail.Reserved.String())
}

func TestSweepExpired_SecondSweepReleasesNothing(t *testing.T) {
	// Idempotence: no new expirations between runs means zero releases.

	s := newTestStore()
	start := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	clock := start
	now := func() time.Time { return clock }

	manager := budget.NewManager(s).WithClock(now)
	sweeper := budget.NewSweeper(s).WithClock(now)
	ctx := context.Background()

	_, err := manager.Reserve(ctx, budget.ReserveRequest{
		Key: testKey, PRID: "pr-A", Quarter: budget.Q1,
		Amount: budget.MoneyFromInt(100), TTL: time.Hour,
	})
	require.NoError(t, err)

	clock = start.Add(2 * time.Hour)

	first, err := sweeper.SweepExpired(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, first.ReleasedCount)

	second, err := sweeper.SweepExpired(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, second.ReleasedCount)
	assert.Equal(t, "0", second.TotalAmount.String())
}

func TestSweepExpired_BatchSizeBoundsOneRun(t *testing.T) {
	// Unprocessed rows remain eligible for the next run.

	s := newTestStore()
	start := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	clock := start
	now := func() time.Time { return clock }

	manager := budget.NewManager(s).WithClock(now)
	sweeper := budget.NewSweeper(s).WithClock(now)
	ctx := context.Background()

	for _, prID := range []budget.PRID{"pr-1", "pr-2", "pr-3"} {
		_, err := manager.Reserve(ctx, budget.ReserveRequest{
			Key: testKey, PRID: prID, Quarter: budget.Q1,
			Amount: budget.MoneyFromInt(50), TTL: time.Hour,
		})
		require.NoError(t, err)
	}

	clock = start.Add(2 * time.Hour)

	first, err := sweeper.SweepExpired(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, first.ReleasedCount)

	second, err := sweeper.SweepExpired(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, second.ReleasedCount)
}

func TestSweepExpired_ReleasedViaSweepBlocksCommit(t *testing.T) {
	// Sweep uses the same release path as manual Release, so a swept hold
	// is terminal for Commit too.

	s := newTestStore()
	start := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	clock := start
	now := func() time.Time { return clock }

	manager := budget.NewManager(s).WithClock(now)
	engine := budget.NewEngine(s).WithClock(now)
	sweeper := budget.NewSweeper(s).WithClock(now)
	ctx := context.Background()

	_, err := manager.Reserve(ctx, budget.ReserveRequest{
		Key: testKey, PRID: "pr-A", Quarter: budget.Q1,
		Amount: budget.MoneyFromInt(100), TTL: time.Hour,
	})
	require.NoError(t, err)

	clock = start.Add(2 * time.Hour)

	_, err = sweeper.SweepExpired(ctx, 100)
	require.NoError(t, err)

	_, err = engine.Commit(ctx, "pr-A", budget.MoneyFromInt(100))
	assert.ErrorIs(t, err, budget.ErrNoActiveReservation)
}

func TestSweepExpired_DefaultBatchSize(t *testing.T) {
	s := newTestStore()
	sweeper := budget.NewSweeper(s)

	report, err := sweeper.SweepExpired(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, report.ReleasedCount)
}
