package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"predmkt-exchange/internal/book"
	"predmkt-exchange/internal/domain"
	"predmkt-exchange/internal/store"
)

// TestRecoverRehydratesPartialFillWithCorrectRemaining guards against the
// resting-order persistence gap: a maker that partial-fills and stays at
// the head of its queue must have its filled_quantity/status written
// through to the database, or a restart would rehydrate it with its
// original, pre-fill quantity and re-offer liquidity that was already
// settled.
func TestRecoverRehydratesPartialFillWithCorrectRemaining(t *testing.T) {
	db := newFakeDB()
	ctx := context.Background()
	require.NoError(t, db.EnsureEvent(ctx, "evt1"))
	require.NoError(t, db.EnsureUser(ctx, "operator", 1_000_000))
	require.NoError(t, db.EnsureUser(ctx, "alice", 1_000))
	require.NoError(t, db.EnsureUser(ctx, "bob", 1_000))

	eng1 := New(db, store.New(), book.New(5*time.Millisecond, 3), "operator", nil)

	maker := eng1.SubmitOrder(ctx, "alice", "evt1", domain.Sell, domain.Yes, 5, 10)
	require.Equal(t, Resting, maker.Kind)

	taker := eng1.SubmitOrder(ctx, "bob", "evt1", domain.Buy, domain.Yes, 5, 4)
	require.Equal(t, FullyFilled, taker.Kind)
	require.Len(t, taker.Trades, 1)
	assert.Equal(t, uint64(4), taker.Trades[0].Quantity)

	// "Restart": a fresh engine sharing only the persisted database state.
	st2 := store.New()
	bk2 := book.New(5*time.Millisecond, 3)
	eng2 := New(db, st2, bk2, "operator", nil)
	require.NoError(t, eng2.Recover(ctx))

	recovered, err := eng2.GetOrder(ctx, maker.OrderID)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), recovered.FilledQuantity, "recovery must preserve the pre-restart fill, not reset to 0")
	assert.Equal(t, domain.PartialFilled, recovered.Status)
	assert.Equal(t, uint64(6), recovered.Remaining(), "only the unsettled residual may be re-offered after recovery")

	// The residual must be exactly what's left: a taker for the full
	// original quantity should only fill the remaining 6, not 10.
	second := eng2.SubmitOrder(ctx, "bob", "evt1", domain.Buy, domain.Yes, 5, 10)
	require.Equal(t, PartiallyFilled, second.Kind)
	require.Len(t, second.Trades, 1)
	assert.Equal(t, uint64(6), second.Trades[0].Quantity, "must not re-settle quantity already filled before restart")
}
