package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"predmkt-exchange/internal/domain"
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEnsureUserAndEventAreIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.EnsureUser(ctx, "alice", 500))
	require.NoError(t, db.EnsureUser(ctx, "alice", 999)) // second call must not reset the balance

	bal, err := db.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)

	require.NoError(t, db.EnsureEvent(ctx, "evt1"))
	status, result, err := db.GetEventStatus(ctx, "evt1")
	require.NoError(t, err)
	assert.Equal(t, domain.Ongoing, status)
	assert.Equal(t, domain.ResultNone, result)
}

func TestInsertAndUpdateOrderRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureUser(ctx, "alice", 500))
	require.NoError(t, db.EnsureEvent(ctx, "evt1"))

	o := domain.Order{
		ID: "o1", UserID: "alice", EventID: "evt1",
		Side: domain.Buy, ShareType: domain.Yes, Price: 5,
		TotalQuantity: 10, FilledQuantity: 0, Status: domain.Incomplete,
	}
	require.NoError(t, db.InsertOrder(ctx, o))

	got, err := db.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.FilledQuantity)
	assert.Equal(t, domain.Incomplete, got.Status)

	o.FilledQuantity = 10
	o.Status = domain.CompletelyFilled
	require.NoError(t, db.UpdateOrderTerminal(ctx, o))

	got, err = db.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.CompletelyFilled, got.Status)
}

func TestListRestingOrdersExcludesTerminal(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureUser(ctx, "alice", 500))
	require.NoError(t, db.EnsureEvent(ctx, "evt1"))

	resting := domain.Order{ID: "o1", UserID: "alice", EventID: "evt1", Side: domain.Buy, ShareType: domain.Yes, Price: 5, TotalQuantity: 10, Status: domain.Incomplete}
	terminal := domain.Order{ID: "o2", UserID: "alice", EventID: "evt1", Side: domain.Buy, ShareType: domain.Yes, Price: 5, TotalQuantity: 10, FilledQuantity: 10, Status: domain.CompletelyFilled}
	require.NoError(t, db.InsertOrder(ctx, resting))
	require.NoError(t, db.InsertOrder(ctx, terminal))

	rows, err := db.ListRestingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "o1", rows[0].ID)
}

func TestSettleFillAppliesAllFourEffectsAtomically(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureUser(ctx, "buyer", 100))
	require.NoError(t, db.EnsureUser(ctx, "seller", 100))
	require.NoError(t, db.EnsureEvent(ctx, "evt1"))

	trade := domain.Trade{
		ID: "t1", EventID: "evt1", Price: 5, Quantity: 4, ShareType: domain.Yes,
		BuyerUserID: "buyer", SellerUserID: "seller",
	}
	require.NoError(t, db.SettleFill(ctx, trade))

	buyerBal, _ := db.GetBalance(ctx, "buyer")
	sellerBal, _ := db.GetBalance(ctx, "seller")
	assert.Equal(t, int64(80), buyerBal)
	assert.Equal(t, int64(120), sellerBal)

	buyerQty, _ := db.GetPortfolioQuantity(ctx, "buyer", "evt1", domain.Yes)
	sellerQty, _ := db.GetPortfolioQuantity(ctx, "seller", "evt1", domain.Yes)
	assert.Equal(t, uint64(4), buyerQty)
	assert.Equal(t, uint64(0), sellerQty)
}

func TestSettleFillRollsBackOnInsufficientBalance(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureUser(ctx, "buyer", 10))
	require.NoError(t, db.EnsureUser(ctx, "seller", 100))
	require.NoError(t, db.EnsureEvent(ctx, "evt1"))

	trade := domain.Trade{
		ID: "t1", EventID: "evt1", Price: 5, Quantity: 4, ShareType: domain.Yes,
		BuyerUserID: "buyer", SellerUserID: "seller",
	}
	err := db.SettleFill(ctx, trade)
	assert.Error(t, err)

	sellerBal, _ := db.GetBalance(ctx, "seller")
	assert.Equal(t, int64(100), sellerBal, "rolled-back fill must not credit the seller either")
}

func TestListCompletedEventsWithResidue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureUser(ctx, "alice", 500))
	require.NoError(t, db.EnsureEvent(ctx, "evt1"))
	require.NoError(t, db.InsertOrder(ctx, domain.Order{
		ID: "o1", UserID: "alice", EventID: "evt1", Side: domain.Buy, ShareType: domain.Yes,
		Price: 5, TotalQuantity: 10, Status: domain.Incomplete,
	}))
	require.NoError(t, db.MarkEventCompleted(ctx, "evt1", domain.ResultYes))

	ids, err := db.ListCompletedEventsWithResidue(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, "evt1")
}
