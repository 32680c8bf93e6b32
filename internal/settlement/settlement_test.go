package settlement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"predmkt-exchange/internal/coreerr"
	"predmkt-exchange/internal/domain"
	"predmkt-exchange/internal/persistence"
)

func newTestDB(t *testing.T) *persistence.SQLite {
	t.Helper()
	db, err := persistence.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	require.NoError(t, db.EnsureUser(ctx, "buyer", 1000))
	require.NoError(t, db.EnsureUser(ctx, "seller", 1000))
	require.NoError(t, db.EnsureUser(ctx, "operator", 1_000_000))
	require.NoError(t, db.EnsureEvent(ctx, "evt1"))
	return db
}

func TestExecuteRefusesSameSideFill(t *testing.T) {
	s := New(newTestDB(t))
	maker := domain.Order{ID: "m1", UserID: "buyer", EventID: "evt1", Side: domain.Buy, ShareType: domain.Yes, Price: 5, TotalQuantity: 10}
	taker := domain.Order{ID: "t1", UserID: "seller", EventID: "evt1", Side: domain.Buy, ShareType: domain.Yes, Price: 5, TotalQuantity: 10}

	_, err := s.Execute(context.Background(), maker, taker, 5, 5)
	assert.True(t, coreerr.Is(err, coreerr.KindInternal))
}

func TestExecuteRefusesZeroQuantity(t *testing.T) {
	s := New(newTestDB(t))
	maker := domain.Order{ID: "m1", UserID: "buyer", EventID: "evt1", Side: domain.Buy, ShareType: domain.Yes, Price: 5, TotalQuantity: 10}
	taker := domain.Order{ID: "t1", UserID: "seller", EventID: "evt1", Side: domain.Sell, ShareType: domain.Yes, Price: 5, TotalQuantity: 10}

	_, err := s.Execute(context.Background(), maker, taker, 0, 5)
	assert.True(t, coreerr.Is(err, coreerr.KindInternal))
}

func TestExecuteSettlesAtMakerPrice(t *testing.T) {
	db := newTestDB(t)
	s := New(db)
	maker := domain.Order{ID: "m1", UserID: "seller", EventID: "evt1", Side: domain.Sell, ShareType: domain.Yes, Price: 4, TotalQuantity: 10}
	taker := domain.Order{ID: "t1", UserID: "buyer", EventID: "evt1", Side: domain.Buy, ShareType: domain.Yes, Price: 6, TotalQuantity: 10}

	trade, err := s.Execute(context.Background(), maker, taker, 10, maker.Price)
	require.NoError(t, err)
	assert.Equal(t, 4, trade.Price, "fills settle at the maker's price, not the taker's limit")
	assert.Equal(t, "buyer", trade.BuyerUserID)
	assert.Equal(t, "seller", trade.SellerUserID)

	buyerBal, _ := db.GetBalance(context.Background(), "buyer")
	assert.Equal(t, int64(1000-40), buyerBal)
}

func TestExecuteResolutionLeavesOrderIDsNil(t *testing.T) {
	db := newTestDB(t)
	s := New(db)

	trade, err := s.ExecuteResolution(context.Background(), "operator", "buyer", "evt1", domain.Yes, 5, 10)
	require.NoError(t, err)
	assert.Nil(t, trade.BuyerOrderID)
	assert.Nil(t, trade.SellerOrderID)
	assert.Equal(t, "operator", trade.BuyerUserID)
	assert.Equal(t, "buyer", trade.SellerUserID)
}
