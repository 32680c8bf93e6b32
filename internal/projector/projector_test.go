package projector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"predmkt-exchange/internal/book"
	"predmkt-exchange/internal/domain"
	"predmkt-exchange/internal/store"
)

func restOrder(t *testing.T, st *store.Store, bk *book.Book, id string, side domain.Side, price int, total, filled uint64) {
	t.Helper()
	o := domain.Order{
		ID:             id,
		UserID:         "u",
		EventID:        "evt1",
		Side:           side,
		ShareType:      domain.Yes,
		Price:          price,
		TotalQuantity:  total,
		FilledQuantity: filled,
		Status:         domain.StatusFor(filled, total),
	}
	require.NoError(t, st.Put(o))
	fp := domain.MakeFingerprint("evt1", side, domain.Yes, price)
	bk.PushTail(fp, id)
}

func TestSnapshotAggregatesAndOrdersLevels(t *testing.T) {
	st := store.New()
	bk := book.New(5*time.Millisecond, 2)

	restOrder(t, st, bk, "b1", domain.Buy, 5, 10, 0)
	restOrder(t, st, bk, "b2", domain.Buy, 5, 5, 2) // remaining 3, same level as b1
	restOrder(t, st, bk, "b3", domain.Buy, 7, 4, 0)
	restOrder(t, st, bk, "a1", domain.Sell, 8, 6, 0)
	restOrder(t, st, bk, "a2", domain.Sell, 9, 2, 0)

	p := New(bk, st)
	data := p.Snapshot("evt1")

	// Bids sorted high->low; level 5 aggregates b1(10)+b2(3)=13.
	require.Len(t, data.Yes.Bids, 2)
	assert.Equal(t, Level{Price: 7, Quantity: 4}, data.Yes.Bids[0])
	assert.Equal(t, Level{Price: 5, Quantity: 13}, data.Yes.Bids[1])

	require.Len(t, data.Yes.Asks, 2)
	assert.Equal(t, Level{Price: 8, Quantity: 6}, data.Yes.Asks[0])
	assert.Equal(t, Level{Price: 9, Quantity: 2}, data.Yes.Asks[1])

	summary := data.MarketSummary["YES"]
	require.NotNil(t, summary.BestBid)
	require.NotNil(t, summary.BestAsk)
	assert.Equal(t, 7, *summary.BestBid)
	assert.Equal(t, 8, *summary.BestAsk)
	require.NotNil(t, summary.Spread)
	assert.Equal(t, 1, *summary.Spread)
	assert.Equal(t, uint64(17), summary.TotalBidVol)
	assert.Equal(t, uint64(8), summary.TotalAskVol)
}

func TestSnapshotOmitsZeroQuantityLevels(t *testing.T) {
	st := store.New()
	bk := book.New(5*time.Millisecond, 2)
	p := New(bk, st)

	data := p.Snapshot("evt-empty")
	assert.Empty(t, data.Yes.Bids)
	assert.Empty(t, data.Yes.Asks)
	assert.Nil(t, data.MarketSummary["YES"].BestBid)
	assert.Nil(t, data.MarketSummary["YES"].Spread)
}

func TestDepthTruncatesLaddersNotSummary(t *testing.T) {
	st := store.New()
	bk := book.New(5*time.Millisecond, 2)

	for price := 1; price <= 5; price++ {
		restOrder(t, st, bk, string(rune('a'+price)), domain.Buy, price, 1, 0)
	}

	p := New(bk, st)
	d := p.Depth("evt1", 2)
	assert.Len(t, d.Yes.Bids, 2)
	assert.Equal(t, uint64(5), d.MarketSummary["YES"].TotalBidVol)
}
