// Package projector implements the Book Projector (C6): it aggregates the
// Price-Level Book's live queues into the L2 depth snapshot shape the
// Subscription Hub broadcasts (spec section 4.6).
package projector

import (
	"predmkt-exchange/internal/book"
	"predmkt-exchange/internal/domain"
	"predmkt-exchange/internal/store"
)

// Level is one price/quantity pair in a depth snapshot.
type Level struct {
	Price    int    `json:"price"`
	Quantity uint64 `json:"quantity"`
}

// Side holds the two depth ladders for one share type.
type Side struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// Summary is the best-bid/ask roll-up for one share type.
type Summary struct {
	BestBid     *int `json:"best_bid"`
	BestAsk     *int `json:"best_ask"`
	Spread      *int `json:"spread"`
	TotalBidVol uint64 `json:"total_bid_vol"`
	TotalAskVol uint64 `json:"total_ask_vol"`
}

// Data is the full projection for one event: both share types plus their
// market summaries, exactly the shape carried in snapshot/update messages.
type Data struct {
	Yes            Side    `json:"YES"`
	No             Side    `json:"NO"`
	MarketSummary  map[string]Summary `json:"market_summary"`
}

// Projector reads the Price-Level Book and Order Store to build Data
// values. It never mutates either.
type Projector struct {
	book  *book.Book
	store *store.Store
}

func New(b *book.Book, s *store.Store) *Projector {
	return &Projector{book: b, store: s}
}

// Snapshot produces the full depth projection for an event, per spec
// section 4.6. Every queue lock is acquired and released individually, in a
// fixed order (BUY levels from price 10 down to 1, then SELL levels from 1
// up to 10, per share type), so the projector never holds two queue locks
// at once and never races the matcher into deadlock (spec section 5).
func (p *Projector) Snapshot(eventID string) Data {
	return Data{
		Yes:           p.sideLadders(eventID, domain.Yes),
		No:            p.sideLadders(eventID, domain.No),
		MarketSummary: map[string]Summary{
			"YES": p.summary(eventID, domain.Yes),
			"NO":  p.summary(eventID, domain.No),
		},
	}
}

// Depth is Snapshot's depth-limited variant: top n entries per side, per
// share type; market_summary is unchanged (spec section 4.6).
func (p *Projector) Depth(eventID string, n int) Data {
	d := p.Snapshot(eventID)
	d.Yes.Bids = truncate(d.Yes.Bids, n)
	d.Yes.Asks = truncate(d.Yes.Asks, n)
	d.No.Bids = truncate(d.No.Bids, n)
	d.No.Asks = truncate(d.No.Asks, n)
	return d
}

func truncate(levels []Level, n int) []Level {
	if n < 0 || len(levels) <= n {
		return levels
	}
	return levels[:n]
}

func (p *Projector) sideLadders(eventID string, shareType domain.ShareType) Side {
	var bids, asks []Level

	for price := domain.MaxPrice; price >= domain.MinPrice; price-- {
		if q := p.levelQuantity(eventID, domain.Buy, shareType, price); q > 0 {
			bids = append(bids, Level{Price: price, Quantity: q})
		}
	}
	for price := domain.MinPrice; price <= domain.MaxPrice; price++ {
		if q := p.levelQuantity(eventID, domain.Sell, shareType, price); q > 0 {
			asks = append(asks, Level{Price: price, Quantity: q})
		}
	}
	return Side{Bids: bids, Asks: asks}
}

// levelQuantity sums total-filled across every resting id at one
// fingerprint, acquiring and releasing that single queue's lock.
func (p *Projector) levelQuantity(eventID string, side domain.Side, shareType domain.ShareType, price int) uint64 {
	fp := domain.MakeFingerprint(eventID, side, shareType, price)
	if err := p.book.Acquire(fp); err != nil {
		return 0
	}
	defer p.book.Release(fp)

	var total uint64
	for _, id := range p.book.Items(fp) {
		if o, ok := p.store.Get(id); ok {
			total += o.Remaining()
		}
	}
	return total
}

func (p *Projector) summary(eventID string, shareType domain.ShareType) Summary {
	var s Summary

	for price := domain.MaxPrice; price >= domain.MinPrice; price-- {
		if q := p.levelQuantity(eventID, domain.Buy, shareType, price); q > 0 {
			s.TotalBidVol += q
			if s.BestBid == nil {
				pp := price
				s.BestBid = &pp
			}
		}
	}
	for price := domain.MinPrice; price <= domain.MaxPrice; price++ {
		if q := p.levelQuantity(eventID, domain.Sell, shareType, price); q > 0 {
			s.TotalAskVol += q
			if s.BestAsk == nil {
				pp := price
				s.BestAsk = &pp
			}
		}
	}
	if s.BestBid != nil && s.BestAsk != nil {
		spread := *s.BestAsk - *s.BestBid
		s.Spread = &spread
	}
	return s
}
