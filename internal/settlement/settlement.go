// Package settlement implements Settlement (C4): the atomic bundle of
// trade-write, balance adjustments, and portfolio mutations that accompanies
// every fill (spec section 4.4). It never touches filled_quantity/status —
// that remains the matching engine's (C3) responsibility in the Order
// Store.
package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"predmkt-exchange/internal/coreerr"
	"predmkt-exchange/internal/domain"
	"predmkt-exchange/internal/persistence"
)

type Settlement struct {
	db persistence.Boundary
}

func New(db persistence.Boundary) *Settlement {
	return &Settlement{db: db}
}

// Execute settles one fill between a maker and taker order at the maker's
// price. Exactly one of maker/taker must be BUY and the other SELL; if both
// sides are equal the engine MUST refuse to generate a fill (spec 4.4).
func (s *Settlement) Execute(ctx context.Context, maker, taker domain.Order, quantity uint64, price int) (domain.Trade, error) {
	if maker.Side == taker.Side {
		return domain.Trade{}, coreerr.Internal("settlement refused: maker and taker are on the same side")
	}
	if quantity == 0 {
		return domain.Trade{}, coreerr.Internal("settlement refused: zero quantity fill")
	}

	var buyer, seller domain.Order
	if maker.Side == domain.Buy {
		buyer, seller = maker, taker
	} else {
		buyer, seller = taker, maker
	}

	buyerOrderID := buyer.ID
	sellerOrderID := seller.ID
	trade := domain.Trade{
		ID:            uuid.New().String(),
		EventID:       maker.EventID,
		Price:         price,
		Quantity:      quantity,
		ShareType:     maker.ShareType,
		BuyerUserID:   buyer.UserID,
		SellerUserID:  seller.UserID,
		BuyerOrderID:  &buyerOrderID,
		SellerOrderID: &sellerOrderID,
		ExecutedAt:    time.Now().UTC(),
	}

	if err := s.db.SettleFill(ctx, trade); err != nil {
		log.Error().Err(err).Str("event_id", trade.EventID).Str("trade_id", trade.ID).
			Msg("settlement failed; fill rolled back")
		return domain.Trade{}, coreerr.SettlementFailure("unable to settle fill", err)
	}

	log.Info().
		Str("trade_id", trade.ID).
		Str("event_id", trade.EventID).
		Int("price", price).
		Uint64("quantity", quantity).
		Str("buyer", buyer.UserID).
		Str("seller", seller.UserID).
		Msg("trade settled")

	return trade, nil
}

// ExecuteResolution settles a synthetic drain-generated trade at event
// resolution (spec 4.8 step 3). The operator is always one counterparty;
// buyer/seller is decided by who is paying cash for the shares.
func (s *Settlement) ExecuteResolution(ctx context.Context, operatorUserID, holderUserID, eventID string, shareType domain.ShareType, quantity uint64, payoutPrice int) (domain.Trade, error) {
	trade := domain.Trade{
		ID:           uuid.New().String(),
		EventID:      eventID,
		Price:        payoutPrice,
		Quantity:     quantity,
		ShareType:    shareType,
		BuyerUserID:  operatorUserID,
		SellerUserID: holderUserID,
		// Drain-generated trades reference no live order — spec 4.8's
		// Open Question about nullable order ids on drain trades is
		// resolved here by leaving both nil.
		ExecutedAt: time.Now().UTC(),
	}
	if err := s.db.SettleFill(ctx, trade); err != nil {
		return domain.Trade{}, coreerr.SettlementFailure("unable to settle resolution payout", err)
	}
	return trade, nil
}
