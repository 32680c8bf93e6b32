package engine

import (
	"context"
	"fmt"

	"predmkt-exchange/internal/domain"
)

// SeedEvent registers eventID and floods it with initial liquidity: the
// operator account is credited initialQuantity of both share types in its
// portfolio, then rests a SELL order of initialQuantity at price 5 for
// each share type, mirroring the reference market's flood_initial_shares
// and giving the book a starting two-sided quote.
func (e *Engine) SeedEvent(ctx context.Context, eventID string, initialQuantity uint64) error {
	if err := e.persist.EnsureEvent(ctx, eventID); err != nil {
		return fmt.Errorf("ensure event %s: %w", eventID, err)
	}
	if initialQuantity == 0 {
		return nil
	}

	for _, shareType := range []domain.ShareType{domain.Yes, domain.No} {
		if err := e.persist.AdjustPortfolio(ctx, e.operatorUserID, eventID, shareType, int64(initialQuantity)); err != nil {
			return fmt.Errorf("seed operator portfolio %s/%s: %w", eventID, shareType, err)
		}
		result := e.SubmitOrder(ctx, e.operatorUserID, eventID, domain.Sell, shareType, 5, initialQuantity)
		if result.Kind == Rejected {
			return fmt.Errorf("seed liquidity order %s/%s: %w", eventID, shareType, result.Err)
		}
	}
	return nil
}
