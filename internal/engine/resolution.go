package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"predmkt-exchange/internal/domain"
)

// ResolveEvent drives the event resolution drain from spec section 4.8.
// It performs steps 1-3; step 4 (closing the event's subscriber set) is left
// to the caller, which in the live topology is the HTTP resolve handler.
// Steps 2-3 are idempotent against a partially completed prior attempt:
// cancelling an order already gone from the store is a no-op, draining an
// already-empty queue is a no-op, and paying out a zeroed portfolio row
// never happens because ListPortfoliosByEvent only returns positive rows.
func (e *Engine) ResolveEvent(ctx context.Context, eventID string, result domain.EventResult) error {
	status, _, err := e.persist.GetEventStatus(ctx, eventID)
	if err != nil {
		return fmt.Errorf("resolve event %s: %w", eventID, err)
	}
	if status != domain.Completed {
		if err := e.persist.MarkEventCompleted(ctx, eventID, result); err != nil {
			return fmt.Errorf("mark event %s completed: %w", eventID, err)
		}
	}

	if err := e.cancelAllResting(ctx, eventID); err != nil {
		return fmt.Errorf("drain resting orders for %s: %w", eventID, err)
	}
	if err := e.payoutPortfolios(ctx, eventID, result); err != nil {
		return fmt.Errorf("pay out portfolios for %s: %w", eventID, err)
	}

	e.notify(eventID)
	return nil
}

// cancelAllResting is spec 4.8 step 2: every resting order for the event,
// across every (side, share_type, price) queue, is cancelled, persisted,
// and removed from the Order Store, and its queue drained.
func (e *Engine) cancelAllResting(ctx context.Context, eventID string) error {
	for _, side := range []domain.Side{domain.Buy, domain.Sell} {
		for _, shareType := range []domain.ShareType{domain.Yes, domain.No} {
			for price := domain.MinPrice; price <= domain.MaxPrice; price++ {
				fp := domain.MakeFingerprint(eventID, side, shareType, price)
				if err := e.book.Acquire(fp); err != nil {
					return err
				}
				ids := e.book.Drain(fp)
				e.book.Release(fp)

				for _, id := range ids {
					o, ok := e.store.Get(id)
					if !ok {
						continue
					}
					cancelled, err := e.store.Update(id, func(o *domain.Order) {
						o.Status = domain.Cancelled
					})
					if err != nil {
						return err
					}
					if err := e.finalizeTerminal(ctx, cancelled, domain.Cancelled); err != nil {
						return err
					}
					_ = o
				}
			}
		}
	}
	return nil
}

// payoutPortfolios is spec 4.8 step 3: every portfolio row for the event is
// paid out at 10/0/5 per share depending on result, via a synthetic trade
// against the operator account, and zeroed.
func (e *Engine) payoutPortfolios(ctx context.Context, eventID string, result domain.EventResult) error {
	entries, err := e.persist.ListPortfoliosByEvent(ctx, eventID)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		payoutPrice := payoutPerShare(entry.ShareType, result)

		if entry.UserID == e.operatorUserID {
			// The operator is both the trade's buyer and its counterparty
			// here (e.g. seeded inventory it never sold off); routing this
			// through ExecuteResolution would apply a +quantity buyer
			// delta and a -quantity seller delta to the same portfolio
			// row, netting to zero and leaving it non-zero after
			// resolution. Zero it directly instead.
			if err := e.persist.AdjustPortfolio(ctx, e.operatorUserID, eventID, entry.ShareType, -int64(entry.Quantity)); err != nil {
				return fmt.Errorf("zero operator holding %s/%s: %w", eventID, entry.ShareType, err)
			}
			continue
		}

		if _, err := e.settle.ExecuteResolution(ctx, e.operatorUserID, entry.UserID, eventID, entry.ShareType, entry.Quantity, payoutPrice); err != nil {
			return fmt.Errorf("payout %s/%s/%s: %w", entry.UserID, eventID, entry.ShareType, err)
		}
		// The synthetic trade credits the shares to the operator as buyer;
		// take them back out so the operator's row for the event ends at zero.
		if err := e.persist.AdjustPortfolio(ctx, e.operatorUserID, eventID, entry.ShareType, -int64(entry.Quantity)); err != nil {
			return fmt.Errorf("zero operator receipt %s/%s: %w", eventID, entry.ShareType, err)
		}
		log.Info().
			Str("event_id", eventID).
			Str("user_id", entry.UserID).
			Str("share_type", entry.ShareType.String()).
			Uint64("quantity", entry.Quantity).
			Int("payout_price", payoutPrice).
			Msg("resolution payout settled")
	}
	return nil
}

// payoutPerShare implements spec section 4.8 step 3's fixed payout table:
// 10 if share_type matches the winning result, 0 if it opposes it, 5 on a
// draw regardless of share_type.
func payoutPerShare(shareType domain.ShareType, result domain.EventResult) int {
	if result == domain.ResultDraw {
		return 5
	}
	winning := domain.Yes
	if result == domain.ResultNo {
		winning = domain.No
	}
	if shareType == winning {
		return 10
	}
	return 0
}
