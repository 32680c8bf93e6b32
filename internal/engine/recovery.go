package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"predmkt-exchange/internal/domain"
)

// Recover implements spec section 4.5's restart path: every INCOMPLETE or
// PARTIAL_FILLED order is rehydrated from the database into the Order
// Store and pushed onto its queue in price-time order (by creation time,
// then id, within each price level, per the persisted ORDER BY). It must run before
// the engine accepts any submissions.
func (e *Engine) Recover(ctx context.Context) error {
	resting, err := e.persist.ListRestingOrders(ctx)
	if err != nil {
		return fmt.Errorf("list resting orders: %w", err)
	}

	for _, o := range resting {
		if err := e.store.Put(o); err != nil {
			log.Error().Err(err).Str("order_id", o.ID).Msg("dropping order on recovery: invariant violation")
			continue
		}
		fp := domain.MakeFingerprint(o.EventID, o.Side, o.ShareType, o.Price)
		if err := e.book.Acquire(fp); err != nil {
			return fmt.Errorf("acquire queue for recovered order %s: %w", o.ID, err)
		}
		e.book.PushTail(fp, o.ID)
		e.book.Release(fp)
	}

	log.Info().Int("recovered_orders", len(resting)).Msg("rehydrated resting orders from persistence")
	return e.ReplayInterruptedResolutions(ctx)
}

// ReplayInterruptedResolutions finishes any event resolution drain that
// was marked COMPLETED but did not finish cancelling orders or paying out
// portfolios before a crash (spec section 4.8: "partial completion on
// failure is recovered by replay on startup from the persisted COMPLETED
// marker").
func (e *Engine) ReplayInterruptedResolutions(ctx context.Context) error {
	eventIDs, err := e.persist.ListCompletedEventsWithResidue(ctx)
	if err != nil {
		return fmt.Errorf("list completed events with residue: %w", err)
	}

	for _, eventID := range eventIDs {
		_, result, err := e.persist.GetEventStatus(ctx, eventID)
		if err != nil {
			return fmt.Errorf("re-resolve event %s: %w", eventID, err)
		}
		log.Warn().Str("event_id", eventID).Msg("replaying interrupted resolution drain")
		if err := e.ResolveEvent(ctx, eventID, result); err != nil {
			return fmt.Errorf("replay resolution for %s: %w", eventID, err)
		}
	}
	return nil
}
