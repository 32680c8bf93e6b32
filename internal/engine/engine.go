// Package engine implements the Matching Engine (C3): submit_order is the
// single entry point, walking opposing price levels in improvement order
// and generating fills through Settlement (C4). It also implements
// cancel_order, get_order, and drives the event resolution drain (spec
// section 4.8).
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"predmkt-exchange/internal/book"
	"predmkt-exchange/internal/coreerr"
	"predmkt-exchange/internal/domain"
	"predmkt-exchange/internal/persistence"
	"predmkt-exchange/internal/settlement"
	"predmkt-exchange/internal/store"
)

// ResultKind tags the OrderResult sum type from spec section 9.
type ResultKind int

const (
	FullyFilled ResultKind = iota
	PartiallyFilled
	Resting
	Rejected
)

// OrderResult is the tagged variant submit_order returns:
// FullyFilled(trades) | PartiallyFilled(trades, resting_id) | Resting(order_id) | Rejected(error).
type OrderResult struct {
	Kind      ResultKind
	OrderID   string
	RestingID string
	Trades    []domain.Trade
	Err       error
}

// BookChanged is invoked whenever a fill or a rest/cancel mutates an
// event's book. The live topology wires this to the Book Projector and
// Subscription Hub; engine itself has no compile-time dependency on C6/C7.
type BookChanged func(eventID string)

// Engine wires the Order Store (C1), Price-Level Book (C2), and Settlement
// (C4) together and implements C3's control flow.
type Engine struct {
	store          *store.Store
	book           *book.Book
	settle         *settlement.Settlement
	persist        persistence.Boundary
	onBook         BookChanged
	operatorUserID string

	faultMu       sync.Mutex
	faultedEvents map[string]bool
}

func New(db persistence.Boundary, st *store.Store, bk *book.Book, operatorUserID string, onBook BookChanged) *Engine {
	return &Engine{
		store:          st,
		book:           bk,
		settle:         settlement.New(db),
		persist:        db,
		onBook:         onBook,
		operatorUserID: operatorUserID,
		faultedEvents:  make(map[string]bool),
	}
}

func (e *Engine) notify(eventID string) {
	if e.onBook != nil {
		e.onBook(eventID)
	}
}

func (e *Engine) isFaulted(eventID string) bool {
	e.faultMu.Lock()
	defer e.faultMu.Unlock()
	return e.faultedEvents[eventID]
}

func (e *Engine) markFaulted(eventID string) {
	e.faultMu.Lock()
	defer e.faultMu.Unlock()
	e.faultedEvents[eventID] = true
}

// SubmitOrder is the single entry point described in spec section 4.3.
func (e *Engine) SubmitOrder(ctx context.Context, userID, eventID string, side domain.Side, shareType domain.ShareType, price int, totalQuantity uint64) OrderResult {
	if err := e.preTradeCheck(ctx, userID, eventID, side, price, totalQuantity); err != nil {
		return OrderResult{Kind: Rejected, Err: err}
	}
	if e.isFaulted(eventID) {
		return OrderResult{Kind: Rejected, Err: coreerr.SettlementFailure("event "+eventID+" is faulted pending operator attention", nil)}
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:              uuid.New().String(),
		UserID:          userID,
		EventID:         eventID,
		Side:            side,
		ShareType:       shareType,
		Price:           price,
		TotalQuantity:   totalQuantity,
		FilledQuantity:  0,
		Status:          domain.Incomplete,
		CreatedAt:       now,
		ExchangeEntryAt: now,
	}
	if err := e.store.Put(order); err != nil {
		return OrderResult{Kind: Rejected, Err: err}
	}
	// Persisted immediately, not just on terminal transition, so a crash
	// while the order is still resting can rehydrate it on restart (spec
	// section 4.5's recovery path reads this row back via
	// ListRestingOrders).
	if err := e.persist.InsertOrder(ctx, order); err != nil {
		e.store.Remove(order.ID)
		return OrderResult{Kind: Rejected, OrderID: order.ID, Err: coreerr.Wrap(coreerr.KindInternal, "failed to persist new order", err)}
	}

	trades, err := e.match(ctx, order.ID)
	if err != nil {
		return OrderResult{Kind: Rejected, OrderID: order.ID, Trades: trades, Err: err}
	}

	final, ok := e.store.Get(order.ID)
	e.notify(eventID)

	switch {
	case !ok:
		// match() already finalized and removed it from the store — only
		// happens when it filled completely.
		return OrderResult{Kind: FullyFilled, OrderID: order.ID, Trades: trades}
	case final.FilledQuantity == 0:
		e.rest(ctx, final)
		return OrderResult{Kind: Resting, OrderID: order.ID, Trades: trades}
	default:
		e.rest(ctx, final)
		return OrderResult{Kind: PartiallyFilled, OrderID: order.ID, RestingID: order.ID, Trades: trades}
	}
}

func (e *Engine) preTradeCheck(ctx context.Context, userID, eventID string, side domain.Side, price int, totalQuantity uint64) error {
	if price < domain.MinPrice || price > domain.MaxPrice {
		return coreerr.Validation(fmt.Sprintf("price %d out of range [%d,%d]", price, domain.MinPrice, domain.MaxPrice))
	}
	if totalQuantity == 0 {
		return coreerr.Validation("total_quantity must be > 0")
	}

	status, _, err := e.persist.GetEventStatus(ctx, eventID)
	if err != nil {
		return coreerr.Wrap(coreerr.KindNotFound, "event "+eventID+" not found", err)
	}
	if status != domain.Ongoing {
		return coreerr.EventNotAccepting("event " + eventID + " is not accepting orders")
	}

	if side == domain.Buy {
		balance, err := e.persist.GetBalance(ctx, userID)
		if err != nil {
			return coreerr.Wrap(coreerr.KindNotFound, "user "+userID+" not found", err)
		}
		required := int64(price) * int64(totalQuantity)
		if balance < required {
			return coreerr.InsufficientBalance(fmt.Sprintf("user %s has balance %d, needs %d", userID, balance, required))
		}
	}
	// SELL orders are accepted without checking the seller's portfolio —
	// spec section 9 leaves short-selling enforcement an open question;
	// this engine does not enforce it.
	return nil
}

// match runs the loop in spec section 4.3 step 2: walk best_queue, acquire
// its lock, drain crossing quantity through Settlement, release, repeat.
// It mutates the taker order in the store as it fills and finalizes fully
// filled makers (and the taker itself, if it completes) as it goes.
func (e *Engine) match(ctx context.Context, takerID string) ([]domain.Trade, error) {
	var trades []domain.Trade

	for {
		taker, ok := e.store.Get(takerID)
		if !ok || taker.Remaining() == 0 {
			break
		}

		fp, ok := book.BestQueue(taker.EventID, taker.Side, taker.ShareType, taker.Price, e.book)
		if !ok {
			break
		}

		if err := e.book.Acquire(fp); err != nil {
			return trades, err
		}

		stop := false
		for !stop {
			taker, ok = e.store.Get(takerID)
			if !ok || taker.Remaining() == 0 || e.book.IsEmpty(fp) {
				stop = true
				break
			}

			makerID, ok := e.book.PeekHead(fp)
			if !ok {
				stop = true
				break
			}
			maker, ok := e.store.Get(makerID)
			if !ok {
				// Maker vanished from the store without being popped — an
				// invariant violation; drop the stale id and keep going.
				e.book.PopHead(fp)
				continue
			}

			quantity := minQty(maker.Remaining(), taker.Remaining())

			trade, err := e.settle.Execute(ctx, maker, taker, quantity, maker.Price)
			if err != nil {
				e.markFaulted(taker.EventID)
				e.book.Release(fp)
				return trades, err
			}
			trades = append(trades, trade)

			maker, err = e.store.Update(maker.ID, func(o *domain.Order) {
				o.FilledQuantity += quantity
				o.Status = domain.StatusFor(o.FilledQuantity, o.TotalQuantity)
			})
			if err != nil {
				e.book.Release(fp)
				return trades, err
			}
			if _, err = e.store.Update(takerID, func(o *domain.Order) {
				o.FilledQuantity += quantity
				o.Status = domain.StatusFor(o.FilledQuantity, o.TotalQuantity)
			}); err != nil {
				e.book.Release(fp)
				return trades, err
			}

			if maker.Status == domain.CompletelyFilled {
				e.book.PopHead(fp)
				if err := e.finalizeTerminal(ctx, maker, domain.CompletelyFilled); err != nil {
					log.Error().Err(err).Str("order_id", maker.ID).Msg("failed to persist terminal maker order")
				}
			} else if err := e.persist.UpdateOrderResting(ctx, maker); err != nil {
				// The maker stays at the head of its queue with advanced
				// filled_quantity — if this write is lost, a crash before
				// the next fill would rehydrate it with stale quantity on
				// recovery (spec section 4.5), so this is logged loudly.
				log.Error().Err(err).Str("order_id", maker.ID).Msg("failed to persist resting maker progress")
			}
		}

		e.book.Release(fp)
	}

	final, ok := e.store.Get(takerID)
	if ok && final.FilledQuantity == final.TotalQuantity {
		if err := e.finalizeTerminal(ctx, final, domain.CompletelyFilled); err != nil {
			return trades, err
		}
	}
	return trades, nil
}

// finalizeTerminal persists the terminal order and removes it from the
// Order Store (spec section 4.5).
func (e *Engine) finalizeTerminal(ctx context.Context, o domain.Order, status domain.OrderStatus) error {
	o.Status = status
	if err := e.persist.UpdateOrderTerminal(ctx, o); err != nil {
		return coreerr.Wrap(coreerr.KindInternal, "failed to persist terminal order "+o.ID, err)
	}
	e.store.Remove(o.ID)
	return nil
}

// rest inserts residual quantity into the order's own queue (spec 4.3 step
// 3), first persisting its current filled_quantity/status so a crash while
// it sits in the book recovers with the correct residual rather than
// re-offering already-settled quantity (spec section 4.5).
func (e *Engine) rest(ctx context.Context, o domain.Order) {
	if err := e.persist.UpdateOrderResting(ctx, o); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("failed to persist resting order progress")
	}

	fp := domain.MakeFingerprint(o.EventID, o.Side, o.ShareType, o.Price)
	if err := e.book.Acquire(fp); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("failed to acquire own queue lock while resting order")
		return
	}
	e.book.PushTail(fp, o.ID)
	e.book.Release(fp)
}

// CancelOrder implements spec section 5's cancel_order.
func (e *Engine) CancelOrder(ctx context.Context, orderID, requesterID string) error {
	o, ok := e.store.Get(orderID)
	if !ok {
		return coreerr.NotFound("order " + orderID + " is not resting or mid-match")
	}
	if o.UserID != requesterID {
		return coreerr.Authorization("user " + requesterID + " may not cancel order owned by " + o.UserID)
	}
	if o.Status.IsTerminal() {
		return coreerr.NotFound("order " + orderID + " is already terminal")
	}

	fp := domain.MakeFingerprint(o.EventID, o.Side, o.ShareType, o.Price)
	if err := e.book.Acquire(fp); err != nil {
		return err
	}
	removed := e.book.RemoveID(fp, orderID)
	e.book.Release(fp)
	if !removed {
		return coreerr.Internal("order " + orderID + " was not resident in its expected queue")
	}

	cancelled, err := e.store.Update(orderID, func(o *domain.Order) {
		o.Status = domain.Cancelled
	})
	if err != nil {
		return err
	}
	if err := e.finalizeTerminal(ctx, cancelled, domain.Cancelled); err != nil {
		return err
	}

	e.notify(o.EventID)
	log.Info().Str("order_id", orderID).Str("user_id", requesterID).Msg("order cancelled")
	return nil
}

// GetOrder returns the order from the live store, falling back to the
// persistence boundary for terminal orders.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if o, ok := e.store.Get(orderID); ok {
		return o, nil
	}
	o, err := e.persist.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, coreerr.Wrap(coreerr.KindNotFound, "order "+orderID+" not found", err)
	}
	return o, nil
}

func minQty(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
