// Package domain holds the shared types that flow through every core
// component: orders, trades, portfolio entries, and the enums that
// constrain them to the fixed price-in-[1,10] binary-outcome market.
package domain

import (
	"fmt"
	"time"
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the side that crosses this one.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type ShareType int

const (
	Yes ShareType = iota
	No
)

func (t ShareType) String() string {
	if t == Yes {
		return "YES"
	}
	return "NO"
}

type OrderStatus int

const (
	Incomplete OrderStatus = iota
	PartialFilled
	CompletelyFilled
	Cancelled
)

func (s OrderStatus) String() string {
	switch s {
	case Incomplete:
		return "INCOMPLETE"
	case PartialFilled:
		return "PARTIAL_FILLED"
	case CompletelyFilled:
		return "COMPLETELY_FILLED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether an order in this status is immutable and no
// longer lives in the in-memory Order Store.
func (s OrderStatus) IsTerminal() bool {
	return s == CompletelyFilled || s == Cancelled
}

// StatusFor derives the status mandated by the filled/total invariant in
// spec section 3: INCOMPLETE iff filled=0, PARTIAL_FILLED iff 0<filled<total,
// COMPLETELY_FILLED iff filled=total.
func StatusFor(filled, total uint64) OrderStatus {
	switch {
	case filled == 0:
		return Incomplete
	case filled < total:
		return PartialFilled
	default:
		return CompletelyFilled
	}
}

type EventStatus int

const (
	Ongoing EventStatus = iota
	Completed
)

func (s EventStatus) String() string {
	if s == Completed {
		return "COMPLETED"
	}
	return "ONGOING"
}

// EventResult is nil (zero value ResultNone) until an event resolves.
type EventResult int

const (
	ResultNone EventResult = iota
	ResultYes
	ResultNo
	ResultDraw
)

func (r EventResult) String() string {
	switch r {
	case ResultYes:
		return "YES"
	case ResultNo:
		return "NO"
	case ResultDraw:
		return "DRAW"
	default:
		return ""
	}
}

// Order is the mutable record the Order Store (C1) owns while an order is
// non-terminal. MinPrice/MaxPrice bound the fixed integer price domain.
type Order struct {
	ID              string
	UserID          string
	EventID         string
	Side            Side
	ShareType       ShareType
	Price           int
	TotalQuantity   uint64
	FilledQuantity  uint64
	Status          OrderStatus
	CreatedAt       time.Time
	ExchangeEntryAt time.Time
}

const (
	MinPrice = 1
	MaxPrice = 10
)

// Remaining returns the quantity still needed to fill the order.
func (o Order) Remaining() uint64 {
	return o.TotalQuantity - o.FilledQuantity
}

func (o Order) String() string {
	return fmt.Sprintf("Order{id=%s user=%s event=%s side=%s share=%s price=%d filled=%d/%d status=%s}",
		o.ID, o.UserID, o.EventID, o.Side, o.ShareType, o.Price, o.FilledQuantity, o.TotalQuantity, o.Status)
}

// Validate checks the structural invariants from spec section 3. It does not
// check event status or balances — those are pre-trade checks owned by the
// engine, not the order's own shape.
func (o Order) Validate() error {
	if o.Price < MinPrice || o.Price > MaxPrice {
		return fmt.Errorf("price %d out of range [%d,%d]", o.Price, MinPrice, MaxPrice)
	}
	if o.TotalQuantity == 0 {
		return fmt.Errorf("total_quantity must be > 0")
	}
	if o.FilledQuantity > o.TotalQuantity {
		return fmt.Errorf("filled_quantity %d exceeds total_quantity %d", o.FilledQuantity, o.TotalQuantity)
	}
	want := StatusFor(o.FilledQuantity, o.TotalQuantity)
	if o.Status != want && o.Status != Cancelled {
		return fmt.Errorf("status %s does not match filled=%d/total=%d (want %s)", o.Status, o.FilledQuantity, o.TotalQuantity, want)
	}
	return nil
}

// Trade is the append-only record of one matched quantity pair at a single
// price. BuyerOrderID/SellerOrderID are nullable for drain-generated trades.
type Trade struct {
	ID             string
	EventID        string
	Price          int
	Quantity       uint64
	ShareType      ShareType
	BuyerUserID    string
	SellerUserID   string
	BuyerOrderID   *string
	SellerOrderID  *string
	ExecutedAt     time.Time
}

// Value is the exact cash transfer for this trade: quantity * price.
func (t Trade) Value() uint64 {
	return t.Quantity * uint64(t.Price)
}

// PortfolioEntry is unique per (UserID, EventID, ShareType).
type PortfolioEntry struct {
	UserID    string
	EventID   string
	ShareType ShareType
	Quantity  uint64
}

// Fingerprint is the canonical key naming one price-level queue:
// (event_id, side, share_type, price).
type Fingerprint string

func MakeFingerprint(eventID string, side Side, shareType ShareType, price int) Fingerprint {
	return Fingerprint(fmt.Sprintf("%s|%s|%s|%d", eventID, side, shareType, price))
}
