// Package persistence implements the Persistence Boundary (C5): the
// contract between the in-memory core and the relational store, plus a
// concrete modernc.org/sqlite-backed implementation of the five tables from
// spec section 6 (users, events, orders, trades, portfolios). The relational
// driver itself is named in spec section 1 as an external collaborator;
// this package is the boundary that talks to it, which spec section 2 (C5)
// places squarely in the core's scope.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"predmkt-exchange/internal/domain"
)

// Boundary is the contract spec section 4.5 names: insert_order,
// update_order, insert_trade, upsert_portfolio, adjust_balance, plus the
// read paths recovery and resolution need.
type Boundary interface {
	InsertOrder(ctx context.Context, o domain.Order) error
	UpdateOrderTerminal(ctx context.Context, o domain.Order) error
	UpdateOrderResting(ctx context.Context, o domain.Order) error
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ListRestingOrders(ctx context.Context) ([]domain.Order, error)

	// SettleFill performs the atomic bundle spec section 4.4 requires for
	// one fill: one trade row, one buyer debit, one seller credit, and the
	// buyer/seller portfolio deltas, all inside a single transaction.
	SettleFill(ctx context.Context, trade domain.Trade) error

	GetBalance(ctx context.Context, userID string) (int64, error)
	AdjustBalance(ctx context.Context, userID string, delta int64) error
	GetPortfolioQuantity(ctx context.Context, userID, eventID string, shareType domain.ShareType) (uint64, error)
	AdjustPortfolio(ctx context.Context, userID, eventID string, shareType domain.ShareType, delta int64) error
	ListPortfoliosByEvent(ctx context.Context, eventID string) ([]domain.PortfolioEntry, error)

	GetEventStatus(ctx context.Context, eventID string) (domain.EventStatus, domain.EventResult, error)
	MarkEventCompleted(ctx context.Context, eventID string, result domain.EventResult) error
	ListCompletedEventsWithResidue(ctx context.Context) ([]string, error)

	EnsureUser(ctx context.Context, userID string, initialBalance int64) error
	EnsureEvent(ctx context.Context, eventID string) error

	Close() error
}

// SQLite is the concrete Boundary backing every table in spec section 6 on
// a pure-Go sqlite driver, matching the stack of the "trade" reference repo
// (go-chi + modernc.org/sqlite) in the retrieved example pack.
type SQLite struct {
	db *sql.DB
}

func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one file handle
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// migrate is a minimal embedded bootstrap, not a migration framework —
// schema migrations are an explicit Non-goal (spec section 1).
func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			balance INTEGER NOT NULL CHECK (balance >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'ONGOING',
			result TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			event_id TEXT NOT NULL REFERENCES events(id),
			side TEXT NOT NULL,
			share_type TEXT NOT NULL,
			price INTEGER NOT NULL CHECK (price BETWEEN 1 AND 10),
			total_quantity INTEGER NOT NULL,
			filled_quantity INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL REFERENCES events(id),
			price INTEGER NOT NULL,
			quantity INTEGER NOT NULL,
			share_type TEXT NOT NULL,
			buyer_user_id TEXT NOT NULL REFERENCES users(id),
			seller_user_id TEXT NOT NULL REFERENCES users(id),
			buyer_order_id TEXT REFERENCES orders(id),
			seller_order_id TEXT REFERENCES orders(id),
			executed_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS portfolios (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL REFERENCES users(id),
			event_id TEXT NOT NULL REFERENCES events(id),
			share_type TEXT NOT NULL,
			quantity INTEGER NOT NULL DEFAULT 0,
			UNIQUE(user_id, event_id, share_type)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLite) EnsureUser(ctx context.Context, userID string, initialBalance int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, balance) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		userID, initialBalance)
	return err
}

func (s *SQLite) EnsureEvent(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, status) VALUES (?, 'ONGOING') ON CONFLICT(id) DO NOTHING`,
		eventID)
	return err
}

func (s *SQLite) InsertOrder(ctx context.Context, o domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, event_id, side, share_type, price, total_quantity, filled_quantity, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.EventID, o.Side.String(), o.ShareType.String(), o.Price,
		o.TotalQuantity, o.FilledQuantity, o.Status.String(), o.CreatedAt)
	return err
}

// UpdateOrderTerminal is called only on terminal transition, per spec
// section 4.5.
func (s *SQLite) UpdateOrderTerminal(ctx context.Context, o domain.Order) error {
	return s.writeOrderProgress(ctx, o)
}

// UpdateOrderResting writes filled_quantity/status for an order that
// advanced (maker partial fill, or taker residual) but is still resting in
// C1/C2 rather than terminal. Without this write the database row would
// stay at its as-submitted filled=0/INCOMPLETE forever, so Recover's
// ListRestingOrders would re-offer already-settled quantity on restart.
func (s *SQLite) UpdateOrderResting(ctx context.Context, o domain.Order) error {
	return s.writeOrderProgress(ctx, o)
}

func (s *SQLite) writeOrderProgress(ctx context.Context, o domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET filled_quantity = ?, status = ? WHERE id = ?`,
		o.FilledQuantity, o.Status.String(), o.ID)
	return err
}

func (s *SQLite) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, event_id, side, share_type, price, total_quantity, filled_quantity, status, created_at
		FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

func (s *SQLite) ListRestingOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, event_id, side, share_type, price, total_quantity, filled_quantity, status, created_at
		FROM orders WHERE status IN ('INCOMPLETE','PARTIAL_FILLED') ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	var side, shareType, status string
	if err := row.Scan(&o.ID, &o.UserID, &o.EventID, &side, &shareType, &o.Price,
		&o.TotalQuantity, &o.FilledQuantity, &status, &o.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("scan order: %w", err)
	}
	o.Side = parseSide(side)
	o.ShareType = parseShareType(shareType)
	o.Status = parseStatus(status)
	return o, nil
}

func parseSide(s string) domain.Side {
	if s == "BUY" {
		return domain.Buy
	}
	return domain.Sell
}

func parseShareType(s string) domain.ShareType {
	if s == "YES" {
		return domain.Yes
	}
	return domain.No
}

func parseStatus(s string) domain.OrderStatus {
	switch s {
	case "INCOMPLETE":
		return domain.Incomplete
	case "PARTIAL_FILLED":
		return domain.PartialFilled
	case "COMPLETELY_FILLED":
		return domain.CompletelyFilled
	default:
		return domain.Cancelled
	}
}

// SettleFill writes the trade, both balance adjustments, and both portfolio
// deltas inside one transaction; any failure rolls the whole bundle back, so
// balances/portfolios/trades never diverge (spec section 4.4).
func (s *SQLite) SettleFill(ctx context.Context, t domain.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settlement tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trades (id, event_id, price, quantity, share_type, buyer_user_id, seller_user_id, buyer_order_id, seller_order_id, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.EventID, t.Price, t.Quantity, t.ShareType.String(),
		t.BuyerUserID, t.SellerUserID, t.BuyerOrderID, t.SellerOrderID, t.ExecutedAt); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	value := int64(t.Value())
	if err := adjustBalanceTx(ctx, tx, t.BuyerUserID, -value); err != nil {
		return fmt.Errorf("debit buyer: %w", err)
	}
	if err := adjustBalanceTx(ctx, tx, t.SellerUserID, value); err != nil {
		return fmt.Errorf("credit seller: %w", err)
	}
	if err := adjustPortfolioTx(ctx, tx, t.BuyerUserID, t.EventID, t.ShareType, int64(t.Quantity)); err != nil {
		return fmt.Errorf("credit buyer portfolio: %w", err)
	}
	if err := adjustPortfolioTx(ctx, tx, t.SellerUserID, t.EventID, t.ShareType, -int64(t.Quantity)); err != nil {
		return fmt.Errorf("debit seller portfolio: %w", err)
	}

	return tx.Commit()
}

func adjustBalanceTx(ctx context.Context, tx *sql.Tx, userID string, delta int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET balance = balance + ? WHERE id = ? AND balance + ? >= 0`, delta, userID, delta)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("balance adjustment for %s would go negative or user missing", userID)
	}
	return nil
}

func adjustPortfolioTx(ctx context.Context, tx *sql.Tx, userID, eventID string, shareType domain.ShareType, delta int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO portfolios (user_id, event_id, share_type, quantity) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, event_id, share_type) DO UPDATE SET quantity = quantity + excluded.quantity`,
		userID, eventID, shareType.String(), delta)
	return err
}

func (s *SQLite) GetBalance(ctx context.Context, userID string) (int64, error) {
	var bal int64
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = ?`, userID).Scan(&bal)
	return bal, err
}

func (s *SQLite) AdjustBalance(ctx context.Context, userID string, delta int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := adjustBalanceTx(ctx, tx, userID, delta); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) GetPortfolioQuantity(ctx context.Context, userID, eventID string, shareType domain.ShareType) (uint64, error) {
	var qty int64
	err := s.db.QueryRowContext(ctx, `
		SELECT quantity FROM portfolios WHERE user_id = ? AND event_id = ? AND share_type = ?`,
		userID, eventID, shareType.String()).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil || qty < 0 {
		return 0, err
	}
	return uint64(qty), nil
}

func (s *SQLite) AdjustPortfolio(ctx context.Context, userID, eventID string, shareType domain.ShareType, delta int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := adjustPortfolioTx(ctx, tx, userID, eventID, shareType, delta); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) ListPortfoliosByEvent(ctx context.Context, eventID string) ([]domain.PortfolioEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, event_id, share_type, quantity FROM portfolios WHERE event_id = ? AND quantity > 0`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PortfolioEntry
	for rows.Next() {
		var p domain.PortfolioEntry
		var shareType string
		var qty int64
		if err := rows.Scan(&p.UserID, &p.EventID, &shareType, &qty); err != nil {
			return nil, err
		}
		p.ShareType = parseShareType(shareType)
		p.Quantity = uint64(qty)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) GetEventStatus(ctx context.Context, eventID string) (domain.EventStatus, domain.EventResult, error) {
	var status string
	var result sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT status, result FROM events WHERE id = ?`, eventID).Scan(&status, &result)
	if err != nil {
		return 0, 0, err
	}
	st := domain.Ongoing
	if status == "COMPLETED" {
		st = domain.Completed
	}
	res := domain.ResultNone
	if result.Valid {
		switch result.String {
		case "YES":
			res = domain.ResultYes
		case "NO":
			res = domain.ResultNo
		case "DRAW":
			res = domain.ResultDraw
		}
	}
	return st, res, nil
}

func (s *SQLite) MarkEventCompleted(ctx context.Context, eventID string, result domain.EventResult) error {
	_, err := s.db.ExecContext(ctx, `UPDATE events SET status = 'COMPLETED', result = ? WHERE id = ?`, result.String(), eventID)
	return err
}

// ListCompletedEventsWithResidue finds events marked COMPLETED that still
// have resting orders or non-zero portfolio rows — the replay target spec
// section 4.8 calls for when a drain is interrupted mid-way.
func (s *SQLite) ListCompletedEventsWithResidue(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM events WHERE status = 'COMPLETED' AND (
			EXISTS (SELECT 1 FROM orders WHERE orders.event_id = events.id AND orders.status IN ('INCOMPLETE','PARTIAL_FILLED'))
			OR EXISTS (SELECT 1 FROM portfolios WHERE portfolios.event_id = events.id AND portfolios.quantity > 0)
		)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ Boundary = (*SQLite)(nil)
