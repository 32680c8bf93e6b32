// Package accounts holds the handful of account-management helpers the
// core needs but that fall outside its scope: creating the operator
// account that underwrites event resolution payouts, and registering
// funded trading accounts. Seeding a new event with initial liquidity is
// done by engine.SeedEvent, not here. Full user/event CRUD and authentication are an
// explicit Non-goal — this package is the minimal sliver the engine
// actually depends on.
package accounts

import (
	"context"

	"predmkt-exchange/internal/persistence"
)

// OperatorUserID is the counterparty for every drain-generated trade at
// event resolution (spec section 4.8 step 3), and the seller of record for
// initial liquidity. It must carry enough balance to absorb worst-case
// payouts across every open event.
const OperatorUserID = "operator"

// OperatorBalance is the default working balance for the demo/bootstrap
// topology when the caller doesn't override it via config; a production
// deployment would fund this account through a separate treasury process,
// which is out of scope here.
const OperatorBalance = 1_000_000_000

// Bootstrap ensures the operator account exists with the given working
// balance. Call once at startup before accepting any submissions.
func Bootstrap(ctx context.Context, db persistence.Boundary, balance int64) error {
	return db.EnsureUser(ctx, OperatorUserID, balance)
}

// EnsureUser registers a trading account with an initial cash balance.
func EnsureUser(ctx context.Context, db persistence.Boundary, userID string, initialBalance int64) error {
	return db.EnsureUser(ctx, userID, initialBalance)
}
