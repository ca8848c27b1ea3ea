// Package margin manages the vault's account on the derivatives exchange:
// funding it during the auction and recalling everything at settlement.
package margin

import (
	"context"
	"errors"
)

var (
	// ErrPhaseViolation means the requested margin movement is not allowed
	// in the vault's current phase.
	ErrPhaseViolation = errors.New("margin: operation not allowed in current phase")

	// ErrMarginCallFailed wraps a failed exchange call. A failed recall
	// leaves funds on the exchange and halts withdrawals for the cycle.
	ErrMarginCallFailed = errors.New("margin: exchange call failed")
)

// Client is the derivatives exchange surface for one vault's margin account.
type Client interface {
	AccountExists(ctx context.Context) (bool, error)
	Create(ctx context.Context) error
	Deposit(ctx context.Context, amount uint64) error
	Withdraw(ctx context.Context, amount uint64) error
	Balance(ctx context.Context) (uint64, error)
}
