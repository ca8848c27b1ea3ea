// Package lending routes idle vault collateral into a lending pool and
// tracks the deposit notes received in exchange.
package lending

import (
	"context"
	"errors"
)

var (
	// ErrObligationNotFound means the vault's obligation account has not
	// been created on the lending market yet.
	ErrObligationNotFound = errors.New("lending: obligation not found")

	// ErrInsufficientPoolLiquidity means the pool cannot pay out the
	// requested withdrawal right now. The caller's funds stay deposited.
	ErrInsufficientPoolLiquidity = errors.New("lending: insufficient pool liquidity")

	// ErrCollateralCallFailed wraps any other failure of a lending call.
	// The caller must treat the remote state as unchanged only if the
	// wrapped error says the unit was rejected before commit.
	ErrCollateralCallFailed = errors.New("lending: collateral call failed")
)

// Client is the lending market surface for a single vault: one obligation,
// one reserve. Deposit returns the number of deposit notes credited, which
// grows relative to principal as the pool accrues interest.
type Client interface {
	ObligationExists(ctx context.Context) (bool, error)
	InitObligation(ctx context.Context) error
	Deposit(ctx context.Context, amount uint64) (noteDelta uint64, err error)
	Withdraw(ctx context.Context, amount uint64) error
	CollateralValue(ctx context.Context) (uint64, error)
}
