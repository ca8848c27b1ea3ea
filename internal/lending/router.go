package lending

import (
	"context"

	"go.uber.org/zap"
)

// Router drives the vault's lending flow. It creates the obligation on
// first use and never retries a failed financial call; a failure surfaces
// to the caller, who decides whether to compensate or halt.
type Router struct {
	client Client
	log    *zap.Logger
}

func NewRouter(client Client, log *zap.Logger) *Router {
	return &Router{client: client, log: log}
}

// EnsureObligation creates the vault's obligation if it does not exist.
// Creating an account is idempotent on the ledger side, so a lost response
// is safe to re-run.
func (r *Router) EnsureObligation(ctx context.Context) error {
	exists, err := r.client.ObligationExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := r.client.InitObligation(ctx); err != nil {
		return err
	}
	r.log.Info("obligation created")
	return nil
}

// PostCollateral deposits amount into the pool and returns the deposit
// notes credited.
func (r *Router) PostCollateral(ctx context.Context, amount uint64) (uint64, error) {
	notes, err := r.client.Deposit(ctx, amount)
	if err != nil {
		r.log.Error("collateral deposit failed", zap.Uint64("amount", amount), zap.Error(err))
		return 0, err
	}
	r.log.Info("collateral posted", zap.Uint64("amount", amount), zap.Uint64("note_delta", notes))
	return notes, nil
}

// WithdrawCollateral pulls amount back out of the pool. On
// ErrInsufficientPoolLiquidity nothing has moved and the caller may retry
// later at its own initiative.
func (r *Router) WithdrawCollateral(ctx context.Context, amount uint64) error {
	if err := r.client.Withdraw(ctx, amount); err != nil {
		r.log.Error("collateral withdrawal failed", zap.Uint64("amount", amount), zap.Error(err))
		return err
	}
	r.log.Info("collateral withdrawn", zap.Uint64("amount", amount))
	return nil
}

// CollateralValue reads the current value of the vault's pool position.
func (r *Router) CollateralValue(ctx context.Context) (uint64, error) {
	return r.client.CollateralValue(ctx)
}
