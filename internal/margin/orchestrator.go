package margin

import (
	"context"

	"go.uber.org/zap"

	"epoch-vault/internal/epoch"
)

// Orchestrator enforces when margin may move. Funding is only legal while
// the auction is live; a full recall is only legal once settlement starts
// or the cycle has ended. The caller supplies the current phase so the
// gate and the vault's own bookkeeping observe the same clock reading.
type Orchestrator struct {
	client Client
	log    *zap.Logger
}

func NewOrchestrator(client Client, log *zap.Logger) *Orchestrator {
	return &Orchestrator{client: client, log: log}
}

// EnsureAccount creates the margin account if it does not exist.
func (o *Orchestrator) EnsureAccount(ctx context.Context) error {
	exists, err := o.client.AccountExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := o.client.Create(ctx); err != nil {
		return err
	}
	o.log.Info("margin account created")
	return nil
}

// Post moves amount onto the exchange. Legal only during the live auction.
func (o *Orchestrator) Post(ctx context.Context, phase epoch.Phase, amount uint64) error {
	if phase != epoch.PhaseAuctionLive {
		return ErrPhaseViolation
	}
	if amount == 0 {
		return nil
	}
	if err := o.client.Deposit(ctx, amount); err != nil {
		o.log.Error("margin post failed", zap.Uint64("amount", amount), zap.Error(err))
		return err
	}
	o.log.Info("margin posted", zap.Uint64("amount", amount))
	return nil
}

// RecallAll withdraws the entire margin balance. Success means the balance
// reads zero afterwards; anything left on the exchange is a failure the
// caller must treat as funds at risk. Returns the amount recalled.
func (o *Orchestrator) RecallAll(ctx context.Context, phase epoch.Phase, ended bool) (uint64, error) {
	if phase != epoch.PhaseSettlement && !ended {
		return 0, ErrPhaseViolation
	}
	balance, err := o.client.Balance(ctx)
	if err != nil {
		return 0, err
	}
	if balance == 0 {
		return 0, nil
	}
	if err := o.client.Withdraw(ctx, balance); err != nil {
		o.log.Error("margin recall failed", zap.Uint64("balance", balance), zap.Error(err))
		return 0, err
	}
	remaining, err := o.client.Balance(ctx)
	if err != nil {
		return 0, err
	}
	if remaining != 0 {
		o.log.Error("margin recall left residual balance", zap.Uint64("remaining", remaining))
		return balance - remaining, ErrMarginCallFailed
	}
	o.log.Info("margin recalled", zap.Uint64("amount", balance))
	return balance, nil
}

// Balance reads the current exchange balance.
func (o *Orchestrator) Balance(ctx context.Context) (uint64, error) {
	return o.client.Balance(ctx)
}
