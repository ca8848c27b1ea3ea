// Package token moves the vault's asset and claim tokens on the ledger.
package token

import (
	"context"
	"errors"
)

var (
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrUnknownAccount      = errors.New("token: unknown account")
)

// Service is the token surface the vault needs: mint and burn of the claim
// token, transfers of the asset token, and balance reads. Amounts are in the
// token's smallest unit.
type Service interface {
	Mint(ctx context.Context, mint, to string, amount uint64) error
	Burn(ctx context.Context, mint, from string, amount uint64) error
	Transfer(ctx context.Context, mint, from, to string, amount uint64) error
	Balance(ctx context.Context, mint, account string) (uint64, error)
	Supply(ctx context.Context, mint string) (uint64, error)
}
