package lending

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"

	"epoch-vault/internal/chain"
	"epoch-vault/internal/derive"
)

// Submitter is the slice of the ledger client the lending client uses.
type Submitter interface {
	Submit(ctx context.Context, inst chain.Instruction) (string, map[string]any, error)
	Query(ctx context.Context, req any) (map[string]any, error)
}

// RPC executes lending calls for one vault's obligation as signed units.
type RPC struct {
	client   Submitter
	program  solana.PublicKey
	market   solana.PublicKey
	reserve  solana.PublicKey
	accounts derive.Accounts
	bumps    derive.Bumps
}

func NewRPC(client Submitter, program, market, reserve solana.PublicKey, accounts derive.Accounts, bumps derive.Bumps) *RPC {
	return &RPC{
		client:   client,
		program:  program,
		market:   market,
		reserve:  reserve,
		accounts: accounts,
		bumps:    bumps,
	}
}

func (r *RPC) ObligationExists(ctx context.Context) (bool, error) {
	data, err := r.client.Query(ctx, map[string]any{
		"type":    "account_exists",
		"account": r.accounts.Obligation.String(),
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCollateralCallFailed, err)
	}
	exists, ok := data["exists"].(bool)
	if !ok {
		return false, fmt.Errorf("%w: malformed account_exists response", ErrCollateralCallFailed)
	}
	return exists, nil
}

func (r *RPC) InitObligation(ctx context.Context) error {
	inst := chain.Instruction{
		Program: r.program,
		Method:  "init_obligation",
		Accounts: []solana.PublicKey{
			r.market, r.accounts.Obligation,
			r.accounts.DepositAccount, r.accounts.LoanAccount,
			r.accounts.VaultAuthority,
		},
		Bumps: []uint8{r.bumps.Obligation, r.bumps.DepositAccount, r.bumps.LoanAccount},
	}
	if _, _, err := r.client.Submit(ctx, inst); err != nil {
		return fmt.Errorf("%w: %v", ErrCollateralCallFailed, err)
	}
	return nil
}

// Deposit moves amount from the vault's liquid account into the pool. The
// program reports the deposit notes credited; the caller records that delta
// against its tracked collateral.
func (r *RPC) Deposit(ctx context.Context, amount uint64) (uint64, error) {
	inst := chain.Instruction{
		Program: r.program,
		Method:  "deposit_collateral",
		Args:    []uint64{amount},
		Accounts: []solana.PublicKey{
			r.market, r.reserve, r.accounts.Obligation,
			r.accounts.VaultUsdc, r.accounts.CollateralAccount,
			r.accounts.VaultAuthority,
		},
		Bumps: []uint8{r.bumps.CollateralAccount},
	}
	_, data, err := r.client.Submit(ctx, inst)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCollateralCallFailed, err)
	}
	notes, err := chain.Uint64Field(data, "note_delta")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCollateralCallFailed, err)
	}
	return notes, nil
}

func (r *RPC) Withdraw(ctx context.Context, amount uint64) error {
	inst := chain.Instruction{
		Program: r.program,
		Method:  "withdraw_collateral",
		Args:    []uint64{amount},
		Accounts: []solana.PublicKey{
			r.market, r.reserve, r.accounts.Obligation,
			r.accounts.CollateralAccount, r.accounts.VaultUsdc,
			r.accounts.VaultAuthority,
		},
		Bumps: []uint8{r.bumps.CollateralAccount},
	}
	if _, _, err := r.client.Submit(ctx, inst); err != nil {
		if errors.Is(err, chain.ErrUnitRejected) && strings.Contains(err.Error(), "insufficient_liquidity") {
			return ErrInsufficientPoolLiquidity
		}
		return fmt.Errorf("%w: %v", ErrCollateralCallFailed, err)
	}
	return nil
}

// CollateralValue reads the current redemption value of the vault's deposit
// notes in asset units.
func (r *RPC) CollateralValue(ctx context.Context) (uint64, error) {
	data, err := r.client.Query(ctx, map[string]any{
		"type":       "obligation_value",
		"obligation": r.accounts.Obligation.String(),
		"reserve":    r.reserve.String(),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCollateralCallFailed, err)
	}
	value, err := chain.Uint64Field(data, "amount")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCollateralCallFailed, err)
	}
	return value, nil
}
