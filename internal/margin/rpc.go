package margin

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"epoch-vault/internal/chain"
	"epoch-vault/internal/derive"
)

// Submitter is the slice of the ledger client the margin client uses.
type Submitter interface {
	Submit(ctx context.Context, inst chain.Instruction) (string, map[string]any, error)
	Query(ctx context.Context, req any) (map[string]any, error)
}

// RPC executes margin calls against the derivatives program as signed units.
type RPC struct {
	client   Submitter
	program  solana.PublicKey
	group    solana.PublicKey
	accounts derive.Accounts
	bumps    derive.Bumps
}

func NewRPC(client Submitter, program, group solana.PublicKey, accounts derive.Accounts, bumps derive.Bumps) *RPC {
	return &RPC{client: client, program: program, group: group, accounts: accounts, bumps: bumps}
}

func (r *RPC) AccountExists(ctx context.Context) (bool, error) {
	data, err := r.client.Query(ctx, map[string]any{
		"type":    "account_exists",
		"account": r.accounts.MarginAccount.String(),
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMarginCallFailed, err)
	}
	exists, ok := data["exists"].(bool)
	if !ok {
		return false, fmt.Errorf("%w: malformed account_exists response", ErrMarginCallFailed)
	}
	return exists, nil
}

func (r *RPC) Create(ctx context.Context) error {
	inst := chain.Instruction{
		Program: r.program,
		Method:  "create_margin_account",
		Accounts: []solana.PublicKey{
			r.group, r.accounts.MarginAccount, r.accounts.VaultAuthority,
		},
		Bumps: []uint8{r.bumps.MarginAccount},
	}
	if _, _, err := r.client.Submit(ctx, inst); err != nil {
		return fmt.Errorf("%w: %v", ErrMarginCallFailed, err)
	}
	return nil
}

func (r *RPC) Deposit(ctx context.Context, amount uint64) error {
	return r.move(ctx, "deposit_margin", amount)
}

func (r *RPC) Withdraw(ctx context.Context, amount uint64) error {
	return r.move(ctx, "withdraw_margin", amount)
}

func (r *RPC) move(ctx context.Context, method string, amount uint64) error {
	inst := chain.Instruction{
		Program: r.program,
		Method:  method,
		Args:    []uint64{amount},
		Accounts: []solana.PublicKey{
			r.group, r.accounts.MarginAccount,
			r.accounts.VaultUsdc, r.accounts.VaultAuthority,
		},
		Bumps: []uint8{r.bumps.MarginAccount},
	}
	if _, _, err := r.client.Submit(ctx, inst); err != nil {
		return fmt.Errorf("%w: %v", ErrMarginCallFailed, err)
	}
	return nil
}

func (r *RPC) Balance(ctx context.Context) (uint64, error) {
	data, err := r.client.Query(ctx, map[string]any{
		"type":    "margin_balance",
		"account": r.accounts.MarginAccount.String(),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMarginCallFailed, err)
	}
	bal, err := chain.Uint64Field(data, "amount")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMarginCallFailed, err)
	}
	return bal, nil
}
