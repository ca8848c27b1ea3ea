package token

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"epoch-vault/internal/chain"
)

// Submitter is the slice of the ledger client the token service uses.
type Submitter interface {
	Submit(ctx context.Context, inst chain.Instruction) (string, map[string]any, error)
	Query(ctx context.Context, req any) (map[string]any, error)
}

// RPC executes token operations as signed units against the ledger gateway.
type RPC struct {
	client  Submitter
	program solana.PublicKey
}

func NewRPC(client Submitter, program solana.PublicKey) *RPC {
	return &RPC{client: client, program: program}
}

func (r *RPC) Mint(ctx context.Context, mint, to string, amount uint64) error {
	return r.submit(ctx, "mint_to", amount, mint, to)
}

func (r *RPC) Burn(ctx context.Context, mint, from string, amount uint64) error {
	return r.submit(ctx, "burn", amount, mint, from)
}

func (r *RPC) Transfer(ctx context.Context, mint, from, to string, amount uint64) error {
	return r.submit(ctx, "transfer", amount, mint, from, to)
}

func (r *RPC) Balance(ctx context.Context, mint, account string) (uint64, error) {
	return r.query(ctx, map[string]any{"type": "token_balance", "mint": mint, "account": account})
}

func (r *RPC) Supply(ctx context.Context, mint string) (uint64, error) {
	return r.query(ctx, map[string]any{"type": "token_supply", "mint": mint})
}

func (r *RPC) submit(ctx context.Context, method string, amount uint64, addrs ...string) error {
	accounts, err := parseKeys(addrs)
	if err != nil {
		return err
	}
	inst := chain.Instruction{
		Program:  r.program,
		Method:   method,
		Args:     []uint64{amount},
		Accounts: accounts,
	}
	_, _, err = r.client.Submit(ctx, inst)
	return err
}

func (r *RPC) query(ctx context.Context, req map[string]any) (uint64, error) {
	data, err := r.client.Query(ctx, req)
	if err != nil {
		return 0, err
	}
	return chain.Uint64Field(data, "amount")
}

func parseKeys(addrs []string) ([]solana.PublicKey, error) {
	keys := make([]solana.PublicKey, 0, len(addrs))
	for _, a := range addrs {
		key, err := solana.PublicKeyFromBase58(a)
		if err != nil {
			return nil, fmt.Errorf("token: bad account %q: %w", a, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
