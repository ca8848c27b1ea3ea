// Package derive computes the vault's derived sub-account addresses. Every
// identifier is a pure function of a seed tag plus the vault name or owning
// authority; callers recompute them on every use and nothing is stored that
// could drift from the derivation.
package derive

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

const (
	SeedVaultAuthority = "vault-authority"
	SeedRedeemableMint = "redeemable-mint"
	SeedVaultUsdc      = "vault-usdc"
	SeedUserRedeemable = "user-redeemable"
	SeedObligation     = "obligation"
	SeedDeposits       = "deposits"
	SeedCollateral     = "collateral"
	SeedLoan           = "loan"
	SeedMargin         = "margin"
)

const maxVaultNameLen = 20

var ErrVaultName = errors.New("vault name must be 1-20 bytes")

// Bumps carries the derivation bump for every sub-account the vault owns.
// They are recorded once at initialization and replayed on every signed call.
type Bumps struct {
	Vault             uint8 `json:"vault"`
	VaultAuthority    uint8 `json:"vault_authority"`
	RedeemableMint    uint8 `json:"redeemable_mint"`
	VaultUsdc         uint8 `json:"vault_usdc"`
	Obligation        uint8 `json:"obligation"`
	DepositAccount    uint8 `json:"deposit_account"`
	CollateralAccount uint8 `json:"collateral_account"`
	LoanAccount       uint8 `json:"loan_account"`
	MarginAccount     uint8 `json:"margin_account"`
}

// Accounts is the full derived account set for one vault.
type Accounts struct {
	Vault             solana.PublicKey
	VaultAuthority    solana.PublicKey
	RedeemableMint    solana.PublicKey
	VaultUsdc         solana.PublicKey
	Obligation        solana.PublicKey
	DepositAccount    solana.PublicKey
	CollateralAccount solana.PublicKey
	LoanAccount       solana.PublicKey
	MarginAccount     solana.PublicKey
}

// Programs identifies the on-ledger programs the derivations are rooted in.
type Programs struct {
	Vault       solana.PublicKey
	Lending     solana.PublicKey
	Derivatives solana.PublicKey
}

// VaultAccounts derives every sub-account for the named vault. Lending-side
// accounts are rooted in the lending program and keyed by (market or reserve,
// vault authority); the margin account is rooted in the derivatives program
// and keyed by (group, vault authority).
func VaultAccounts(p Programs, market, reserve, group solana.PublicKey, name string) (Accounts, Bumps, error) {
	if len(name) == 0 || len(name) > maxVaultNameLen {
		return Accounts{}, Bumps{}, fmt.Errorf("%w: %q", ErrVaultName, name)
	}
	var acc Accounts
	var bumps Bumps
	var err error

	if acc.Vault, bumps.Vault, err = find(p.Vault, []byte(name)); err != nil {
		return Accounts{}, Bumps{}, err
	}
	if acc.VaultAuthority, bumps.VaultAuthority, err = find(p.Vault, []byte(SeedVaultAuthority), []byte(name)); err != nil {
		return Accounts{}, Bumps{}, err
	}
	if acc.RedeemableMint, bumps.RedeemableMint, err = find(p.Vault, []byte(SeedRedeemableMint), []byte(name)); err != nil {
		return Accounts{}, Bumps{}, err
	}
	if acc.VaultUsdc, bumps.VaultUsdc, err = find(p.Vault, []byte(SeedVaultUsdc), []byte(name)); err != nil {
		return Accounts{}, Bumps{}, err
	}
	auth := acc.VaultAuthority
	if acc.Obligation, bumps.Obligation, err = find(p.Lending, []byte(SeedObligation), market.Bytes(), auth.Bytes()); err != nil {
		return Accounts{}, Bumps{}, err
	}
	if acc.DepositAccount, bumps.DepositAccount, err = find(p.Lending, []byte(SeedDeposits), reserve.Bytes(), auth.Bytes()); err != nil {
		return Accounts{}, Bumps{}, err
	}
	if acc.CollateralAccount, bumps.CollateralAccount, err = find(p.Lending, []byte(SeedCollateral), reserve.Bytes(), acc.Obligation.Bytes(), auth.Bytes()); err != nil {
		return Accounts{}, Bumps{}, err
	}
	if acc.LoanAccount, bumps.LoanAccount, err = find(p.Lending, []byte(SeedLoan), reserve.Bytes(), acc.Obligation.Bytes(), auth.Bytes()); err != nil {
		return Accounts{}, Bumps{}, err
	}
	if acc.MarginAccount, bumps.MarginAccount, err = find(p.Derivatives, []byte(SeedMargin), group.Bytes(), auth.Bytes()); err != nil {
		return Accounts{}, Bumps{}, err
	}
	return acc, bumps, nil
}

// UserRedeemable derives the claim-token account for one user of one vault.
func UserRedeemable(vaultProgram solana.PublicKey, name string, user solana.PublicKey) (solana.PublicKey, uint8, error) {
	if len(name) == 0 || len(name) > maxVaultNameLen {
		return solana.PublicKey{}, 0, fmt.Errorf("%w: %q", ErrVaultName, name)
	}
	return find(vaultProgram, []byte(SeedUserRedeemable), []byte(name), user.Bytes())
}

func find(program solana.PublicKey, seeds ...[]byte) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(seeds, program)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("derive address: %w", err)
	}
	return addr, bump, nil
}
