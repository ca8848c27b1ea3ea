package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"epoch-vault/internal/config"
	"epoch-vault/internal/derive"

	"github.com/gagliardetto/solana-go"
)

// Prints the derived program addresses for a named vault so operators can
// cross-check what the controller will sign against before funding it.
func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	vaultName := flag.String("vault", "", "vault name to derive addresses for")
	user := flag.String("user", "", "optional user address; prints the user claim account too")
	asJSON := flag.Bool("json", false, "emit addresses as JSON")
	flag.Parse()

	if *vaultName == "" {
		fatal(fmt.Errorf("-vault is required"))
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}

	programs := derive.Programs{}
	if programs.Vault, err = solana.PublicKeyFromBase58(cfg.Vault.VaultProgram); err != nil {
		fatal(fmt.Errorf("vault_program: %w", err))
	}
	if programs.Lending, err = solana.PublicKeyFromBase58(cfg.Vault.LendingProgram); err != nil {
		fatal(fmt.Errorf("lending_program: %w", err))
	}
	if programs.Derivatives, err = solana.PublicKeyFromBase58(cfg.Vault.DerivativesProgram); err != nil {
		fatal(fmt.Errorf("derivatives_program: %w", err))
	}
	market, err := solana.PublicKeyFromBase58(cfg.Vault.Market)
	if err != nil {
		fatal(fmt.Errorf("market: %w", err))
	}
	reserve, err := solana.PublicKeyFromBase58(cfg.Vault.Reserve)
	if err != nil {
		fatal(fmt.Errorf("reserve: %w", err))
	}
	group, err := solana.PublicKeyFromBase58(cfg.Vault.Group)
	if err != nil {
		fatal(fmt.Errorf("group: %w", err))
	}

	acc, bumps, err := derive.VaultAccounts(programs, market, reserve, group, *vaultName)
	if err != nil {
		fatal(err)
	}

	out := map[string]string{
		"vault":              acc.Vault.String(),
		"vault_authority":    acc.VaultAuthority.String(),
		"redeemable_mint":    acc.RedeemableMint.String(),
		"vault_usdc":         acc.VaultUsdc.String(),
		"obligation":         acc.Obligation.String(),
		"deposit_account":    acc.DepositAccount.String(),
		"collateral_account": acc.CollateralAccount.String(),
		"loan_account":       acc.LoanAccount.String(),
		"margin_account":     acc.MarginAccount.String(),
	}
	if *user != "" {
		userKey, err := solana.PublicKeyFromBase58(*user)
		if err != nil {
			fatal(fmt.Errorf("user: %w", err))
		}
		claim, _, err := derive.UserRedeemable(programs.Vault, *vaultName, userKey)
		if err != nil {
			fatal(err)
		}
		out["user_redeemable"] = claim.String()
	}

	if *asJSON {
		pretty, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Println(string(pretty))
		return
	}
	order := []string{
		"vault", "vault_authority", "redeemable_mint", "vault_usdc",
		"obligation", "deposit_account", "collateral_account", "loan_account",
		"margin_account", "user_redeemable",
	}
	fmt.Printf("vault %q (bump %d)\n", *vaultName, bumps.Vault)
	for _, key := range order {
		if addr, ok := out[key]; ok {
			fmt.Printf("  %-20s %s\n", key, addr)
		}
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
