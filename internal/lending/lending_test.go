package lending

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestRouterEnsureObligation(t *testing.T) {
	ctx := context.Background()
	pool := NewMemory()
	router := NewRouter(pool, zap.NewNop())

	if _, err := pool.Deposit(ctx, 100); !errors.Is(err, ErrObligationNotFound) {
		t.Fatalf("deposit before init error = %v, want ErrObligationNotFound", err)
	}
	if err := router.EnsureObligation(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// Second call is a no-op.
	if err := router.EnsureObligation(ctx); err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if _, err := router.PostCollateral(ctx, 100); err != nil {
		t.Fatalf("post after init: %v", err)
	}
}

func TestRouterNoteDelta(t *testing.T) {
	ctx := context.Background()
	pool := NewMemory()
	pool.SetNoteRate(3, 5)
	router := NewRouter(pool, zap.NewNop())
	if err := router.EnsureObligation(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	notes, err := router.PostCollateral(ctx, 4000)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if notes != 2400 {
		t.Fatalf("note delta = %d, want 2400", notes)
	}
	value, err := router.CollateralValue(ctx)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if value != 4000 {
		t.Fatalf("collateral value = %d, want 4000", value)
	}
}

func TestRouterInterestAccrual(t *testing.T) {
	ctx := context.Background()
	pool := NewMemory()
	router := NewRouter(pool, zap.NewNop())
	if err := router.EnsureObligation(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := router.PostCollateral(ctx, 1000); err != nil {
		t.Fatalf("post: %v", err)
	}
	pool.AccrueInterest(50)

	value, err := router.CollateralValue(ctx)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if value != 1050 {
		t.Fatalf("collateral value = %d, want 1050", value)
	}
	if err := router.WithdrawCollateral(ctx, 1050); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	value, _ = router.CollateralValue(ctx)
	if value != 0 {
		t.Fatalf("collateral value after full withdrawal = %d, want 0", value)
	}
}

func TestRouterPoolLiquidityExhausted(t *testing.T) {
	ctx := context.Background()
	pool := NewMemory()
	router := NewRouter(pool, zap.NewNop())
	if err := router.EnsureObligation(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := router.PostCollateral(ctx, 500); err != nil {
		t.Fatalf("post: %v", err)
	}
	pool.SetLiquidity(200)

	err := router.WithdrawCollateral(ctx, 300)
	if !errors.Is(err, ErrInsufficientPoolLiquidity) {
		t.Fatalf("withdraw error = %v, want ErrInsufficientPoolLiquidity", err)
	}
	// Position is untouched after a liquidity refusal.
	value, _ := router.CollateralValue(ctx)
	if value != 500 {
		t.Fatalf("collateral value = %d, want 500", value)
	}
	if err := router.WithdrawCollateral(ctx, 200); err != nil {
		t.Fatalf("withdraw within liquidity: %v", err)
	}
}

func TestRouterDepositFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	pool := NewMemory()
	router := NewRouter(pool, zap.NewNop())
	if err := router.EnsureObligation(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	pool.FailNext(true, false)

	if _, err := router.PostCollateral(ctx, 100); !errors.Is(err, ErrCollateralCallFailed) {
		t.Fatalf("post error = %v, want ErrCollateralCallFailed", err)
	}
	value, _ := router.CollateralValue(ctx)
	if value != 0 {
		t.Fatalf("collateral value after failed deposit = %d, want 0", value)
	}
}
