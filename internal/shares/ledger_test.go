package shares

import (
	"errors"
	"testing"
)

func TestIssueBootstrap(t *testing.T) {
	got, err := Issue(4000, 0, 0)
	if err != nil {
		t.Fatalf("bootstrap issue failed: %v", err)
	}
	if got != 4000 {
		t.Fatalf("first deposit must mint 1:1, got %d", got)
	}
}

func TestIssueProportional(t *testing.T) {
	// 1000 units into a vault worth 2000 backing 1000 shares: 500 shares.
	got, err := Issue(1000, 2000, 1000)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if got != 500 {
		t.Fatalf("expected 500, got %d", got)
	}
}

func TestIssueRoundsDown(t *testing.T) {
	// 3 * 1000 / 1001 = 2.997 -> 2
	got, err := Issue(3, 1001, 1000)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected floor rounding to 2, got %d", got)
	}
}

func TestIssueZeroAmount(t *testing.T) {
	if _, err := Issue(0, 100, 100); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
}

func TestIssueZeroNAVWithSupply(t *testing.T) {
	if _, err := Issue(10, 0, 100); !errors.Is(err, ErrZeroValue) {
		t.Fatalf("expected ErrZeroValue, got %v", err)
	}
}

func TestRedeemProportional(t *testing.T) {
	got, err := Redeem(500, 2000, 1000)
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if got != 1000 {
		t.Fatalf("expected 1000, got %d", got)
	}
}

func TestRedeemNoSupply(t *testing.T) {
	if _, err := Redeem(10, 100, 0); !errors.Is(err, ErrZeroValue) {
		t.Fatalf("expected ErrZeroValue, got %v", err)
	}
}

func TestRoundTripNeverProfits(t *testing.T) {
	// Depositing then immediately redeeming must not return more than went in,
	// and the loss is bounded by one unit.
	navs := []uint64{1, 3, 999, 1000, 12345, 1 << 40}
	supplies := []uint64{1, 2, 997, 1000, 54321, 1 << 39}
	amounts := []uint64{1, 2, 3, 999, 4000, 1 << 30}
	for _, nav := range navs {
		for _, supply := range supplies {
			for _, amount := range amounts {
				minted, err := Issue(amount, nav, supply)
				if err != nil {
					t.Fatalf("issue(%d,%d,%d): %v", amount, nav, supply, err)
				}
				if minted == 0 {
					continue
				}
				back, err := Redeem(minted, nav+amount, supply+minted)
				if err != nil {
					t.Fatalf("redeem(%d,%d,%d): %v", minted, nav+amount, supply+minted, err)
				}
				if back > amount {
					t.Fatalf("round trip profits: in=%d out=%d (nav=%d supply=%d)", amount, back, nav, supply)
				}
			}
		}
	}
}

func TestRateMonotonicUnderDustDeposits(t *testing.T) {
	// Repeated 1-unit deposits must never decrease nav-per-share.
	nav := uint64(1000)
	supply := uint64(997)
	for i := 0; i < 10000; i++ {
		minted, err := Issue(1, nav, supply)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		// rate check: nav'/supply' >= nav/supply  <=>  nav'*supply >= nav*supply'
		navNext := nav + 1
		supplyNext := supply + minted
		if navNext*supply < nav*supplyNext {
			t.Fatalf("rate decreased after dust deposit %d: nav %d->%d supply %d->%d", i, nav, navNext, supply, supplyNext)
		}
		nav, supply = navNext, supplyNext
	}
}

func TestMulDivOverflow(t *testing.T) {
	if _, err := Issue(1<<63, 1, 1<<63); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}
