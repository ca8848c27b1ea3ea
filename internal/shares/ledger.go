package shares

import (
	"errors"
	"math/bits"
)

var (
	ErrZeroAmount = errors.New("amount must be greater than zero")
	ErrZeroValue  = errors.New("vault has outstanding shares but no value")
	ErrOverflow   = errors.New("share arithmetic overflow")
)

// Issue computes the claim tokens minted for a deposit. The first deposit
// bootstraps the exchange rate 1:1; afterwards shares = amount * supply / nav,
// rounded down so rounding never leaks value out of the vault.
func Issue(amount, navBefore, supplyBefore uint64) (uint64, error) {
	if amount == 0 {
		return 0, ErrZeroAmount
	}
	if supplyBefore == 0 {
		return amount, nil
	}
	if navBefore == 0 {
		return 0, ErrZeroValue
	}
	return mulDiv(amount, supplyBefore, navBefore)
}

// Redeem computes the payout for burning shares: amount = shares * nav / supply,
// rounded down in favor of the remaining holders.
func Redeem(sharesBurned, navBefore, supplyBefore uint64) (uint64, error) {
	if sharesBurned == 0 {
		return 0, ErrZeroAmount
	}
	if supplyBefore == 0 {
		return 0, ErrZeroValue
	}
	return mulDiv(sharesBurned, navBefore, supplyBefore)
}

// mulDiv is floor(a*b/den) with a 128-bit intermediate.
func mulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrOverflow
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, den)
	return q, nil
}
