package lending

import (
	"context"
	"sync"

	"epoch-vault/internal/token"
)

// Memory simulates a lending pool in process. The note rate is a fixed
// ratio so tests can model interest accrual deterministically: depositing
// amount credits amount*rateNum/rateDen notes, and note value moves the
// other way on redemption.
type Memory struct {
	mu        sync.Mutex
	exists    bool
	notes     uint64
	principal uint64
	liquidity uint64
	rateNum   uint64
	rateDen   uint64

	failDeposits  bool
	failWithdraws bool

	funds     token.Service
	mint      string
	vaultAcct string
	poolAcct  string
}

// NewMemory returns a pool with a 1:1 note rate and unlimited liquidity
// until SetLiquidity is called.
func NewMemory() *Memory {
	return &Memory{rateNum: 1, rateDen: 1, liquidity: ^uint64(0)}
}

// Bind wires the pool to a token ledger so simulated deposits and
// withdrawals actually move the asset between the vault's liquid account
// and the pool's account, matching what the on-ledger program does.
func (m *Memory) Bind(funds token.Service, mint, vaultAcct, poolAcct string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funds = funds
	m.mint, m.vaultAcct, m.poolAcct = mint, vaultAcct, poolAcct
}

// SetNoteRate fixes the notes-per-unit ratio for future deposits.
func (m *Memory) SetNoteRate(num, den uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateNum, m.rateDen = num, den
}

// SetLiquidity caps how much the pool can pay out.
func (m *Memory) SetLiquidity(amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liquidity = amount
}

// FailNext makes subsequent deposits or withdrawals fail until cleared.
func (m *Memory) FailNext(deposits, withdraws bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDeposits, m.failWithdraws = deposits, withdraws
}

// AccrueInterest grows the redeemable value of outstanding notes. When the
// pool is bound to a token ledger the yield is minted into the pool account
// so the asset exists when it is later withdrawn.
func (m *Memory) AccrueInterest(amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.principal += amount
	if m.liquidity != ^uint64(0) {
		m.liquidity += amount
	}
	if m.funds != nil {
		_ = m.funds.Mint(context.Background(), m.mint, m.poolAcct, amount)
	}
}

func (m *Memory) ObligationExists(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists, nil
}

func (m *Memory) InitObligation(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exists = true
	return nil
}

func (m *Memory) Deposit(ctx context.Context, amount uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return 0, ErrObligationNotFound
	}
	if m.failDeposits {
		return 0, ErrCollateralCallFailed
	}
	if m.funds != nil {
		if err := m.funds.Transfer(ctx, m.mint, m.vaultAcct, m.poolAcct, amount); err != nil {
			return 0, ErrCollateralCallFailed
		}
	}
	notes := amount * m.rateNum / m.rateDen
	m.notes += notes
	m.principal += amount
	if m.liquidity != ^uint64(0) {
		m.liquidity += amount
	}
	return notes, nil
}

func (m *Memory) Withdraw(ctx context.Context, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return ErrObligationNotFound
	}
	if m.failWithdraws {
		return ErrCollateralCallFailed
	}
	if amount > m.principal {
		return ErrCollateralCallFailed
	}
	if amount > m.liquidity {
		return ErrInsufficientPoolLiquidity
	}
	if m.funds != nil {
		if err := m.funds.Transfer(ctx, m.mint, m.poolAcct, m.vaultAcct, amount); err != nil {
			return ErrCollateralCallFailed
		}
	}
	m.principal -= amount
	if m.liquidity != ^uint64(0) {
		m.liquidity -= amount
	}
	return nil
}

func (m *Memory) CollateralValue(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.principal, nil
}
