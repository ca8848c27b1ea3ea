package margin

import (
	"context"
	"sync"

	"epoch-vault/internal/token"
)

// Memory simulates a derivatives margin account in process. Tests can apply
// trading gains or losses between deposit and recall.
type Memory struct {
	mu      sync.Mutex
	exists  bool
	balance uint64

	failDeposits  bool
	failWithdraws bool

	funds     token.Service
	mint      string
	vaultAcct string
	exchAcct  string
}

func NewMemory() *Memory {
	return &Memory{}
}

// Bind wires the exchange to a token ledger so simulated margin movements
// actually move the asset between the vault's liquid account and the
// exchange's account, and PnL mints or burns against the exchange balance.
func (m *Memory) Bind(funds token.Service, mint, vaultAcct, exchAcct string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funds = funds
	m.mint, m.vaultAcct, m.exchAcct = mint, vaultAcct, exchAcct
}

// FailNext makes subsequent deposits or withdrawals fail until cleared.
func (m *Memory) FailNext(deposits, withdraws bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDeposits, m.failWithdraws = deposits, withdraws
}

// ApplyPnL moves the balance by a trading result. Losses floor at zero.
func (m *Memory) ApplyPnL(delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if delta >= 0 {
		m.balance += uint64(delta)
		if m.funds != nil {
			_ = m.funds.Mint(context.Background(), m.mint, m.exchAcct, uint64(delta))
		}
		return
	}
	loss := uint64(-delta)
	if loss > m.balance {
		loss = m.balance
	}
	m.balance -= loss
	if m.funds != nil {
		_ = m.funds.Burn(context.Background(), m.mint, m.exchAcct, loss)
	}
}

func (m *Memory) AccountExists(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists, nil
}

func (m *Memory) Create(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exists = true
	return nil
}

func (m *Memory) Deposit(ctx context.Context, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists || m.failDeposits {
		return ErrMarginCallFailed
	}
	if m.funds != nil {
		if err := m.funds.Transfer(ctx, m.mint, m.vaultAcct, m.exchAcct, amount); err != nil {
			return ErrMarginCallFailed
		}
	}
	m.balance += amount
	return nil
}

func (m *Memory) Withdraw(ctx context.Context, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists || m.failWithdraws {
		return ErrMarginCallFailed
	}
	if amount > m.balance {
		return ErrMarginCallFailed
	}
	if m.funds != nil {
		if err := m.funds.Transfer(ctx, m.mint, m.exchAcct, m.vaultAcct, amount); err != nil {
			return ErrMarginCallFailed
		}
	}
	m.balance -= amount
	return nil
}

func (m *Memory) Balance(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}
