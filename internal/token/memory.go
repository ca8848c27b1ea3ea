package token

import (
	"context"
	"sync"
)

// Memory is an in-process token ledger used in paper mode and in tests. It
// enforces the same balance rules the on-ledger token program does.
type Memory struct {
	mu       sync.Mutex
	balances map[string]map[string]uint64 // mint -> account -> amount
	supply   map[string]uint64
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]map[string]uint64),
		supply:   make(map[string]uint64),
	}
}

func (m *Memory) Mint(_ context.Context, mint, to string, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credit(mint, to, amount)
	m.supply[mint] += amount
	return nil
}

func (m *Memory) Burn(_ context.Context, mint, from string, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.debit(mint, from, amount); err != nil {
		return err
	}
	m.supply[mint] -= amount
	return nil
}

func (m *Memory) Transfer(_ context.Context, mint, from, to string, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.debit(mint, from, amount); err != nil {
		return err
	}
	m.credit(mint, to, amount)
	return nil
}

func (m *Memory) Balance(_ context.Context, mint, account string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[mint][account], nil
}

func (m *Memory) Supply(_ context.Context, mint string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supply[mint], nil
}

func (m *Memory) credit(mint, account string, amount uint64) {
	accts := m.balances[mint]
	if accts == nil {
		accts = make(map[string]uint64)
		m.balances[mint] = accts
	}
	accts[account] += amount
}

func (m *Memory) debit(mint, account string, amount uint64) error {
	accts := m.balances[mint]
	if accts == nil || accts[account] < amount {
		return ErrInsufficientBalance
	}
	accts[account] -= amount
	return nil
}
