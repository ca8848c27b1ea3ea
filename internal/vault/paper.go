package vault

import (
	"sync"

	"epoch-vault/internal/derive"
	"epoch-vault/internal/lending"
	"epoch-vault/internal/margin"
	"epoch-vault/internal/token"
)

// PaperProtocols simulates the lending market and derivatives exchange in
// process, with all balance movements applied to the shared token ledger.
// The same simulator is returned for the same derived account set, so a
// vault restored from a snapshot reattaches to its existing positions.
type PaperProtocols struct {
	tokens token.Service
	mint   string

	mu        sync.Mutex
	pools     map[string]*lending.Memory
	exchanges map[string]*margin.Memory
}

func NewPaperProtocols(tokens token.Service, assetMint string) *PaperProtocols {
	return &PaperProtocols{
		tokens:    tokens,
		mint:      assetMint,
		pools:     make(map[string]*lending.Memory),
		exchanges: make(map[string]*margin.Memory),
	}
}

func (p *PaperProtocols) Lending(acc derive.Accounts, _ derive.Bumps) lending.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := acc.Obligation.String()
	pool, ok := p.pools[key]
	if !ok {
		pool = lending.NewMemory()
		pool.Bind(p.tokens, p.mint, acc.VaultUsdc.String(), acc.DepositAccount.String())
		p.pools[key] = pool
	}
	return pool
}

func (p *PaperProtocols) Margin(acc derive.Accounts, _ derive.Bumps) margin.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := acc.MarginAccount.String()
	exch, ok := p.exchanges[key]
	if !ok {
		exch = margin.NewMemory()
		exch.Bind(p.tokens, p.mint, acc.VaultUsdc.String(), acc.MarginAccount.String())
		p.exchanges[key] = exch
	}
	return exch
}

// Pool returns the simulator behind a vault's obligation, for test setup.
func (p *PaperProtocols) Pool(acc derive.Accounts) *lending.Memory {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pools[acc.Obligation.String()]
}

// Exchange returns the simulator behind a vault's margin account.
func (p *PaperProtocols) Exchange(acc derive.Accounts) *margin.Memory {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchanges[acc.MarginAccount.String()]
}
