// Package vault sequences deposits, withdrawals, auction funding, and epoch
// rollover for named vaults, and enforces the conservation invariant after
// every state-changing operation.
package vault

import (
	"time"

	"epoch-vault/internal/derive"
	"epoch-vault/internal/epoch"
)

// Vault is the persistent record for one vault. Derived account addresses
// are recomputed from the name on load and never stored; only the bumps
// are kept because signed calls must replay them.
type Vault struct {
	Name            string         `json:"name"`
	Admin           string         `json:"admin"`
	AllocationBps   uint64         `json:"allocation_bps"`
	InitialLamports uint64         `json:"initial_lamports"`
	Schedule        epoch.Schedule `json:"schedule"`
	Bumps           derive.Bumps   `json:"bumps"`
	Cycle           uint64         `json:"cycle"`

	// Tracked accounting, in base units of the pooled asset.
	Liquid          uint64 `json:"liquid"`
	Collateral      uint64 `json:"collateral"`
	CollateralNotes uint64 `json:"collateral_notes"`
	Margin          uint64 `json:"margin"`
	Supply          uint64 `json:"supply"`

	Halted     bool   `json:"halted"`
	HaltReason string `json:"halt_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NAV is the vault's net asset value: everything the claim supply is a
// claim against, wherever it currently sits.
func (v *Vault) NAV() uint64 {
	return v.Liquid + v.Collateral + v.Margin
}

// Event is one journaled vault operation.
type Event struct {
	Vault  string
	Op     string
	Amount uint64
	Shares uint64
	NAV    uint64
	Supply uint64
	Cycle  uint64
	At     time.Time
}

// Journal receives completed operations for asynchronous recording. It
// must never block the operation path.
type Journal interface {
	Record(e Event)
}

// Alerter pushes operator-facing notifications for halt events.
type Alerter interface {
	Alert(msg string)
}

type noopJournal struct{}

func (noopJournal) Record(Event) {}

type noopAlerter struct{}

func (noopAlerter) Alert(string) {}
