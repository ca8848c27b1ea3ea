package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"epoch-vault/internal/derive"
	"epoch-vault/internal/epoch"
	"epoch-vault/internal/lending"
	"epoch-vault/internal/margin"
	"epoch-vault/internal/metrics"
	"epoch-vault/internal/shares"
	"epoch-vault/internal/state"
	"epoch-vault/internal/token"
)

// Protocols builds the external protocol clients for one vault's derived
// account set. Paper mode returns in-process simulators; live mode returns
// clients that submit signed units to the ledger gateway.
type Protocols interface {
	Lending(acc derive.Accounts, bumps derive.Bumps) lending.Client
	Margin(acc derive.Accounts, bumps derive.Bumps) margin.Client
}

// Params fixes the programs and protocol accounts every vault under this
// controller derives against.
type Params struct {
	Programs  derive.Programs
	Market    solana.PublicKey
	Reserve   solana.PublicKey
	Group     solana.PublicKey
	AssetMint string
}

// invariantTolerance is the largest allowed gap, in base units, between
// tracked liquid balance and the balance the token ledger reports.
const invariantTolerance = 1

type instance struct {
	mu       sync.Mutex
	rec      Vault
	accounts derive.Accounts
	router   *lending.Router
	orch     *margin.Orchestrator
}

// Controller owns every vault in the process. Operations on one vault are
// serialized by a per-vault mutex; the ledger provides the real atomicity
// guarantee, the mutex only prevents this process from interleaving its own
// submissions.
type Controller struct {
	params    Params
	tokens    token.Service
	protocols Protocols
	store     state.Store
	clock     clockwork.Clock
	log       *zap.Logger
	metrics   *metrics.Metrics
	alerter   Alerter
	journal   Journal

	mu     sync.RWMutex
	vaults map[string]*instance
}

func NewController(params Params, tokens token.Service, protocols Protocols, store state.Store, clock clockwork.Clock, log *zap.Logger, m *metrics.Metrics) *Controller {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Controller{
		params:    params,
		tokens:    tokens,
		protocols: protocols,
		store:     store,
		clock:     clock,
		log:       log,
		metrics:   m,
		alerter:   noopAlerter{},
		journal:   noopJournal{},
		vaults:    make(map[string]*instance),
	}
}

// SetAlerter installs an operator notification channel.
func (c *Controller) SetAlerter(a Alerter) {
	if a != nil {
		c.alerter = a
	}
}

// SetJournal installs an operation journal.
func (c *Controller) SetJournal(j Journal) {
	if j != nil {
		c.journal = j
	}
}

// Restore rebuilds the in-memory vault set from persisted snapshots.
func (c *Controller) Restore(ctx context.Context) error {
	names, err := ListSnapshots(ctx, c.store)
	if err != nil {
		return fmt.Errorf("list vault snapshots: %w", err)
	}
	for _, name := range names {
		rec, ok, err := LoadSnapshot(ctx, c.store, name)
		if err != nil {
			return fmt.Errorf("load vault %q: %w", name, err)
		}
		if !ok {
			continue
		}
		inst, err := c.newInstance(rec)
		if err != nil {
			return fmt.Errorf("restore vault %q: %w", name, err)
		}
		c.mu.Lock()
		c.vaults[name] = inst
		c.mu.Unlock()
		c.log.Info("vault restored",
			zap.String("vault", name),
			zap.Uint64("cycle", rec.Cycle),
			zap.Bool("halted", rec.Halted))
	}
	return nil
}

func (c *Controller) newInstance(rec Vault) (*instance, error) {
	accounts, _, err := derive.VaultAccounts(c.params.Programs, c.params.Market, c.params.Reserve, c.params.Group, rec.Name)
	if err != nil {
		return nil, err
	}
	lendClient := c.protocols.Lending(accounts, rec.Bumps)
	margClient := c.protocols.Margin(accounts, rec.Bumps)
	return &instance{
		rec:      rec,
		accounts: accounts,
		router:   lending.NewRouter(lendClient, c.log.Named("lending").With(zap.String("vault", rec.Name))),
		orch:     margin.NewOrchestrator(margClient, c.log.Named("margin").With(zap.String("vault", rec.Name))),
	}, nil
}

// Initialize creates a named vault with its epoch schedule. The schedule
// must validate and start in the future; the name must be unused.
func (c *Controller) Initialize(ctx context.Context, name, admin string, initialLamports, allocationBps uint64, schedule epoch.Schedule) (Vault, error) {
	if err := schedule.Validate(); err != nil {
		return Vault{}, err
	}
	now := c.clock.Now()
	if schedule.StartEpoch <= now.Unix() {
		return Vault{}, fmt.Errorf("%w: start_epoch must be in the future", epoch.ErrScheduleInvalid)
	}
	if allocationBps > 10000 {
		return Vault{}, fmt.Errorf("allocation_bps %d exceeds 10000", allocationBps)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.vaults[name]; ok {
		return Vault{}, ErrAlreadyInitialized
	}
	if _, ok, err := LoadSnapshot(ctx, c.store, name); err != nil {
		return Vault{}, err
	} else if ok {
		return Vault{}, ErrAlreadyInitialized
	}

	_, bumps, err := derive.VaultAccounts(c.params.Programs, c.params.Market, c.params.Reserve, c.params.Group, name)
	if err != nil {
		return Vault{}, err
	}
	rec := Vault{
		Name:            name,
		Admin:           admin,
		AllocationBps:   allocationBps,
		InitialLamports: initialLamports,
		Schedule:        schedule,
		Bumps:           bumps,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	inst, err := c.newInstance(rec)
	if err != nil {
		return Vault{}, err
	}
	if err := SaveSnapshot(ctx, c.store, rec); err != nil {
		return Vault{}, err
	}
	c.vaults[name] = inst
	c.log.Info("vault initialized",
		zap.String("vault", name),
		zap.String("admin", admin),
		zap.Uint64("allocation_bps", allocationBps),
		zap.Int64("start_epoch", schedule.StartEpoch))
	return rec, nil
}

// Get returns a copy of the named vault's record.
func (c *Controller) Get(name string) (Vault, error) {
	inst, err := c.lookup(name)
	if err != nil {
		return Vault{}, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.rec, nil
}

// List returns the names of every vault the controller holds.
func (c *Controller) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.vaults))
	for name := range c.vaults {
		names = append(names, name)
	}
	return names
}

func (c *Controller) lookup(name string) (*instance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.vaults[name]
	if !ok {
		return nil, ErrNotFound
	}
	return inst, nil
}

// Deposit takes amount of the pooled asset from the user, posts it as
// collateral on the lending market, and mints claim tokens at the current
// exchange rate. Claim tokens are minted only after the collateral deposit
// is confirmed.
func (c *Controller) Deposit(ctx context.Context, name, user string, amount uint64) (uint64, error) {
	inst, err := c.lookup(name)
	if err != nil {
		return 0, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	rec := &inst.rec

	now := c.clock.Now()
	phase, err := rec.Schedule.PhaseAt(now)
	if err != nil {
		return 0, err
	}
	if phase != epoch.PhaseDepositsOpen {
		c.metrics.PhaseViolations.Inc()
		return 0, fmt.Errorf("%w: deposit in %s", ErrPhaseViolation, phase)
	}
	if amount == 0 {
		return 0, shares.ErrZeroAmount
	}

	userPk, err := solana.PublicKeyFromBase58(user)
	if err != nil {
		return 0, fmt.Errorf("bad user address %q: %w", user, err)
	}
	claimAcct, _, err := derive.UserRedeemable(c.params.Programs.Vault, name, userPk)
	if err != nil {
		return 0, err
	}

	if err := c.refreshCollateral(ctx, inst); err != nil {
		return 0, err
	}
	// Exchange rate is fixed before any balance moves so the minted amount
	// reflects the pre-deposit NAV.
	minted, err := shares.Issue(amount, rec.NAV(), rec.Supply)
	if err != nil {
		return 0, err
	}

	vaultAcct := inst.accounts.VaultUsdc.String()
	if err := c.tokens.Transfer(ctx, c.params.AssetMint, user, vaultAcct, amount); err != nil {
		return 0, fmt.Errorf("transfer in: %w", err)
	}
	if err := inst.router.EnsureObligation(ctx); err != nil {
		c.metrics.CollateralCallFailed.Inc()
		c.compensateTransferIn(ctx, vaultAcct, user, amount)
		return 0, err
	}
	notes, err := inst.router.PostCollateral(ctx, amount)
	if err != nil {
		c.metrics.CollateralCallFailed.Inc()
		c.compensateTransferIn(ctx, vaultAcct, user, amount)
		return 0, err
	}
	claimMint := inst.accounts.RedeemableMint.String()
	if err := c.tokens.Mint(ctx, claimMint, claimAcct.String(), minted); err != nil {
		// Collateral already posted; pull it back out before refunding so
		// the rejected deposit leaves nothing stranded in the pool.
		if werr := inst.router.WithdrawCollateral(ctx, amount); werr != nil {
			c.metrics.CollateralCallFailed.Inc()
			c.halt(ctx, inst, fmt.Sprintf("deposit unwind failed: %v", werr))
			return 0, fmt.Errorf("%w: mint claim: %v", ErrVaultHalted, err)
		}
		c.compensateTransferIn(ctx, vaultAcct, user, amount)
		return 0, fmt.Errorf("mint claim: %w", err)
	}

	rec.Collateral += amount
	rec.CollateralNotes += notes
	rec.Supply += minted
	rec.UpdatedAt = now

	if err := c.commit(ctx, inst, "deposit"); err != nil {
		return 0, err
	}
	c.metrics.Deposits.Inc()
	c.journal.Record(Event{
		Vault: name, Op: "deposit", Amount: amount, Shares: minted,
		NAV: rec.NAV(), Supply: rec.Supply, Cycle: rec.Cycle, At: now,
	})
	c.log.Info("deposit accepted",
		zap.String("vault", name),
		zap.String("user", user),
		zap.Uint64("amount", amount),
		zap.Uint64("shares", minted),
		zap.Uint64("note_delta", notes))
	return minted, nil
}

// compensateTransferIn undoes the local transfer-in after a remote failure
// so the user's balance is exactly as before the call.
func (c *Controller) compensateTransferIn(ctx context.Context, vaultAcct, user string, amount uint64) {
	if err := c.tokens.Transfer(ctx, c.params.AssetMint, vaultAcct, user, amount); err != nil {
		c.log.Error("compensating transfer failed",
			zap.String("user", user),
			zap.Uint64("amount", amount),
			zap.Error(err))
	}
}

// Withdraw burns sharesBurned of the user's claim tokens and pays out the
// corresponding share of NAV. Margin is recalled in full before the first
// withdrawal of the settlement window; collateral is recalled only as far
// as needed to cover the payout.
func (c *Controller) Withdraw(ctx context.Context, name, user string, sharesBurned uint64) (uint64, error) {
	inst, err := c.lookup(name)
	if err != nil {
		return 0, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	rec := &inst.rec

	if rec.Halted {
		return 0, fmt.Errorf("%w: %s", ErrVaultHalted, rec.HaltReason)
	}
	now := c.clock.Now()
	phase, err := rec.Schedule.PhaseAt(now)
	if err != nil {
		return 0, err
	}
	ended := rec.Schedule.Ended(now)
	if phase != epoch.PhaseSettlement && !(phase == epoch.PhasePreEpoch && ended) {
		c.metrics.PhaseViolations.Inc()
		return 0, fmt.Errorf("%w: withdraw in %s", ErrPhaseViolation, phase)
	}
	if sharesBurned == 0 {
		return 0, shares.ErrZeroAmount
	}

	if rec.Margin > 0 {
		recalled, err := inst.orch.RecallAll(ctx, phase, ended)
		if err != nil {
			c.metrics.MarginCallFailed.Inc()
			c.halt(ctx, inst, fmt.Sprintf("margin recall failed: %v", err))
			return 0, fmt.Errorf("%w: %v", ErrVaultHalted, err)
		}
		rec.Liquid += recalled
		rec.Margin = 0
		c.metrics.MarginRecalls.Inc()
	}

	userPk, err := solana.PublicKeyFromBase58(user)
	if err != nil {
		return 0, fmt.Errorf("bad user address %q: %w", user, err)
	}
	claimAcct, _, err := derive.UserRedeemable(c.params.Programs.Vault, name, userPk)
	if err != nil {
		return 0, err
	}
	claimMint := inst.accounts.RedeemableMint.String()
	held, err := c.tokens.Balance(ctx, claimMint, claimAcct.String())
	if err != nil {
		return 0, err
	}
	if held < sharesBurned {
		return 0, fmt.Errorf("%w: hold %d, asked %d", ErrInsufficientShares, held, sharesBurned)
	}

	if err := c.refreshCollateral(ctx, inst); err != nil {
		return 0, err
	}
	payout, err := shares.Redeem(sharesBurned, rec.NAV(), rec.Supply)
	if err != nil {
		return 0, err
	}

	if payout > rec.Liquid {
		shortfall := payout - rec.Liquid
		if shortfall > rec.Collateral {
			return 0, lending.ErrInsufficientPoolLiquidity
		}
		if err := inst.router.WithdrawCollateral(ctx, shortfall); err != nil {
			c.metrics.CollateralCallFailed.Inc()
			return 0, err
		}
		rec.Collateral -= shortfall
		rec.Liquid += shortfall
	}

	if err := c.tokens.Burn(ctx, claimMint, claimAcct.String(), sharesBurned); err != nil {
		return 0, fmt.Errorf("burn claim: %w", err)
	}
	vaultAcct := inst.accounts.VaultUsdc.String()
	if err := c.tokens.Transfer(ctx, c.params.AssetMint, vaultAcct, user, payout); err != nil {
		// Re-mint the burned claim so the rejected withdrawal does not
		// transfer the user's share of NAV to the remaining holders.
		if merr := c.tokens.Mint(ctx, claimMint, claimAcct.String(), sharesBurned); merr != nil {
			c.halt(ctx, inst, fmt.Sprintf("withdraw unwind failed: %v", merr))
			return 0, fmt.Errorf("%w: pay out: %v", ErrVaultHalted, err)
		}
		return 0, fmt.Errorf("pay out: %w", err)
	}
	rec.Liquid -= payout
	rec.Supply -= sharesBurned
	rec.UpdatedAt = now

	if err := c.commit(ctx, inst, "withdraw"); err != nil {
		return 0, err
	}
	c.metrics.Withdrawals.Inc()
	c.journal.Record(Event{
		Vault: name, Op: "withdraw", Amount: payout, Shares: sharesBurned,
		NAV: rec.NAV(), Supply: rec.Supply, Cycle: rec.Cycle, At: now,
	})
	c.log.Info("withdrawal paid",
		zap.String("vault", name),
		zap.String("user", user),
		zap.Uint64("shares", sharesBurned),
		zap.Uint64("payout", payout))
	return payout, nil
}

// StartAuction moves the configured fraction of NAV onto the derivatives
// exchange. Only legal while the auction window is live.
func (c *Controller) StartAuction(ctx context.Context, name string) (uint64, error) {
	inst, err := c.lookup(name)
	if err != nil {
		return 0, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	rec := &inst.rec

	if rec.Halted {
		return 0, fmt.Errorf("%w: %s", ErrVaultHalted, rec.HaltReason)
	}
	now := c.clock.Now()
	phase, err := rec.Schedule.PhaseAt(now)
	if err != nil {
		return 0, err
	}
	if phase != epoch.PhaseAuctionLive {
		c.metrics.PhaseViolations.Inc()
		return 0, fmt.Errorf("%w: start auction in %s", ErrPhaseViolation, phase)
	}

	if err := c.refreshCollateral(ctx, inst); err != nil {
		return 0, err
	}
	amount := rec.NAV() / 10000 * rec.AllocationBps
	if rem := rec.NAV() % 10000; rem > 0 {
		amount += rem * rec.AllocationBps / 10000
	}
	if amount == 0 {
		return 0, nil
	}

	if err := inst.orch.EnsureAccount(ctx); err != nil {
		c.metrics.MarginCallFailed.Inc()
		return 0, err
	}
	if amount > rec.Liquid {
		shortfall := amount - rec.Liquid
		if shortfall > rec.Collateral {
			return 0, lending.ErrInsufficientPoolLiquidity
		}
		if err := inst.router.WithdrawCollateral(ctx, shortfall); err != nil {
			c.metrics.CollateralCallFailed.Inc()
			return 0, err
		}
		rec.Collateral -= shortfall
		rec.Liquid += shortfall
	}
	if err := inst.orch.Post(ctx, phase, amount); err != nil {
		c.metrics.MarginCallFailed.Inc()
		return 0, err
	}
	rec.Liquid -= amount
	rec.Margin += amount
	rec.UpdatedAt = now

	if err := c.commit(ctx, inst, "start_auction"); err != nil {
		return 0, err
	}
	c.journal.Record(Event{
		Vault: name, Op: "start_auction", Amount: amount,
		NAV: rec.NAV(), Supply: rec.Supply, Cycle: rec.Cycle, At: now,
	})
	c.log.Info("auction funded",
		zap.String("vault", name),
		zap.Uint64("amount", amount),
		zap.Uint64("allocation_bps", rec.AllocationBps))
	return amount, nil
}

// Rollover advances the schedule to the next cycle. The current cycle must
// have ended and all margin must be back in the vault.
func (c *Controller) Rollover(ctx context.Context, name string) (Vault, error) {
	inst, err := c.lookup(name)
	if err != nil {
		return Vault{}, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	rec := &inst.rec

	if rec.Halted {
		return Vault{}, fmt.Errorf("%w: %s", ErrVaultHalted, rec.HaltReason)
	}
	now := c.clock.Now()
	if !rec.Schedule.Ended(now) {
		return Vault{}, ErrCycleNotComplete
	}
	if rec.Margin > 0 {
		recalled, err := inst.orch.RecallAll(ctx, epoch.PhasePreEpoch, true)
		if err != nil {
			c.metrics.MarginCallFailed.Inc()
			c.halt(ctx, inst, fmt.Sprintf("margin recall failed: %v", err))
			return Vault{}, fmt.Errorf("%w: %v", ErrVaultHalted, err)
		}
		rec.Liquid += recalled
		rec.Margin = 0
		c.metrics.MarginRecalls.Inc()
	}

	rec.Schedule = rec.Schedule.Next()
	rec.Cycle++
	rec.UpdatedAt = now

	if err := c.commit(ctx, inst, "rollover"); err != nil {
		return Vault{}, err
	}
	c.metrics.Rollovers.Inc()
	c.journal.Record(Event{
		Vault: name, Op: "rollover",
		NAV: rec.NAV(), Supply: rec.Supply, Cycle: rec.Cycle, At: now,
	})
	c.log.Info("epoch rolled over",
		zap.String("vault", name),
		zap.Uint64("cycle", rec.Cycle),
		zap.Int64("start_epoch", rec.Schedule.StartEpoch))
	return *rec, nil
}

// Resume clears the halted flag. Admin only; to be called once the stuck
// margin has been manually resolved on the exchange.
func (c *Controller) Resume(ctx context.Context, name, caller string) error {
	inst, err := c.lookup(name)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	rec := &inst.rec

	if caller != rec.Admin {
		return ErrNotAdmin
	}
	if !rec.Halted {
		return nil
	}
	rec.Halted = false
	rec.HaltReason = ""
	rec.UpdatedAt = c.clock.Now()
	if err := SaveSnapshot(ctx, c.store, *rec); err != nil {
		return err
	}
	c.log.Warn("vault resumed by admin", zap.String("vault", name), zap.String("admin", caller))
	return nil
}

func (c *Controller) refreshCollateral(ctx context.Context, inst *instance) error {
	if inst.rec.CollateralNotes == 0 && inst.rec.Collateral == 0 {
		return nil
	}
	value, err := inst.router.CollateralValue(ctx)
	if err != nil {
		return err
	}
	inst.rec.Collateral = value
	return nil
}

// commit runs the conservation check and persists the record. A failed
// check halts the vault; a correct build can never reach that branch.
func (c *Controller) commit(ctx context.Context, inst *instance, op string) error {
	rec := &inst.rec
	if err := c.checkInvariant(ctx, inst); err != nil {
		c.metrics.InvariantBreaches.Inc()
		c.halt(ctx, inst, fmt.Sprintf("invariant violated after %s: %v", op, err))
		return err
	}
	return SaveSnapshot(ctx, c.store, *rec)
}

func (c *Controller) checkInvariant(ctx context.Context, inst *instance) error {
	rec := &inst.rec
	claimMint := inst.accounts.RedeemableMint.String()
	supply, err := c.tokens.Supply(ctx, claimMint)
	if err != nil {
		return fmt.Errorf("%w: read claim supply: %v", ErrInvariantViolated, err)
	}
	if supply != rec.Supply {
		return fmt.Errorf("%w: claim supply %d, tracked %d", ErrInvariantViolated, supply, rec.Supply)
	}
	liquid, err := c.tokens.Balance(ctx, c.params.AssetMint, inst.accounts.VaultUsdc.String())
	if err != nil {
		return fmt.Errorf("%w: read liquid balance: %v", ErrInvariantViolated, err)
	}
	if diff(liquid, rec.Liquid) > invariantTolerance {
		return fmt.Errorf("%w: liquid balance %d, tracked %d", ErrInvariantViolated, liquid, rec.Liquid)
	}
	return nil
}

func (c *Controller) halt(ctx context.Context, inst *instance, reason string) {
	rec := &inst.rec
	rec.Halted = true
	rec.HaltReason = reason
	if err := SaveSnapshot(ctx, c.store, *rec); err != nil {
		c.log.Error("persisting halted vault failed", zap.String("vault", rec.Name), zap.Error(err))
	}
	c.metrics.VaultsHalted.Inc()
	c.alerter.Alert(fmt.Sprintf("vault %s halted: %s", rec.Name, reason))
	c.log.Error("vault halted", zap.String("vault", rec.Name), zap.String("reason", reason))
}

func diff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
