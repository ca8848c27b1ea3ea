package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"epoch-vault/internal/derive"
	"epoch-vault/internal/epoch"
	"epoch-vault/internal/lending"
	"epoch-vault/internal/shares"
	"epoch-vault/internal/state"
	"epoch-vault/internal/token"
)

const testBase = int64(1_000_000)

func testSchedule() epoch.Schedule {
	return epoch.Schedule{
		StartEpoch:      testBase + 100,
		EndDeposits:     testBase + 200,
		StartAuction:    testBase + 300,
		EndAuction:      testBase + 400,
		StartSettlement: testBase + 500,
		EndEpoch:        testBase + 600,
		Cadence:         600,
	}
}

type harness struct {
	ctrl      *Controller
	clock     *clockwork.FakeClock
	tokens    *token.Memory
	protocols *PaperProtocols
	accounts  derive.Accounts
	params    Params
	name      string
	admin     string
	user      string
}

// flakyTokens rejects selected ledger calls so the compensation legs of
// deposit and withdraw can be driven. Everything else passes through.
type flakyTokens struct {
	token.Service
	failMint     string // mint address whose Mint calls are rejected
	failTransfer string // destination whose Transfer calls are rejected
}

func (f *flakyTokens) Mint(ctx context.Context, mint, to string, amount uint64) error {
	if f.failMint != "" && mint == f.failMint {
		return errors.New("mint rejected")
	}
	return f.Service.Mint(ctx, mint, to, amount)
}

func (f *flakyTokens) Transfer(ctx context.Context, mint, from, to string, amount uint64) error {
	if f.failTransfer != "" && to == f.failTransfer {
		return errors.New("transfer rejected")
	}
	return f.Service.Transfer(ctx, mint, from, to, amount)
}

func newHarness(t *testing.T, allocationBps uint64) *harness {
	t.Helper()
	h, _ := newFlakyHarness(t, allocationBps)
	return h
}

func newFlakyHarness(t *testing.T, allocationBps uint64) (*harness, *flakyTokens) {
	t.Helper()
	params := Params{
		Programs: derive.Programs{
			Vault:       solana.NewWallet().PublicKey(),
			Lending:     solana.NewWallet().PublicKey(),
			Derivatives: solana.NewWallet().PublicKey(),
		},
		Market:    solana.NewWallet().PublicKey(),
		Reserve:   solana.NewWallet().PublicKey(),
		Group:     solana.NewWallet().PublicKey(),
		AssetMint: solana.NewWallet().PublicKey().String(),
	}
	tokens := token.NewMemory()
	protocols := NewPaperProtocols(tokens, params.AssetMint)
	clock := clockwork.NewFakeClockAt(time.Unix(testBase, 0))
	flaky := &flakyTokens{Service: tokens}
	ctrl := NewController(params, flaky, protocols, state.NewMemory(), clock, zap.NewNop(), nil)

	h := &harness{
		ctrl:      ctrl,
		clock:     clock,
		tokens:    tokens,
		protocols: protocols,
		params:    params,
		name:      "basis-one",
		admin:     solana.NewWallet().PublicKey().String(),
		user:      solana.NewWallet().PublicKey().String(),
	}
	if _, err := ctrl.Initialize(context.Background(), h.name, h.admin, 0, allocationBps, testSchedule()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	accounts, _, err := derive.VaultAccounts(params.Programs, params.Market, params.Reserve, params.Group, h.name)
	if err != nil {
		t.Fatalf("derive accounts: %v", err)
	}
	h.accounts = accounts
	return h, flaky
}

func (h *harness) fund(t *testing.T, amount uint64) {
	t.Helper()
	if err := h.tokens.Mint(context.Background(), h.params.AssetMint, h.user, amount); err != nil {
		t.Fatalf("fund user: %v", err)
	}
}

func (h *harness) advanceTo(unix int64) {
	h.clock.Advance(time.Unix(unix, 0).Sub(h.clock.Now()))
}

func (h *harness) userClaims(t *testing.T) uint64 {
	t.Helper()
	userPk := solana.MustPublicKeyFromBase58(h.user)
	claimAcct, _, err := derive.UserRedeemable(h.params.Programs.Vault, h.name, userPk)
	if err != nil {
		t.Fatalf("derive claim account: %v", err)
	}
	bal, err := h.tokens.Balance(context.Background(), h.accounts.RedeemableMint.String(), claimAcct.String())
	if err != nil {
		t.Fatalf("claim balance: %v", err)
	}
	return bal
}

func (h *harness) userAsset(t *testing.T) uint64 {
	t.Helper()
	bal, err := h.tokens.Balance(context.Background(), h.params.AssetMint, h.user)
	if err != nil {
		t.Fatalf("asset balance: %v", err)
	}
	return bal
}

func TestInitializeRejectsDuplicate(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.ctrl.Initialize(context.Background(), h.name, h.admin, 0, 0, testSchedule())
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("duplicate initialize error = %v, want ErrAlreadyInitialized", err)
	}
}

func TestInitializeRejectsPastSchedule(t *testing.T) {
	h := newHarness(t, 0)
	past := testSchedule()
	past.StartEpoch = testBase - 700
	past.EndDeposits = testBase - 600
	past.StartAuction = testBase - 500
	past.EndAuction = testBase - 400
	past.StartSettlement = testBase - 300
	past.EndEpoch = testBase - 200
	_, err := h.ctrl.Initialize(context.Background(), "other", h.admin, 0, 0, past)
	if !errors.Is(err, epoch.ErrScheduleInvalid) {
		t.Fatalf("past schedule error = %v, want ErrScheduleInvalid", err)
	}
}

func TestDepositBootstrapMintsOneToOne(t *testing.T) {
	h := newHarness(t, 0)
	h.fund(t, 4000)
	h.advanceTo(testBase + 150)

	minted, err := h.ctrl.Deposit(context.Background(), h.name, h.user, 4000)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if minted != 4000 {
		t.Fatalf("minted = %d, want 4000", minted)
	}
	if got := h.userClaims(t); got != 4000 {
		t.Fatalf("claim balance = %d, want 4000", got)
	}
	rec, err := h.ctrl.Get(h.name)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Collateral != 4000 || rec.Supply != 4000 || rec.Liquid != 0 {
		t.Fatalf("record = liquid %d collateral %d supply %d", rec.Liquid, rec.Collateral, rec.Supply)
	}
}

func TestDepositOutsideWindow(t *testing.T) {
	h := newHarness(t, 0)
	h.fund(t, 100)

	for _, at := range []int64{testBase + 50, testBase + 200, testBase + 350, testBase + 550} {
		h.advanceTo(at)
		if _, err := h.ctrl.Deposit(context.Background(), h.name, h.user, 100); !errors.Is(err, ErrPhaseViolation) {
			t.Fatalf("deposit at %d error = %v, want ErrPhaseViolation", at, err)
		}
	}
	if got := h.userAsset(t); got != 100 {
		t.Fatalf("user balance = %d after rejected deposits, want 100", got)
	}
}

func TestDepositZeroAmount(t *testing.T) {
	h := newHarness(t, 0)
	h.advanceTo(testBase + 150)
	if _, err := h.ctrl.Deposit(context.Background(), h.name, h.user, 0); !errors.Is(err, shares.ErrZeroAmount) {
		t.Fatalf("zero deposit error = %v, want ErrZeroAmount", err)
	}
}

func TestDepositRemoteFailureRefundsUser(t *testing.T) {
	h := newHarness(t, 0)
	h.fund(t, 500)
	h.advanceTo(testBase + 150)
	h.protocols.Pool(h.accounts).FailNext(true, false)

	if _, err := h.ctrl.Deposit(context.Background(), h.name, h.user, 500); !errors.Is(err, lending.ErrCollateralCallFailed) {
		t.Fatalf("deposit error = %v, want ErrCollateralCallFailed", err)
	}
	if got := h.userAsset(t); got != 500 {
		t.Fatalf("user balance = %d after failed deposit, want 500", got)
	}
	if got := h.userClaims(t); got != 0 {
		t.Fatalf("claim balance = %d after failed deposit, want 0", got)
	}
	rec, _ := h.ctrl.Get(h.name)
	if rec.Supply != 0 || rec.Collateral != 0 {
		t.Fatalf("record changed after failed deposit: %+v", rec)
	}
}

func TestRoundTripReturnsPrincipal(t *testing.T) {
	h := newHarness(t, 0)
	h.fund(t, 4000)
	h.advanceTo(testBase + 150)
	if _, err := h.ctrl.Deposit(context.Background(), h.name, h.user, 4000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	h.advanceTo(testBase + 550)
	payout, err := h.ctrl.Withdraw(context.Background(), h.name, h.user, 4000)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if payout != 4000 {
		t.Fatalf("payout = %d, want 4000", payout)
	}
	if got := h.userAsset(t); got != 4000 {
		t.Fatalf("user balance = %d, want 4000", got)
	}
	rec, _ := h.ctrl.Get(h.name)
	if rec.Supply != 0 || rec.NAV() != 0 {
		t.Fatalf("record after full exit: supply %d nav %d", rec.Supply, rec.NAV())
	}
}

func TestFullCycleWithAuctionAndYield(t *testing.T) {
	h := newHarness(t, 5000)
	h.fund(t, 4000)
	h.advanceTo(testBase + 150)
	if _, err := h.ctrl.Deposit(context.Background(), h.name, h.user, 4000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	h.advanceTo(testBase + 350)
	posted, err := h.ctrl.StartAuction(context.Background(), h.name)
	if err != nil {
		t.Fatalf("start auction: %v", err)
	}
	if posted != 2000 {
		t.Fatalf("posted = %d, want 2000", posted)
	}
	rec, _ := h.ctrl.Get(h.name)
	if rec.Margin != 2000 || rec.Collateral != 2000 || rec.Liquid != 0 {
		t.Fatalf("after auction: liquid %d collateral %d margin %d", rec.Liquid, rec.Collateral, rec.Margin)
	}

	h.protocols.Exchange(h.accounts).ApplyPnL(100)

	h.advanceTo(testBase + 550)
	payout, err := h.ctrl.Withdraw(context.Background(), h.name, h.user, 4000)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if payout != 4100 {
		t.Fatalf("payout = %d, want 4100", payout)
	}
	if got := h.userAsset(t); got != 4100 {
		t.Fatalf("user balance = %d, want 4100", got)
	}
}

func TestStartAuctionOutsideWindow(t *testing.T) {
	h := newHarness(t, 5000)
	h.fund(t, 1000)
	h.advanceTo(testBase + 150)
	if _, err := h.ctrl.Deposit(context.Background(), h.name, h.user, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := h.ctrl.StartAuction(context.Background(), h.name); !errors.Is(err, ErrPhaseViolation) {
		t.Fatalf("start auction error = %v, want ErrPhaseViolation", err)
	}
}

func TestWithdrawHaltsWhenRecallFails(t *testing.T) {
	h := newHarness(t, 10000)
	h.fund(t, 1000)
	h.advanceTo(testBase + 150)
	if _, err := h.ctrl.Deposit(context.Background(), h.name, h.user, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	h.advanceTo(testBase + 350)
	if _, err := h.ctrl.StartAuction(context.Background(), h.name); err != nil {
		t.Fatalf("start auction: %v", err)
	}
	h.protocols.Exchange(h.accounts).FailNext(false, true)

	h.advanceTo(testBase + 550)
	if _, err := h.ctrl.Withdraw(context.Background(), h.name, h.user, 1000); !errors.Is(err, ErrVaultHalted) {
		t.Fatalf("withdraw error = %v, want ErrVaultHalted", err)
	}
	rec, _ := h.ctrl.Get(h.name)
	if !rec.Halted {
		t.Fatal("vault not halted after failed recall")
	}
	// Still blocked on the next attempt.
	if _, err := h.ctrl.Withdraw(context.Background(), h.name, h.user, 1000); !errors.Is(err, ErrVaultHalted) {
		t.Fatalf("second withdraw error = %v, want ErrVaultHalted", err)
	}

	if err := h.ctrl.Resume(context.Background(), h.name, h.user); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("resume by non-admin error = %v, want ErrNotAdmin", err)
	}
	h.protocols.Exchange(h.accounts).FailNext(false, false)
	if err := h.ctrl.Resume(context.Background(), h.name, h.admin); err != nil {
		t.Fatalf("resume: %v", err)
	}
	payout, err := h.ctrl.Withdraw(context.Background(), h.name, h.user, 1000)
	if err != nil {
		t.Fatalf("withdraw after resume: %v", err)
	}
	if payout != 1000 {
		t.Fatalf("payout = %d, want 1000", payout)
	}
}

func TestWithdrawInsufficientShares(t *testing.T) {
	h := newHarness(t, 0)
	h.fund(t, 100)
	h.advanceTo(testBase + 150)
	if _, err := h.ctrl.Deposit(context.Background(), h.name, h.user, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	h.advanceTo(testBase + 550)
	if _, err := h.ctrl.Withdraw(context.Background(), h.name, h.user, 101); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("withdraw error = %v, want ErrInsufficientShares", err)
	}
	rec, _ := h.ctrl.Get(h.name)
	if rec.Supply != 100 {
		t.Fatalf("supply = %d after rejected withdrawal, want 100", rec.Supply)
	}
}

func TestWithdrawPoolLiquidityExhausted(t *testing.T) {
	h := newHarness(t, 0)
	h.fund(t, 1000)
	h.advanceTo(testBase + 150)
	if _, err := h.ctrl.Deposit(context.Background(), h.name, h.user, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	h.protocols.Pool(h.accounts).SetLiquidity(300)

	h.advanceTo(testBase + 550)
	if _, err := h.ctrl.Withdraw(context.Background(), h.name, h.user, 1000); !errors.Is(err, lending.ErrInsufficientPoolLiquidity) {
		t.Fatalf("withdraw error = %v, want ErrInsufficientPoolLiquidity", err)
	}
	if got := h.userClaims(t); got != 1000 {
		t.Fatalf("claim balance = %d after rejected withdrawal, want 1000", got)
	}
}

func TestLendingYieldAccruesToNAV(t *testing.T) {
	h := newHarness(t, 0)
	h.fund(t, 1000)
	h.advanceTo(testBase + 150)
	if _, err := h.ctrl.Deposit(context.Background(), h.name, h.user, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	h.protocols.Pool(h.accounts).AccrueInterest(200)

	h.advanceTo(testBase + 550)
	payout, err := h.ctrl.Withdraw(context.Background(), h.name, h.user, 1000)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if payout != 1200 {
		t.Fatalf("payout = %d, want 1200", payout)
	}
}

func TestRollover(t *testing.T) {
	h := newHarness(t, 0)

	if _, err := h.ctrl.Rollover(context.Background(), h.name); !errors.Is(err, ErrCycleNotComplete) {
		t.Fatalf("early rollover error = %v, want ErrCycleNotComplete", err)
	}

	h.advanceTo(testBase + 650)
	rec, err := h.ctrl.Rollover(context.Background(), h.name)
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if rec.Cycle != 1 {
		t.Fatalf("cycle = %d, want 1", rec.Cycle)
	}
	want := testSchedule()
	if rec.Schedule.StartEpoch != want.StartEpoch+want.Cadence || rec.Schedule.EndEpoch != want.EndEpoch+want.Cadence {
		t.Fatalf("schedule not advanced by cadence: %+v", rec.Schedule)
	}
}

func TestWithdrawAfterCycleEndUnwindsMargin(t *testing.T) {
	h := newHarness(t, 10000)
	h.fund(t, 1000)
	h.advanceTo(testBase + 150)
	if _, err := h.ctrl.Deposit(context.Background(), h.name, h.user, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	h.advanceTo(testBase + 350)
	if _, err := h.ctrl.StartAuction(context.Background(), h.name); err != nil {
		t.Fatalf("start auction: %v", err)
	}

	// Past the cycle's end boundary the clock reads PRE_EPOCH.
	h.advanceTo(testBase + 650)
	payout, err := h.ctrl.Withdraw(context.Background(), h.name, h.user, 1000)
	if err != nil {
		t.Fatalf("withdraw after cycle end: %v", err)
	}
	if payout != 1000 {
		t.Fatalf("payout = %d, want 1000", payout)
	}
}

func TestConservationAcrossMixedSequence(t *testing.T) {
	h := newHarness(t, 2500)
	h.fund(t, 10_000)
	h.advanceTo(testBase + 150)
	ctx := context.Background()

	for _, amount := range []uint64{4000, 1, 999, 3000} {
		if _, err := h.ctrl.Deposit(ctx, h.name, h.user, amount); err != nil {
			t.Fatalf("deposit %d: %v", amount, err)
		}
	}
	h.advanceTo(testBase + 350)
	if _, err := h.ctrl.StartAuction(ctx, h.name); err != nil {
		t.Fatalf("start auction: %v", err)
	}
	h.advanceTo(testBase + 550)
	if _, err := h.ctrl.Withdraw(ctx, h.name, h.user, 2500); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	rec, _ := h.ctrl.Get(h.name)
	supply, _ := h.tokens.Supply(ctx, h.accounts.RedeemableMint.String())
	if supply != rec.Supply {
		t.Fatalf("claim supply %d, tracked %d", supply, rec.Supply)
	}
	liquid, _ := h.tokens.Balance(ctx, h.params.AssetMint, h.accounts.VaultUsdc.String())
	if diff(liquid, rec.Liquid) > invariantTolerance {
		t.Fatalf("liquid balance %d, tracked %d", liquid, rec.Liquid)
	}
}

func TestRestoreFromSnapshots(t *testing.T) {
	h := newHarness(t, 0)
	h.fund(t, 1000)
	h.advanceTo(testBase + 150)
	if _, err := h.ctrl.Deposit(context.Background(), h.name, h.user, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	store := h.ctrl.store
	rebuilt := NewController(h.params, h.tokens, h.protocols, store, h.clock, zap.NewNop(), nil)
	if err := rebuilt.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	rec, err := rebuilt.Get(h.name)
	if err != nil {
		t.Fatalf("get after restore: %v", err)
	}
	if rec.Supply != 1000 || rec.Collateral != 1000 {
		t.Fatalf("restored record: supply %d collateral %d", rec.Supply, rec.Collateral)
	}

	// The restored controller reattaches to the same simulated positions.
	h.advanceTo(testBase + 550)
	payout, err := rebuilt.Withdraw(context.Background(), h.name, h.user, 1000)
	if err != nil {
		t.Fatalf("withdraw on restored controller: %v", err)
	}
	if payout != 1000 {
		t.Fatalf("payout = %d, want 1000", payout)
	}
}

func TestDepositUnwindsOnClaimMintFailure(t *testing.T) {
	h, flaky := newFlakyHarness(t, 0)
	ctx := context.Background()
	h.fund(t, 500)
	h.advanceTo(testBase + 150)

	flaky.failMint = h.accounts.RedeemableMint.String()
	if _, err := h.ctrl.Deposit(ctx, h.name, h.user, 500); err == nil {
		t.Fatalf("expected deposit to fail when the claim mint is rejected")
	}
	if got := h.userAsset(t); got != 500 {
		t.Fatalf("user asset balance = %d after rejected deposit, want 500", got)
	}
	rec, err := h.ctrl.Get(h.name)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Supply != 0 || rec.Collateral != 0 || rec.Liquid != 0 || rec.Halted {
		t.Fatalf("vault record changed by rejected deposit: %+v", rec)
	}
	value, err := h.protocols.Pool(h.accounts).CollateralValue(ctx)
	if err != nil {
		t.Fatalf("collateral value: %v", err)
	}
	if value != 0 {
		t.Fatalf("pool holds %d after rejected deposit, want 0", value)
	}

	flaky.failMint = ""
	minted, err := h.ctrl.Deposit(ctx, h.name, h.user, 500)
	if err != nil {
		t.Fatalf("deposit after recovery: %v", err)
	}
	if minted != 500 {
		t.Fatalf("minted = %d, want 500", minted)
	}
}

func TestWithdrawRestoresClaimOnPayoutFailure(t *testing.T) {
	h, flaky := newFlakyHarness(t, 0)
	ctx := context.Background()
	h.fund(t, 4000)
	h.advanceTo(testBase + 150)
	if _, err := h.ctrl.Deposit(ctx, h.name, h.user, 4000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	h.advanceTo(testBase + 520)
	flaky.failTransfer = h.user
	if _, err := h.ctrl.Withdraw(ctx, h.name, h.user, 4000); err == nil {
		t.Fatalf("expected withdrawal to fail when the payout is rejected")
	}
	if got := h.userClaims(t); got != 4000 {
		t.Fatalf("user claim balance = %d after rejected withdrawal, want 4000", got)
	}
	rec, err := h.ctrl.Get(h.name)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Supply != 4000 || rec.Halted {
		t.Fatalf("vault record changed by rejected withdrawal: %+v", rec)
	}

	flaky.failTransfer = ""
	payout, err := h.ctrl.Withdraw(ctx, h.name, h.user, 4000)
	if err != nil {
		t.Fatalf("withdraw after recovery: %v", err)
	}
	if payout != 4000 {
		t.Fatalf("payout = %d, want 4000", payout)
	}
	if got := h.userAsset(t); got != 4000 {
		t.Fatalf("user asset balance = %d, want 4000", got)
	}
}
