package pool_test

import (
	"errors"
	"testing"

	"ParaCover/internal/asset"
	"ParaCover/internal/ledger"
	"ParaCover/internal/pool"

	"github.com/google/uuid"
)

var (
	issuer   = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	poolAcct = uuid.MustParse("550e8400-e29b-41d4-a716-446655440001")
)

// newTestPool builds a pool over a fresh in-memory asset ledger. Returned
// mint funds an identity and approves the pool account to pull from it.
func newTestPool(t *testing.T) (*pool.CapitalPool, *asset.MemoryLedger, func(id uuid.UUID, amount uint64)) {
	t.Helper()

	assets := asset.NewMemoryLedger("USDC", issuer)
	p, err := pool.New(pool.Config{
		Owner:   issuer,
		Account: poolAcct,
		Assets:  assets,
	})
	if err != nil {
		t.Fatalf("pool.New failed: %v", err)
	}

	mint := func(id uuid.UUID, amount uint64) {
		t.Helper()
		if err := assets.Mint(issuer, id, amount); err != nil {
			t.Fatalf("mint failed: %v", err)
		}
		if err := assets.Approve(id, poolAcct, asset.InfiniteAllowance); err != nil {
			t.Fatalf("approve failed: %v", err)
		}
	}
	return p, assets, mint
}

// ============================================================================
// Test: Deposit / Mint
// ============================================================================

func TestDeposit_FirstDepositMintsOneToOne(t *testing.T) {
	p, assets, mint := newTestPool(t)
	alice := uuid.New()
	mint(alice, 1_000)

	shares, err := p.Deposit(alice, 1_000, alice)
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if shares != 1_000 {
		t.Errorf("first deposit of 1_000 should mint 1_000 shares, got %d", shares)
	}
	if p.TotalAssets() != 1_000 || p.TotalShares() != 1_000 {
		t.Errorf("totals: got assets=%d shares=%d, want 1_000/1_000", p.TotalAssets(), p.TotalShares())
	}
	if p.SharesOf(alice) != 1_000 {
		t.Errorf("alice should hold 1_000 shares, got %d", p.SharesOf(alice))
	}
	if assets.BalanceOf(poolAcct) != 1_000 {
		t.Errorf("pool account should hold 1_000 assets, got %d", assets.BalanceOf(poolAcct))
	}
	if assets.BalanceOf(alice) != 0 {
		t.Errorf("alice should hold 0 assets after deposit, got %d", assets.BalanceOf(alice))
	}
}

func TestDeposit_FloorsSharesWhenPriceAboveOne(t *testing.T) {
	p, _, mint := newTestPool(t)
	bob := uuid.New()
	mint(bob, 100)

	// Retained premiums push the share price above 1: 1_500 assets back
	// 1_200 shares, so a deposit converts at 0.8 shares per asset.
	alice := uuid.New()
	p.RestoreState(1_500, 1_200, map[uuid.UUID]uint64{alice: 1_200})

	shares, err := p.Deposit(bob, 100, bob)
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if shares != 80 {
		t.Errorf("100 assets at 1_200/1_500 floors to 80 shares, got %d", shares)
	}
	// 99 would floor to 79.2 → 79; the fractional remainder stays with the pool.
	mint(alice, 99)
	shares, err = p.Deposit(alice, 99, alice)
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if shares != 79 {
		t.Errorf("99 assets at the same rate floors to 79 shares, got %d", shares)
	}
}

func TestDeposit_ZeroAmountRejected(t *testing.T) {
	p, _, mint := newTestPool(t)
	alice := uuid.New()
	mint(alice, 100)

	_, err := p.Deposit(alice, 0, alice)
	if !errors.Is(err, ledger.ErrInvalidInput) {
		t.Errorf("zero deposit should be ErrInvalidInput, got %v", err)
	}
}

func TestDeposit_InsufficientBalanceLeavesPoolUntouched(t *testing.T) {
	p, assets, mint := newTestPool(t)
	alice := uuid.New()
	mint(alice, 50)

	_, err := p.Deposit(alice, 100, alice)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	if p.TotalAssets() != 0 || p.TotalShares() != 0 {
		t.Errorf("failed deposit should not change totals: assets=%d shares=%d", p.TotalAssets(), p.TotalShares())
	}
	if assets.BalanceOf(alice) != 50 {
		t.Errorf("alice balance should be untouched, got %d", assets.BalanceOf(alice))
	}
}

func TestMint_PullsCeilingAssets(t *testing.T) {
	p, assets, mint := newTestPool(t)
	alice := uuid.New()
	mint(alice, 1_000)

	paid, err := p.Mint(alice, 400, alice)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if paid != 400 {
		t.Errorf("bootstrap mint of 400 shares should cost 400 assets, got %d", paid)
	}
	if p.SharesOf(alice) != 400 {
		t.Errorf("alice should hold exactly 400 shares, got %d", p.SharesOf(alice))
	}
	if assets.BalanceOf(alice) != 600 {
		t.Errorf("alice should have 600 assets left, got %d", assets.BalanceOf(alice))
	}
}

// ============================================================================
// Test: Withdraw / Redeem
// ============================================================================

func TestWithdraw_BurnsCeilingShares(t *testing.T) {
	p, assets, mint := newTestPool(t)
	alice := uuid.New()
	mint(alice, 1_000)

	if _, err := p.Deposit(alice, 1_000, alice); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	burned, err := p.Withdraw(alice, 300, alice, alice)
	if err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if burned != 300 {
		t.Errorf("withdrawing 300 at price 1 burns 300 shares, got %d", burned)
	}
	if assets.BalanceOf(alice) != 300 {
		t.Errorf("alice should have received 300 assets, got %d", assets.BalanceOf(alice))
	}
	if p.TotalAssets() != 700 || p.TotalShares() != 700 {
		t.Errorf("totals after withdraw: assets=%d shares=%d, want 700/700", p.TotalAssets(), p.TotalShares())
	}
}

func TestRedeem_PaysFlooredAssets(t *testing.T) {
	p, assets, mint := newTestPool(t)
	alice := uuid.New()
	mint(alice, 1_000)

	if _, err := p.Deposit(alice, 1_000, alice); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	paid, err := p.Redeem(alice, 250, alice, alice)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if paid != 250 {
		t.Errorf("redeeming 250 shares at price 1 pays 250 assets, got %d", paid)
	}
	if assets.BalanceOf(alice) != 250 {
		t.Errorf("alice should have 250 assets, got %d", assets.BalanceOf(alice))
	}
}

func TestWithdraw_MoreThanOwnedFails(t *testing.T) {
	p, _, mint := newTestPool(t)
	alice := uuid.New()
	mint(alice, 500)

	if _, err := p.Deposit(alice, 500, alice); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	_, err := p.Withdraw(alice, 501, alice, alice)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	if p.TotalShares() != 500 {
		t.Errorf("failed withdraw should not burn shares, got %d", p.TotalShares())
	}
}

func TestDepositWithdraw_RoundTripNeverProfits(t *testing.T) {
	p, assets, mint := newTestPool(t)
	alice := uuid.New()
	bob := uuid.New()
	mint(alice, 1_000)
	mint(bob, 777)

	if _, err := p.Deposit(alice, 1_000, alice); err != nil {
		t.Fatalf("seed deposit failed: %v", err)
	}
	shares, err := p.Deposit(bob, 777, bob)
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if _, err := p.Redeem(bob, shares, bob, bob); err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if assets.BalanceOf(bob) > 777 {
		t.Errorf("round trip must not profit: started 777, ended %d", assets.BalanceOf(bob))
	}
}

// ============================================================================
// Test: Share allowances
// ============================================================================

func TestWithdraw_ThirdPartyRequiresAllowance(t *testing.T) {
	p, _, mint := newTestPool(t)
	alice := uuid.New()
	carol := uuid.New()
	mint(alice, 1_000)

	if _, err := p.Deposit(alice, 1_000, alice); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	_, err := p.Withdraw(carol, 100, carol, alice)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("withdraw without allowance should fail, got %v", err)
	}

	if err := p.ApproveShares(alice, carol, 150); err != nil {
		t.Fatalf("ApproveShares failed: %v", err)
	}
	if _, err := p.Withdraw(carol, 100, carol, alice); err != nil {
		t.Fatalf("approved withdraw failed: %v", err)
	}
	if got := p.ShareAllowance(alice, carol); got != 50 {
		t.Errorf("allowance should be decremented to 50, got %d", got)
	}

	_, err = p.Withdraw(carol, 100, carol, alice)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("withdraw beyond remaining allowance should fail, got %v", err)
	}
}

func TestWithdraw_InfiniteAllowanceNeverDecrements(t *testing.T) {
	p, _, mint := newTestPool(t)
	alice := uuid.New()
	carol := uuid.New()
	mint(alice, 1_000)

	if _, err := p.Deposit(alice, 1_000, alice); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := p.ApproveShares(alice, carol, asset.InfiniteAllowance); err != nil {
		t.Fatalf("ApproveShares failed: %v", err)
	}
	if _, err := p.Withdraw(carol, 400, carol, alice); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if got := p.ShareAllowance(alice, carol); got != asset.InfiniteAllowance {
		t.Errorf("infinite allowance should not decrement, got %d", got)
	}
}

// ============================================================================
// Test: Authorized paths
// ============================================================================

func TestAuthorizedDeposit_RequiresCapability(t *testing.T) {
	p, _, _ := newTestPool(t)
	controller := uuid.New()

	_, err := p.AuthorizedDeposit(controller, 50)
	if !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	if err := p.SetAuthorizedDepositor(issuer, controller, true); err != nil {
		t.Fatalf("SetAuthorizedDepositor failed: %v", err)
	}
	shares, err := p.AuthorizedDeposit(controller, 50)
	if err != nil {
		t.Fatalf("AuthorizedDeposit failed: %v", err)
	}
	if shares != 50 {
		t.Errorf("bootstrap authorized deposit mints 1:1, got %d", shares)
	}
	if p.SharesOf(controller) != 50 {
		t.Errorf("controller should hold 50 shares, got %d", p.SharesOf(controller))
	}
}

func TestAuthorizedWithdraw_BurnsFromCallerOnly(t *testing.T) {
	p, _, _ := newTestPool(t)
	controller := uuid.New()

	if err := p.SetAuthorizedDepositor(issuer, controller, true); err != nil {
		t.Fatalf("SetAuthorizedDepositor failed: %v", err)
	}
	if _, err := p.AuthorizedDeposit(controller, 200); err != nil {
		t.Fatalf("AuthorizedDeposit failed: %v", err)
	}

	burned, err := p.AuthorizedWithdraw(controller, 120)
	if err != nil {
		t.Fatalf("AuthorizedWithdraw failed: %v", err)
	}
	if burned != 120 {
		t.Errorf("expected 120 shares burned, got %d", burned)
	}
	if p.SharesOf(controller) != 80 {
		t.Errorf("controller should hold 80 shares, got %d", p.SharesOf(controller))
	}

	_, err = p.AuthorizedWithdraw(controller, 200)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("drawing more than the pool holds should fail, got %v", err)
	}
}

func TestAuthorizedWithdraw_ReversalRestoresAccounting(t *testing.T) {
	p, _, mint := newTestPool(t)
	controller := uuid.New()
	lp := uuid.New()
	mint(lp, 800)

	if _, err := p.Deposit(lp, 800, lp); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := p.SetAuthorizedDepositor(issuer, controller, true); err != nil {
		t.Fatalf("SetAuthorizedDepositor failed: %v", err)
	}
	if _, err := p.AuthorizedDeposit(controller, 50); err != nil {
		t.Fatalf("AuthorizedDeposit failed: %v", err)
	}

	burned, err := p.AuthorizedWithdraw(controller, 200)
	if err != nil {
		t.Fatalf("AuthorizedWithdraw failed: %v", err)
	}
	if err := p.ReverseAuthorizedWithdraw(controller, 200, burned); err != nil {
		t.Fatalf("ReverseAuthorizedWithdraw failed: %v", err)
	}

	if p.TotalAssets() != 850 || p.TotalShares() != 850 {
		t.Errorf("totals %d/%d, want 850/850", p.TotalAssets(), p.TotalShares())
	}
	if p.SharesOf(controller) != 50 {
		t.Errorf("controller should hold its 50 shares again, got %d", p.SharesOf(controller))
	}
	if p.SharesOf(lp) != 800 {
		t.Errorf("lp shares %d, want 800", p.SharesOf(lp))
	}
	// Share price is back at 1:1.
	if got, err := p.PreviewRedeem(800); err != nil || got != 800 {
		t.Errorf("PreviewRedeem(800) = %d, %v, want 800", got, err)
	}

	if err := p.ReverseAuthorizedWithdraw(lp, 200, 0); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("reversal without the capability should be ErrUnauthorized, got %v", err)
	}
}

func TestAuthorizedWithdraw_ExcessDrawSocializedAcrossSharePrice(t *testing.T) {
	p, _, mint := newTestPool(t)
	lp := uuid.New()
	controller := uuid.New()
	mint(lp, 800)

	if _, err := p.Deposit(lp, 800, lp); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := p.SetAuthorizedDepositor(issuer, controller, true); err != nil {
		t.Fatalf("SetAuthorizedDepositor failed: %v", err)
	}
	if _, err := p.AuthorizedDeposit(controller, 50); err != nil {
		t.Fatalf("AuthorizedDeposit failed: %v", err)
	}

	// A 200 draw against 50 held shares burns only the 50; the other 150
	// falls on the provider as a share-price drop.
	burned, err := p.AuthorizedWithdraw(controller, 200)
	if err != nil {
		t.Fatalf("AuthorizedWithdraw failed: %v", err)
	}
	if burned != 50 {
		t.Errorf("burn should cap at the caller's 50 shares, got %d", burned)
	}
	if p.SharesOf(controller) != 0 {
		t.Errorf("controller shares should be exhausted, got %d", p.SharesOf(controller))
	}
	if p.TotalAssets() != 650 || p.TotalShares() != 800 {
		t.Errorf("totals: assets=%d shares=%d, want 650/800", p.TotalAssets(), p.TotalShares())
	}
	// The provider's 800 shares now redeem below par.
	assets, err := p.PreviewRedeem(800)
	if err != nil {
		t.Fatalf("PreviewRedeem failed: %v", err)
	}
	if assets != 650 {
		t.Errorf("800 shares should redeem to 650, got %d", assets)
	}
}

func TestSetAuthorizedDepositor_OwnerOnly(t *testing.T) {
	p, _, _ := newTestPool(t)
	stranger := uuid.New()

	err := p.SetAuthorizedDepositor(stranger, stranger, true)
	if !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("non-owner grant should fail, got %v", err)
	}
	if p.IsAuthorizedDepositor(stranger) {
		t.Error("capability must not be granted by a non-owner")
	}
}

// ============================================================================
// Test: Pause
// ============================================================================

func TestPause_BlocksCapitalFlowsButNotAuthorizedPaths(t *testing.T) {
	p, _, mint := newTestPool(t)
	alice := uuid.New()
	controller := uuid.New()
	mint(alice, 1_000)

	if _, err := p.Deposit(alice, 500, alice); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := p.SetAuthorizedDepositor(issuer, controller, true); err != nil {
		t.Fatalf("SetAuthorizedDepositor failed: %v", err)
	}

	if err := p.Pause(issuer); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	if _, err := p.Deposit(alice, 100, alice); !errors.Is(err, ledger.ErrInvalidState) {
		t.Errorf("deposit while paused should be ErrInvalidState, got %v", err)
	}
	if _, err := p.Withdraw(alice, 100, alice, alice); !errors.Is(err, ledger.ErrInvalidState) {
		t.Errorf("withdraw while paused should be ErrInvalidState, got %v", err)
	}

	// The controller channel stays open so claims can settle during a pause.
	if _, err := p.AuthorizedDeposit(controller, 50); err != nil {
		t.Errorf("authorized deposit should survive pause: %v", err)
	}

	if err := p.Pause(issuer); !errors.Is(err, ledger.ErrInvalidState) {
		t.Errorf("double pause should be ErrInvalidState, got %v", err)
	}
	if err := p.Unpause(issuer); err != nil {
		t.Fatalf("Unpause failed: %v", err)
	}
	if _, err := p.Deposit(alice, 100, alice); err != nil {
		t.Errorf("deposit after unpause should succeed: %v", err)
	}
}

func TestPause_OwnerOnly(t *testing.T) {
	p, _, _ := newTestPool(t)
	stranger := uuid.New()

	if err := p.Pause(stranger); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("non-owner pause should fail, got %v", err)
	}
}

// ============================================================================
// Test: Rollback on transfer failure
// ============================================================================

// failingLedger wraps MemoryLedger and fails outbound transfers from the pool
// account, exercising the withdraw rollback path.
type failingLedger struct {
	*asset.MemoryLedger
	failFrom uuid.UUID
}

func (f *failingLedger) Transfer(from, to uuid.UUID, amount uint64) error {
	if from == f.failFrom {
		return errors.New("simulated transfer failure")
	}
	return f.MemoryLedger.Transfer(from, to, amount)
}

func TestWithdraw_TransferFailureRollsBackSharesAndAllowance(t *testing.T) {
	inner := asset.NewMemoryLedger("USDC", issuer)
	assets := &failingLedger{MemoryLedger: inner, failFrom: poolAcct}
	p, err := pool.New(pool.Config{Owner: issuer, Account: poolAcct, Assets: assets})
	if err != nil {
		t.Fatalf("pool.New failed: %v", err)
	}

	alice := uuid.New()
	carol := uuid.New()
	if err := inner.Mint(issuer, alice, 1_000); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := inner.Approve(alice, poolAcct, 1_000); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if _, err := p.Deposit(alice, 1_000, alice); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := p.ApproveShares(alice, carol, 200); err != nil {
		t.Fatalf("ApproveShares failed: %v", err)
	}

	if _, err := p.Withdraw(carol, 200, carol, alice); err == nil {
		t.Fatal("withdraw should fail when the asset push fails")
	}

	if p.SharesOf(alice) != 1_000 {
		t.Errorf("share burn should be rolled back, alice holds %d", p.SharesOf(alice))
	}
	if p.TotalAssets() != 1_000 || p.TotalShares() != 1_000 {
		t.Errorf("totals should be restored: assets=%d shares=%d", p.TotalAssets(), p.TotalShares())
	}
	if got := p.ShareAllowance(alice, carol); got != 200 {
		t.Errorf("allowance should be restored to 200, got %d", got)
	}
}

// ============================================================================
// Test: Administration
// ============================================================================

func TestTransferOwnership_HandsOverAdminRole(t *testing.T) {
	p, _, _ := newTestPool(t)
	newOwner := uuid.New()

	if err := p.TransferOwnership(newOwner, newOwner); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("non-owner transfer should fail, got %v", err)
	}
	if err := p.TransferOwnership(issuer, newOwner); err != nil {
		t.Fatalf("TransferOwnership failed: %v", err)
	}
	if p.Owner() != newOwner {
		t.Errorf("owner should be %s, got %s", newOwner, p.Owner())
	}
	if err := p.Pause(issuer); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("old owner should lose admin rights, got %v", err)
	}
}

func TestRestoreState_ReloadsTotalsAndShares(t *testing.T) {
	p, _, _ := newTestPool(t)
	alice := uuid.New()
	bob := uuid.New()

	p.RestoreState(1_500, 1_200, map[uuid.UUID]uint64{
		alice: 1_000,
		bob:   200,
	})

	if p.TotalAssets() != 1_500 || p.TotalShares() != 1_200 {
		t.Errorf("restored totals: assets=%d shares=%d, want 1_500/1_200", p.TotalAssets(), p.TotalShares())
	}
	if p.SharesOf(alice) != 1_000 || p.SharesOf(bob) != 200 {
		t.Errorf("restored shares: alice=%d bob=%d", p.SharesOf(alice), p.SharesOf(bob))
	}

	// Share price is now 1.25; deposits floor, withdrawals ceil.
	shares, err := p.PreviewDeposit(100)
	if err != nil {
		t.Fatalf("PreviewDeposit failed: %v", err)
	}
	if shares != 80 {
		t.Errorf("100 assets at 1_200/1_500 floors to 80 shares, got %d", shares)
	}
	need, err := p.PreviewWithdraw(99)
	if err != nil {
		t.Fatalf("PreviewWithdraw failed: %v", err)
	}
	if need != 80 {
		t.Errorf("99 assets at 1_200/1_500 ceils to 80 shares, got %d", need)
	}
}
