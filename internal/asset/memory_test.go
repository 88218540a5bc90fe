package asset_test

import (
	"errors"
	"math"
	"testing"

	"ParaCover/internal/asset"
	"ParaCover/internal/ledger"

	"github.com/google/uuid"
)

var issuer = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

func TestMint_IssuerOnly(t *testing.T) {
	l := asset.NewMemoryLedger("USDC", issuer)
	alice := uuid.New()

	if err := l.Mint(alice, alice, 100); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("non-issuer mint should be ErrUnauthorized, got %v", err)
	}
	if err := l.Mint(issuer, alice, 100); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if l.BalanceOf(alice) != 100 {
		t.Errorf("alice balance %d, want 100", l.BalanceOf(alice))
	}
	if l.TotalSupply() != 100 {
		t.Errorf("supply %d, want 100", l.TotalSupply())
	}
}

func TestMint_SupplyOverflowRejected(t *testing.T) {
	l := asset.NewMemoryLedger("USDC", issuer)
	alice := uuid.New()

	if err := l.Mint(issuer, alice, math.MaxUint64-5); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if err := l.Mint(issuer, alice, 10); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Errorf("wrapping mint should be ErrInvalidInput, got %v", err)
	}
	if l.TotalSupply() != math.MaxUint64-5 {
		t.Errorf("supply %d, want MaxUint64-5", l.TotalSupply())
	}
	if l.BalanceOf(alice) != math.MaxUint64-5 {
		t.Errorf("alice balance %d, want MaxUint64-5", l.BalanceOf(alice))
	}
}

func TestTransfer_MovesBalance(t *testing.T) {
	l := asset.NewMemoryLedger("USDC", issuer)
	alice := uuid.New()
	bob := uuid.New()
	if err := l.Mint(issuer, alice, 100); err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	if err := l.Transfer(alice, bob, 60); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if l.BalanceOf(alice) != 40 || l.BalanceOf(bob) != 60 {
		t.Errorf("balances: alice=%d bob=%d, want 40/60", l.BalanceOf(alice), l.BalanceOf(bob))
	}

	if err := l.Transfer(alice, bob, 41); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("overdraft should be ErrInsufficientFunds, got %v", err)
	}
	if err := l.Transfer(alice, bob, 0); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Errorf("zero transfer should be ErrInvalidInput, got %v", err)
	}
	if err := l.Transfer(alice, uuid.Nil, 10); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Errorf("nil recipient should be ErrInvalidInput, got %v", err)
	}
}

func TestTransferFrom_ConsumesAllowance(t *testing.T) {
	l := asset.NewMemoryLedger("USDC", issuer)
	alice := uuid.New()
	spender := uuid.New()
	bob := uuid.New()
	if err := l.Mint(issuer, alice, 100); err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	if err := l.TransferFrom(spender, alice, bob, 10); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("no allowance should be ErrInsufficientFunds, got %v", err)
	}

	if err := l.Approve(alice, spender, 50); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if err := l.TransferFrom(spender, alice, bob, 30); err != nil {
		t.Fatalf("TransferFrom failed: %v", err)
	}
	if got := l.Allowance(alice, spender); got != 20 {
		t.Errorf("allowance should decrement to 20, got %d", got)
	}
	if err := l.TransferFrom(spender, alice, bob, 21); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("spending beyond allowance should fail, got %v", err)
	}
}

func TestTransferFrom_InfiniteAllowanceNeverDecrements(t *testing.T) {
	l := asset.NewMemoryLedger("USDC", issuer)
	alice := uuid.New()
	spender := uuid.New()
	bob := uuid.New()
	if err := l.Mint(issuer, alice, 100); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := l.Approve(alice, spender, asset.InfiniteAllowance); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	if err := l.TransferFrom(spender, alice, bob, 70); err != nil {
		t.Fatalf("TransferFrom failed: %v", err)
	}
	if got := l.Allowance(alice, spender); got != asset.InfiniteAllowance {
		t.Errorf("infinite allowance should not decrement, got %d", got)
	}
}

func TestTransferFrom_FailedTransferRestoresAllowance(t *testing.T) {
	l := asset.NewMemoryLedger("USDC", issuer)
	alice := uuid.New()
	spender := uuid.New()
	bob := uuid.New()
	if err := l.Mint(issuer, alice, 20); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := l.Approve(alice, spender, 50); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	// Allowance covers 50 but the balance only covers 20.
	if err := l.TransferFrom(spender, alice, bob, 30); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := l.Allowance(alice, spender); got != 50 {
		t.Errorf("allowance should be restored to 50, got %d", got)
	}
	if l.BalanceOf(alice) != 20 {
		t.Errorf("alice balance should be untouched, got %d", l.BalanceOf(alice))
	}
}

func TestTransferFrom_SelfSpendSkipsAllowance(t *testing.T) {
	l := asset.NewMemoryLedger("USDC", issuer)
	alice := uuid.New()
	bob := uuid.New()
	if err := l.Mint(issuer, alice, 100); err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	if err := l.TransferFrom(alice, alice, bob, 40); err != nil {
		t.Fatalf("self TransferFrom failed: %v", err)
	}
	if l.BalanceOf(bob) != 40 {
		t.Errorf("bob balance %d, want 40", l.BalanceOf(bob))
	}
}
