package asset

import (
	"fmt"
	"sync"

	"ParaCover/internal/ledger"
	amath "ParaCover/internal/math"

	"github.com/google/uuid"
)

type allowanceKey struct {
	owner   uuid.UUID
	spender uuid.UUID
}

// MemoryLedger is a mutex-guarded in-memory fungible asset ledger. It stands
// in for the external payment asset in the service binary and in tests; a
// production deployment would adapt Ledger over the real asset network.
type MemoryLedger struct {
	mu         sync.RWMutex
	symbol     string
	issuer     uuid.UUID
	supply     uint64
	balances   map[uuid.UUID]uint64
	allowances map[allowanceKey]uint64
}

func NewMemoryLedger(symbol string, issuer uuid.UUID) *MemoryLedger {
	return &MemoryLedger{
		symbol:     symbol,
		issuer:     issuer,
		balances:   make(map[uuid.UUID]uint64),
		allowances: make(map[allowanceKey]uint64),
	}
}

func (l *MemoryLedger) Symbol() string { return l.symbol }

// Mint creates new supply and credits the recipient. Restricted to the
// issuer identity configured at construction.
func (l *MemoryLedger) Mint(caller, to uuid.UUID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.issuer {
		return fmt.Errorf("mint: caller %s is not the issuer: %w", caller, ledger.ErrUnauthorized)
	}
	if to == uuid.Nil || amount == 0 {
		return fmt.Errorf("mint: %w", ledger.ErrInvalidInput)
	}
	supply, err := amath.CheckedAdd(l.supply, amount)
	if err != nil {
		return fmt.Errorf("mint: supply overflow: %w", ledger.ErrInvalidInput)
	}
	l.supply = supply
	l.balances[to] += amount
	return nil
}

func (l *MemoryLedger) Transfer(from, to uuid.UUID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfer(from, to, amount)
}

func (l *MemoryLedger) TransferFrom(spender, from, to uuid.UUID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if spender == uuid.Nil {
		return fmt.Errorf("transfer from: nil spender: %w", ledger.ErrInvalidInput)
	}
	if spender != from {
		key := allowanceKey{owner: from, spender: spender}
		allowed := l.allowances[key]
		if allowed != InfiniteAllowance {
			if allowed < amount {
				return fmt.Errorf("transfer from: allowance %d < %d: %w",
					allowed, amount, ledger.ErrInsufficientFunds)
			}
			l.allowances[key] = allowed - amount
		}
	}

	if err := l.transfer(from, to, amount); err != nil {
		// Restore the allowance consumed above
		if spender != from {
			key := allowanceKey{owner: from, spender: spender}
			if l.allowances[key] != InfiniteAllowance {
				l.allowances[key] += amount
			}
		}
		return err
	}
	return nil
}

func (l *MemoryLedger) Approve(owner, spender uuid.UUID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if owner == uuid.Nil || spender == uuid.Nil {
		return fmt.Errorf("approve: nil identity: %w", ledger.ErrInvalidInput)
	}
	l.allowances[allowanceKey{owner: owner, spender: spender}] = amount
	return nil
}

func (l *MemoryLedger) BalanceOf(id uuid.UUID) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[id]
}

func (l *MemoryLedger) Allowance(owner, spender uuid.UUID) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowances[allowanceKey{owner: owner, spender: spender}]
}

func (l *MemoryLedger) TotalSupply() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply
}

// transfer requires l.mu held.
func (l *MemoryLedger) transfer(from, to uuid.UUID, amount uint64) error {
	if from == uuid.Nil || to == uuid.Nil {
		return fmt.Errorf("transfer: nil identity: %w", ledger.ErrInvalidInput)
	}
	if amount == 0 {
		return fmt.Errorf("transfer: zero amount: %w", ledger.ErrInvalidInput)
	}
	if l.balances[from] < amount {
		return fmt.Errorf("transfer: balance %d < %d: %w",
			l.balances[from], amount, ledger.ErrInsufficientFunds)
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}
