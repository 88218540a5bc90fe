package asset

import (
	"math"

	"github.com/google/uuid"
)

// InfiniteAllowance marks an allowance as unlimited. It is never decremented
// by TransferFrom.
const InfiniteAllowance uint64 = math.MaxUint64

// Ledger is the payment-asset interface the core consumes. Premiums, payouts,
// and pool accounting all move through an implementation of this interface;
// the core treats transfers as synchronous and final at the point of call.
type Ledger interface {
	// Transfer moves amount from one identity to another.
	Transfer(from, to uuid.UUID, amount uint64) error

	// TransferFrom moves amount from `from` to `to` on behalf of `spender`,
	// consuming the allowance `from` granted to `spender` (unless infinite).
	TransferFrom(spender, from, to uuid.UUID, amount uint64) error

	// Approve sets the allowance `owner` grants to `spender`, replacing any
	// previous value.
	Approve(owner, spender uuid.UUID, amount uint64) error

	// BalanceOf returns the current balance of an identity.
	BalanceOf(id uuid.UUID) uint64

	// Allowance returns the remaining allowance owner has granted spender.
	Allowance(owner, spender uuid.UUID) uint64
}
