package escrow

import (
	"fmt"
	"sync"
	"time"

	"ParaCover/internal/asset"
	"ParaCover/internal/clock"
	"ParaCover/internal/event"
	"ParaCover/internal/ledger"

	"github.com/google/uuid"
)

// Status is the escrow state machine. The source representation used two
// independent booleans (active/claimed); the enum makes the machine
// exhaustive and removes the inconsistent combination.
type Status uint8

const (
	StatusActive      Status = iota // accepting deposits/withdrawals, claimable
	StatusClaimed                   // terminal: claim paid out
	StatusDeactivated               // terminal: grace window elapsed, no claim
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusClaimed:
		return "claimed"
	case StatusDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

// DefaultGraceWindow is how long after the scheduled event time the escrow
// stays claimable before anyone may deactivate it.
const DefaultGraceWindow = 48 * time.Hour

// Config for an EventEscrow. One escrow exists per insured event; Account is
// the escrow's own identity on the asset ledger.
type Config struct {
	Owner           uuid.UUID
	Account         uuid.UUID
	Assets          asset.Ledger
	Flight          string
	ScheduledTime   time.Time
	RequiredCapital uint64
	GraceWindow     time.Duration // DefaultGraceWindow when zero
	Clock           clock.Clock
	Recorder        *event.Recorder
}

// EventEscrow holds capital earmarked for a single event's payout, separate
// from the shared pool. Deposits are bounded by the required capital; a claim
// pays out exactly once and terminates the escrow.
type EventEscrow struct {
	mu sync.RWMutex

	owner     uuid.UUID
	account   uuid.UUID
	assets    asset.Ledger
	clk       clock.Clock
	rec       *event.Recorder
	operators map[uuid.UUID]bool

	flight        string
	scheduledTime time.Time
	graceWindow   time.Duration
	required      uint64
	deposited     uint64
	status        Status
	createdAt     time.Time
}

func New(cfg Config) (*EventEscrow, error) {
	if cfg.Owner == uuid.Nil || cfg.Account == uuid.Nil {
		return nil, fmt.Errorf("escrow: nil owner or account: %w", ledger.ErrInvalidInput)
	}
	if cfg.Assets == nil || cfg.Clock == nil {
		return nil, fmt.Errorf("escrow: nil asset ledger or clock: %w", ledger.ErrInvalidInput)
	}
	if cfg.Flight == "" {
		return nil, fmt.Errorf("escrow: empty flight: %w", ledger.ErrInvalidInput)
	}
	if cfg.RequiredCapital == 0 {
		return nil, fmt.Errorf("escrow: zero required capital: %w", ledger.ErrInvalidInput)
	}

	grace := cfg.GraceWindow
	if grace == 0 {
		grace = DefaultGraceWindow
	}

	return &EventEscrow{
		owner:         cfg.Owner,
		account:       cfg.Account,
		assets:        cfg.Assets,
		clk:           cfg.Clock,
		rec:           cfg.Recorder,
		operators:     make(map[uuid.UUID]bool),
		flight:        cfg.Flight,
		scheduledTime: cfg.ScheduledTime,
		graceWindow:   grace,
		required:      cfg.RequiredCapital,
		status:        StatusActive,
		createdAt:     cfg.Clock.Now(),
	}, nil
}

func (e *EventEscrow) Account() uuid.UUID { return e.account }
func (e *EventEscrow) Flight() string     { return e.flight }

func (e *EventEscrow) ScheduledTime() time.Time { return e.scheduledTime }

// DepositCapital pulls `amount` from the caller into the escrow account.
// Restricted to authorized operators and the owner; the running total never
// exceeds the required capital.
func (e *EventEscrow) DepositCapital(caller uuid.UUID, amount uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkOperator(caller); err != nil {
		return fmt.Errorf("deposit capital: %w", err)
	}
	if err := e.checkActive(); err != nil {
		return fmt.Errorf("deposit capital: %w", err)
	}
	if amount == 0 {
		return fmt.Errorf("deposit capital: zero amount: %w", ledger.ErrInvalidInput)
	}
	// Subtraction form: deposited never exceeds required, and the sum can
	// wrap uint64 for huge amounts.
	if amount > e.required-e.deposited {
		return fmt.Errorf("deposit capital: %d + %d exceeds required %d: %w",
			e.deposited, amount, e.required, ledger.ErrInvalidInput)
	}

	if err := e.assets.TransferFrom(e.account, caller, e.account, amount); err != nil {
		return fmt.Errorf("deposit capital: %w", err)
	}
	e.deposited += amount

	e.emit(event.EscrowDeposited{
		Flight:        e.flight,
		ScheduledTime: e.scheduledTime,
		Actor:         caller,
		Amount:        amount,
		Deposited:     e.deposited,
	})
	return nil
}

// WithdrawCapital returns `amount` from the escrow account to the caller.
func (e *EventEscrow) WithdrawCapital(caller uuid.UUID, amount uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkOperator(caller); err != nil {
		return fmt.Errorf("withdraw capital: %w", err)
	}
	if err := e.checkActive(); err != nil {
		return fmt.Errorf("withdraw capital: %w", err)
	}
	if amount == 0 {
		return fmt.Errorf("withdraw capital: zero amount: %w", ledger.ErrInvalidInput)
	}
	if amount > e.deposited {
		return fmt.Errorf("withdraw capital: %d exceeds deposited %d: %w",
			amount, e.deposited, ledger.ErrInsufficientFunds)
	}

	if err := e.assets.Transfer(e.account, caller, amount); err != nil {
		return fmt.Errorf("withdraw capital: %w", err)
	}
	e.deposited -= amount

	e.emit(event.EscrowWithdrawn{
		Flight:        e.flight,
		ScheduledTime: e.scheduledTime,
		Actor:         caller,
		Amount:        amount,
		Deposited:     e.deposited,
	})
	return nil
}

// ProcessClaim pays `payout` to the recipient and terminates the escrow.
// Irreversible: any remainder stays recorded but no further claim, deposit,
// or withdrawal is accepted.
func (e *EventEscrow) ProcessClaim(caller, recipient uuid.UUID, payout uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkOperator(caller); err != nil {
		return fmt.Errorf("process claim: %w", err)
	}
	if err := e.checkActive(); err != nil {
		return fmt.Errorf("process claim: %w", err)
	}
	if recipient == uuid.Nil {
		return fmt.Errorf("process claim: nil recipient: %w", ledger.ErrInvalidInput)
	}
	if payout == 0 {
		return fmt.Errorf("process claim: zero payout: %w", ledger.ErrInvalidInput)
	}
	if payout > e.deposited {
		return fmt.Errorf("process claim: payout %d exceeds deposited %d: %w",
			payout, e.deposited, ledger.ErrInsufficientFunds)
	}

	if err := e.assets.Transfer(e.account, recipient, payout); err != nil {
		return fmt.Errorf("process claim: %w", err)
	}
	e.deposited -= payout
	e.status = StatusClaimed

	e.emit(event.EscrowClaimProcessed{
		Flight:        e.flight,
		ScheduledTime: e.scheduledTime,
		Recipient:     recipient,
		Payout:        payout,
		Deposited:     e.deposited,
	})
	return nil
}

// Deactivate terminates an unclaimed escrow once the grace window after the
// scheduled event time has elapsed. Permissionless; no funds move.
func (e *EventEscrow) Deactivate() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusActive {
		return fmt.Errorf("deactivate: escrow is %s: %w", e.status, ledger.ErrInvalidState)
	}
	deadline := e.scheduledTime.Add(e.graceWindow)
	if !e.clk.Now().After(deadline) {
		return fmt.Errorf("deactivate: grace window ends at %s: %w",
			deadline.Format(time.RFC3339), ledger.ErrInvalidState)
	}
	e.status = StatusDeactivated

	e.emit(event.EscrowDeactivated{
		Flight:        e.flight,
		ScheduledTime: e.scheduledTime,
	})
	return nil
}

// Status returns the status tuple (active, claimed, deposited, required).
func (e *EventEscrow) Status() (active, claimed bool, deposited, required uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status == StatusActive, e.status == StatusClaimed, e.deposited, e.required
}

func (e *EventEscrow) IsFullyFunded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.deposited >= e.required
}

// RemainingCapitalNeeded returns max(0, required - deposited).
func (e *EventEscrow) RemainingCapitalNeeded() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.deposited >= e.required {
		return 0
	}
	return e.required - e.deposited
}

// SetOperator grants or revokes the operator capability. Owner-only.
func (e *EventEscrow) SetOperator(caller, id uuid.UUID, granted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return fmt.Errorf("set operator: %w", ledger.ErrUnauthorized)
	}
	if id == uuid.Nil {
		return fmt.Errorf("set operator: nil identity: %w", ledger.ErrInvalidInput)
	}
	if granted {
		e.operators[id] = true
	} else {
		delete(e.operators, id)
	}
	e.emit(event.OperatorAuthorized{
		Flight:        e.flight,
		ScheduledTime: e.scheduledTime,
		Identity:      id,
		Granted:       granted,
	})
	return nil
}

func (e *EventEscrow) TransferOwnership(caller, newOwner uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return fmt.Errorf("transfer ownership: %w", ledger.ErrUnauthorized)
	}
	if newOwner == uuid.Nil {
		return fmt.Errorf("transfer ownership: nil owner: %w", ledger.ErrInvalidInput)
	}
	prev := e.owner
	e.owner = newOwner
	e.emit(event.OwnershipTransferred{Component: "escrow", Previous: prev, Current: newOwner})
	return nil
}

// Sweep transfers the escrow account's entire balance of an arbitrary asset
// to the owner. Break-glass only.
func (e *EventEscrow) Sweep(caller uuid.UUID, a asset.Ledger) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return 0, fmt.Errorf("sweep: %w", ledger.ErrUnauthorized)
	}
	balance := a.BalanceOf(e.account)
	if balance == 0 {
		return 0, nil
	}
	if err := a.Transfer(e.account, e.owner, balance); err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	return balance, nil
}

// --- internals (e.mu held) ---

func (e *EventEscrow) checkOperator(caller uuid.UUID) error {
	if caller == e.owner || e.operators[caller] {
		return nil
	}
	return fmt.Errorf("%s lacks operator capability: %w", caller, ledger.ErrUnauthorized)
}

func (e *EventEscrow) checkActive() error {
	if e.status != StatusActive {
		return fmt.Errorf("escrow is %s: %w", e.status, ledger.ErrInvalidState)
	}
	return nil
}

func (e *EventEscrow) emit(payload event.Payload) {
	e.rec.Emit(payload)
}
