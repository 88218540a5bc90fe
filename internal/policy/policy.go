package policy

import (
	"time"

	"github.com/google/uuid"
)

// Status is the policy state machine: Active → Claimed or Active → Expired,
// never reversible, never both.
type Status uint8

const (
	StatusActive Status = iota
	StatusClaimed
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusClaimed:
		return "claimed"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// EventKey uniquely identifies an insurable event: a flight identifier plus
// its scheduled departure, normalized to Unix seconds so the key is a valid
// map key regardless of time.Location or monotonic clock readings.
type EventKey struct {
	Flight        string
	ScheduledUnix int64
}

func NewEventKey(flight string, scheduled time.Time) EventKey {
	return EventKey{Flight: flight, ScheduledUnix: scheduled.Unix()}
}

// Policy is an immutable audit record of one unit of coverage. Policies are
// never deleted; only Status moves, exactly once.
type Policy struct {
	ID            uint64
	Holder        uuid.UUID
	Flight        string
	ScheduledTime time.Time
	Premium       uint64
	Payout        uint64
	Status        Status
	CreatedAt     time.Time
}

func (p *Policy) EventKey() EventKey {
	return NewEventKey(p.Flight, p.ScheduledTime)
}

// Params are the fixed underwriting terms shared by every policy the
// controller sells.
type Params struct {
	// Premium is the fixed price of one policy, asset-denominated.
	Premium uint64

	// Payout is the fixed amount paid on a triggered claim.
	Payout uint64

	// CapitalRatio is the minimum multiple of total pool backing required
	// per unit of insured payout exposure.
	CapitalRatio uint64

	// DelayThresholdHours is the minimum reported delay that triggers a
	// claim.
	DelayThresholdHours uint64

	// ExpirationWindow is how long after the scheduled event time a policy
	// stays claimable before anyone may expire it.
	ExpirationWindow time.Duration
}

// DefaultParams matches the reference deployment: 4x capital ratio, 6-hour
// delay threshold, 24-hour expiration window.
func DefaultParams() Params {
	return Params{
		Premium:             50,
		Payout:              200,
		CapitalRatio:        4,
		DelayThresholdHours: 6,
		ExpirationWindow:    24 * time.Hour,
	}
}

// Totals are the aggregate counters the controller maintains.
type Totals struct {
	PolicyCount   uint64
	ActiveCount   uint64
	ClaimedCount  uint64
	ExpiredCount  uint64
	TotalPremiums uint64
	TotalPayouts  uint64
}
