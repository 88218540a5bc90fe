package event

import (
	"time"

	"github.com/google/uuid"
)

// RecordType discriminator for emitted records.
type RecordType int32

const (
	RecordUnknown RecordType = iota
	RecordPolicyCreated
	RecordClaimSettled
	RecordPolicyExpired
	RecordCapitalDeposited
	RecordCapitalWithdrawn
	RecordEscrowDeposited
	RecordEscrowWithdrawn
	RecordEscrowClaimProcessed
	RecordEscrowDeactivated
	RecordDepositorAuthorized
	RecordOperatorAuthorized
	RecordOracleUpdated
	RecordPauseChanged
	RecordOwnershipTransferred
)

func (rt RecordType) String() string {
	switch rt {
	case RecordPolicyCreated:
		return "PolicyCreated"
	case RecordClaimSettled:
		return "ClaimSettled"
	case RecordPolicyExpired:
		return "PolicyExpired"
	case RecordCapitalDeposited:
		return "CapitalDeposited"
	case RecordCapitalWithdrawn:
		return "CapitalWithdrawn"
	case RecordEscrowDeposited:
		return "EscrowDeposited"
	case RecordEscrowWithdrawn:
		return "EscrowWithdrawn"
	case RecordEscrowClaimProcessed:
		return "EscrowClaimProcessed"
	case RecordEscrowDeactivated:
		return "EscrowDeactivated"
	case RecordDepositorAuthorized:
		return "DepositorAuthorized"
	case RecordOperatorAuthorized:
		return "OperatorAuthorized"
	case RecordOracleUpdated:
		return "OracleUpdated"
	case RecordPauseChanged:
		return "PauseChanged"
	case RecordOwnershipTransferred:
		return "OwnershipTransferred"
	default:
		return "Unknown"
	}
}

// Payload is implemented by every emitted record body.
type Payload interface {
	RecordType() RecordType
}

// Envelope wraps every record in the log. Sequence is the global monotonic
// sequence assigned by the Recorder; an envelope is written to the record log
// exactly once and published to downstream observers at most once.
type Envelope struct {
	Sequence  uint64
	Type      RecordType
	Timestamp time.Time
	Payload   Payload
}

// --- Policy lifecycle ---

type PolicyCreated struct {
	PolicyID      uint64    `json:"policy_id"`
	Holder        uuid.UUID `json:"holder"`
	Flight        string    `json:"flight"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Premium       uint64    `json:"premium"`
	Payout        uint64    `json:"payout"`
}

func (PolicyCreated) RecordType() RecordType { return RecordPolicyCreated }

type ClaimSettled struct {
	PolicyID   uint64    `json:"policy_id"`
	Holder     uuid.UUID `json:"holder"`
	Payout     uint64    `json:"payout"`
	DelayHours uint64    `json:"delay_hours"`
}

func (ClaimSettled) RecordType() RecordType { return RecordClaimSettled }

type PolicyExpired struct {
	PolicyID uint64    `json:"policy_id"`
	Holder   uuid.UUID `json:"holder"`
}

func (PolicyExpired) RecordType() RecordType { return RecordPolicyExpired }

// --- Capital pool ---

// CapitalDeposited covers deposit, mint, and the authorized-deposit path.
// TotalAssets/TotalShares are the pool totals AFTER the operation so the
// pool projection can be maintained without replaying prior records.
type CapitalDeposited struct {
	Actor       uuid.UUID `json:"actor"`
	Receiver    uuid.UUID `json:"receiver"`
	Assets      uint64    `json:"assets"`
	Shares      uint64    `json:"shares"`
	Authorized  bool      `json:"authorized"`
	TotalAssets uint64    `json:"total_assets"`
	TotalShares uint64    `json:"total_shares"`
}

func (CapitalDeposited) RecordType() RecordType { return RecordCapitalDeposited }

type CapitalWithdrawn struct {
	Actor       uuid.UUID `json:"actor"`
	Owner       uuid.UUID `json:"owner"`
	Receiver    uuid.UUID `json:"receiver"`
	Assets      uint64    `json:"assets"`
	Shares      uint64    `json:"shares"`
	Authorized  bool      `json:"authorized"`
	TotalAssets uint64    `json:"total_assets"`
	TotalShares uint64    `json:"total_shares"`
}

func (CapitalWithdrawn) RecordType() RecordType { return RecordCapitalWithdrawn }

// --- Event escrow ---

type EscrowDeposited struct {
	Flight        string    `json:"flight"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Actor         uuid.UUID `json:"actor"`
	Amount        uint64    `json:"amount"`
	Deposited     uint64    `json:"deposited"`
}

func (EscrowDeposited) RecordType() RecordType { return RecordEscrowDeposited }

type EscrowWithdrawn struct {
	Flight        string    `json:"flight"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Actor         uuid.UUID `json:"actor"`
	Amount        uint64    `json:"amount"`
	Deposited     uint64    `json:"deposited"`
}

func (EscrowWithdrawn) RecordType() RecordType { return RecordEscrowWithdrawn }

type EscrowClaimProcessed struct {
	Flight        string    `json:"flight"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Recipient     uuid.UUID `json:"recipient"`
	Payout        uint64    `json:"payout"`
	Deposited     uint64    `json:"deposited"`
}

func (EscrowClaimProcessed) RecordType() RecordType { return RecordEscrowClaimProcessed }

type EscrowDeactivated struct {
	Flight        string    `json:"flight"`
	ScheduledTime time.Time `json:"scheduled_time"`
}

func (EscrowDeactivated) RecordType() RecordType { return RecordEscrowDeactivated }

// --- Authorization & administration ---

type DepositorAuthorized struct {
	Identity uuid.UUID `json:"identity"`
	Granted  bool      `json:"granted"`
}

func (DepositorAuthorized) RecordType() RecordType { return RecordDepositorAuthorized }

type OperatorAuthorized struct {
	Flight        string    `json:"flight"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Identity      uuid.UUID `json:"identity"`
	Granted       bool      `json:"granted"`
}

func (OperatorAuthorized) RecordType() RecordType { return RecordOperatorAuthorized }

type OracleUpdated struct {
	Previous uuid.UUID `json:"previous"`
	Current  uuid.UUID `json:"current"`
}

func (OracleUpdated) RecordType() RecordType { return RecordOracleUpdated }

type PauseChanged struct {
	Component string `json:"component"` // "pool" or "controller"
	Paused    bool   `json:"paused"`
}

func (PauseChanged) RecordType() RecordType { return RecordPauseChanged }

type OwnershipTransferred struct {
	Component string    `json:"component"`
	Previous  uuid.UUID `json:"previous"`
	Current   uuid.UUID `json:"current"`
}

func (OwnershipTransferred) RecordType() RecordType { return RecordOwnershipTransferred }
