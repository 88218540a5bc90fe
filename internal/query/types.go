package query

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// All read responses carry AsOfSequence: the highest record sequence folded
// into the projections when the query ran. Clients compare it against the
// sequence returned by write operations to reason about freshness.

type PolicyResponse struct {
	PolicyID      uint64    `json:"policy_id"`
	Holder        uuid.UUID `json:"holder"`
	Flight        string    `json:"flight"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Premium       uint64    `json:"premium"`
	Payout        uint64    `json:"payout"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	AsOfSequence  int64     `json:"as_of_sequence"`
}

type PoolResponse struct {
	TotalAssets  uint64 `json:"total_assets"`
	TotalShares  uint64 `json:"total_shares"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

type ShareholderResponse struct {
	Holder       uuid.UUID `json:"holder"`
	Shares       uint64    `json:"shares"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

type StatsResponse struct {
	PolicyCount   uint64 `json:"policy_count"`
	ActiveCount   uint64 `json:"active_count"`
	ClaimedCount  uint64 `json:"claimed_count"`
	ExpiredCount  uint64 `json:"expired_count"`
	TotalPremiums uint64 `json:"total_premiums"`
	TotalPayouts  uint64 `json:"total_payouts"`
	AsOfSequence  int64  `json:"as_of_sequence"`
}

type RecordResponse struct {
	Sequence   int64           `json:"sequence"`
	RecordType string          `json:"record_type"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recorded_at"`
}
