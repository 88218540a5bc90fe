package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"ParaCover/internal/policy"

	"github.com/google/uuid"
)

// LedgerState is everything the ledger needs to resume after a restart,
// loaded from the projection tables. Projections are maintained in the same
// transaction as the record log, so this is exact up to the last committed
// batch.
type LedgerState struct {
	LastSequence  uint64
	PoolAssets    uint64
	PoolShares    uint64
	Shareholders  map[uuid.UUID]uint64
	Policies      []policy.Policy
	TotalPremiums uint64
	TotalPayouts  uint64
}

// LoadLedgerState reads the recovery state from the projections schema.
func LoadLedgerState(ctx context.Context, db *sql.DB) (*LedgerState, error) {
	st := &LedgerState{
		Shareholders: make(map[uuid.UUID]uint64),
	}

	var last int64
	err := db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE id = 1`,
	).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}
	st.LastSequence = uint64(last)

	var assets, shares int64
	err = db.QueryRowContext(ctx,
		`SELECT total_assets, total_shares FROM projections.pool WHERE id = 1`,
	).Scan(&assets, &shares)
	if err != nil {
		return nil, fmt.Errorf("load pool totals: %w", err)
	}
	st.PoolAssets = uint64(assets)
	st.PoolShares = uint64(shares)

	if err := loadShareholders(ctx, db, st); err != nil {
		return nil, err
	}
	if err := loadPolicies(ctx, db, st); err != nil {
		return nil, err
	}
	return st, nil
}

func loadShareholders(ctx context.Context, db *sql.DB, st *LedgerState) error {
	rows, err := db.QueryContext(ctx,
		`SELECT holder, shares FROM projections.shareholders WHERE shares > 0`,
	)
	if err != nil {
		return fmt.Errorf("load shareholders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var holder string
		var shares int64
		if err := rows.Scan(&holder, &shares); err != nil {
			return fmt.Errorf("scan shareholder: %w", err)
		}
		id, err := uuid.Parse(holder)
		if err != nil {
			return fmt.Errorf("parse shareholder id %q: %w", holder, err)
		}
		st.Shareholders[id] = uint64(shares)
	}
	return rows.Err()
}

func loadPolicies(ctx context.Context, db *sql.DB, st *LedgerState) error {
	rows, err := db.QueryContext(ctx, `
		SELECT policy_id, holder, flight, scheduled_time, premium, payout, status, created_at
		FROM projections.policies
		ORDER BY policy_id
	`)
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p policy.Policy
		var id, premium, payout int64
		var holder, status string
		if err := rows.Scan(&id, &holder, &p.Flight, &p.ScheduledTime,
			&premium, &payout, &status, &p.CreatedAt); err != nil {
			return fmt.Errorf("scan policy: %w", err)
		}
		hid, err := uuid.Parse(holder)
		if err != nil {
			return fmt.Errorf("parse holder id %q: %w", holder, err)
		}
		p.ID = uint64(id)
		p.Holder = hid
		p.Premium = uint64(premium)
		p.Payout = uint64(payout)
		switch status {
		case "Active":
			p.Status = policy.StatusActive
		case "Claimed":
			p.Status = policy.StatusClaimed
			st.TotalPayouts += p.Payout
		case "Expired":
			p.Status = policy.StatusExpired
		default:
			return fmt.Errorf("unknown policy status %q for policy %d", status, id)
		}
		st.TotalPremiums += p.Premium
		st.Policies = append(st.Policies, p)
	}
	return rows.Err()
}
