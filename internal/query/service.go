package query

import (
	"context"
	"database/sql"
	"fmt"

	"ParaCover/internal/ledger"

	"github.com/google/uuid"
)

// Service provides read-only access to the projection tables. Reads go to
// Postgres rather than the in-memory ledger so queries never contend with
// the write path; AsOfSequence tells the caller how fresh the answer is.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetPolicy returns one policy by ID.
func (s *Service) GetPolicy(ctx context.Context, policyID uint64) (*PolicyResponse, error) {
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}

	var p PolicyResponse
	err = s.db.QueryRowContext(ctx, `
		SELECT policy_id, holder, flight, scheduled_time, premium, payout, status, created_at
		FROM projections.policies
		WHERE policy_id = $1
	`, int64(policyID)).Scan(
		&p.PolicyID, &p.Holder, &p.Flight, &p.ScheduledTime,
		&p.Premium, &p.Payout, &p.Status, &p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("policy %d: %w", policyID, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	p.AsOfSequence = asOf
	return &p, nil
}

// ListPolicies returns policies filtered by optional holder and status,
// newest first, with cursor pagination on policy_id.
func (s *Service) ListPolicies(
	ctx context.Context,
	holder *uuid.UUID,
	status *string,
	limit int,
	beforeID *uint64,
) ([]PolicyResponse, error) {
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT policy_id, holder, flight, scheduled_time, premium, payout, status, created_at
		FROM projections.policies
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if holder != nil {
		query += fmt.Sprintf(" AND holder = $%d", argIdx)
		args = append(args, *holder)
		argIdx++
	}
	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *status)
		argIdx++
	}
	if beforeID != nil {
		query += fmt.Sprintf(" AND policy_id < $%d", argIdx)
		args = append(args, int64(*beforeID))
		argIdx++
	}

	query += " ORDER BY policy_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []PolicyResponse
	for rows.Next() {
		var p PolicyResponse
		p.AsOfSequence = asOf
		if err := rows.Scan(
			&p.PolicyID, &p.Holder, &p.Flight, &p.ScheduledTime,
			&p.Premium, &p.Payout, &p.Status, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// GetPool returns the capital pool totals.
func (s *Service) GetPool(ctx context.Context) (*PoolResponse, error) {
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}

	var p PoolResponse
	err = s.db.QueryRowContext(ctx,
		`SELECT total_assets, total_shares FROM projections.pool WHERE id = 1`,
	).Scan(&p.TotalAssets, &p.TotalShares)
	if err != nil {
		return nil, err
	}
	p.AsOfSequence = asOf
	return &p, nil
}

// GetShareholder returns one capital provider's share position.
func (s *Service) GetShareholder(ctx context.Context, holder uuid.UUID) (*ShareholderResponse, error) {
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}

	r := &ShareholderResponse{Holder: holder, AsOfSequence: asOf}
	err = s.db.QueryRowContext(ctx,
		`SELECT shares FROM projections.shareholders WHERE holder = $1`,
		holder,
	).Scan(&r.Shares)
	if err == sql.ErrNoRows {
		return r, nil // zero shares
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetStats aggregates policy counts and premium/payout totals.
func (s *Service) GetStats(ctx context.Context) (*StatsResponse, error) {
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}

	var st StatsResponse
	st.AsOfSequence = asOf
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'Active'),
		       COUNT(*) FILTER (WHERE status = 'Claimed'),
		       COUNT(*) FILTER (WHERE status = 'Expired'),
		       COALESCE(SUM(premium), 0),
		       COALESCE(SUM(payout) FILTER (WHERE status = 'Claimed'), 0)
		FROM projections.policies
	`).Scan(
		&st.PolicyCount, &st.ActiveCount, &st.ClaimedCount,
		&st.ExpiredCount, &st.TotalPremiums, &st.TotalPayouts,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ListRecords returns raw record-log entries, newest first, with cursor
// pagination on sequence. Intended for audit tooling.
func (s *Service) ListRecords(
	ctx context.Context,
	recordType *string,
	limit int,
	beforeSeq *int64,
) ([]RecordResponse, error) {
	query := `
		SELECT sequence, record_type, payload, recorded_at
		FROM cover_log.records
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if recordType != nil {
		query += fmt.Sprintf(" AND record_type = $%d", argIdx)
		args = append(args, *recordType)
		argIdx++
	}
	if beforeSeq != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSeq)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RecordResponse
	for rows.Next() {
		var r RecordResponse
		if err := rows.Scan(&r.Sequence, &r.RecordType, &r.Payload, &r.RecordedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Service) watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE id = 1`,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("watermark: %w", err)
	}
	return seq, nil
}
