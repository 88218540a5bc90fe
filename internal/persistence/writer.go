package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ParaCover/internal/event"
)

// RecordWriter writes emitted records and maintains the projection tables
// inside the same transaction, so projections never run ahead of the record
// log. Batch writes use multi-row INSERT with ON CONFLICT DO NOTHING on the
// sequence column, which makes replays after a crash idempotent.
type RecordWriter struct {
	db *sql.DB
}

// RecordRow is a row in cover_log.records.
type RecordRow struct {
	Sequence   int64
	RecordType string
	Payload    []byte
	Timestamp  time.Time
}

func NewRecordWriter(db *sql.DB) *RecordWriter {
	return &RecordWriter{db: db}
}

func (w *RecordWriter) DB() *sql.DB { return w.db }

// RowFromEnvelope serializes an envelope for the record log.
func RowFromEnvelope(env event.Envelope) (RecordRow, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return RecordRow{}, fmt.Errorf("marshal record payload: %w", err)
	}
	return RecordRow{
		Sequence:   int64(env.Sequence),
		RecordType: env.Type.String(),
		Payload:    payload,
		Timestamp:  env.Timestamp,
	}, nil
}

// WriteRecordBatch inserts a batch of records within tx.
func (w *RecordWriter) WriteRecordBatch(ctx context.Context, tx *sql.Tx, rows []RecordRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO cover_log.records
		(sequence, record_type, payload, recorded_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*4)

	for i, r := range rows {
		base := i * 4
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4,
		))
		args = append(args, r.Sequence, r.RecordType, r.Payload, r.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// ApplyProjections folds a batch of envelopes into the projection tables.
// Must run in the same tx as WriteRecordBatch for the batch.
func (w *RecordWriter) ApplyProjections(ctx context.Context, tx *sql.Tx, envs []event.Envelope) error {
	for _, env := range envs {
		if err := w.applyOne(ctx, tx, env); err != nil {
			return fmt.Errorf("apply projection for seq %d (%s): %w", env.Sequence, env.Type, err)
		}
	}
	if len(envs) > 0 {
		last := envs[len(envs)-1].Sequence
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.watermark
			SET last_sequence = GREATEST(last_sequence, $1), updated_at = NOW()
			WHERE id = 1
		`, int64(last)); err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
	}
	return nil
}

func (w *RecordWriter) applyOne(ctx context.Context, tx *sql.Tx, env event.Envelope) error {
	switch p := env.Payload.(type) {
	case event.PolicyCreated:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.policies
				(policy_id, holder, flight, scheduled_time, premium, payout, status, created_at, updated_seq)
			VALUES ($1, $2, $3, $4, $5, $6, 'Active', $7, $8)
			ON CONFLICT (policy_id) DO NOTHING
		`, int64(p.PolicyID), p.Holder, p.Flight, p.ScheduledTime,
			int64(p.Premium), int64(p.Payout), env.Timestamp, int64(env.Sequence))
		return err

	case event.ClaimSettled:
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.policies
			SET status = 'Claimed', updated_seq = $2
			WHERE policy_id = $1 AND updated_seq < $2
		`, int64(p.PolicyID), int64(env.Sequence))
		return err

	case event.PolicyExpired:
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.policies
			SET status = 'Expired', updated_seq = $2
			WHERE policy_id = $1 AND updated_seq < $2
		`, int64(p.PolicyID), int64(env.Sequence))
		return err

	case event.CapitalDeposited:
		if err := w.setPoolTotals(ctx, tx, env.Sequence, p.TotalAssets, p.TotalShares); err != nil {
			return err
		}
		return w.adjustShares(ctx, tx, p.Receiver.String(), int64(p.Shares))

	case event.CapitalWithdrawn:
		if err := w.setPoolTotals(ctx, tx, env.Sequence, p.TotalAssets, p.TotalShares); err != nil {
			return err
		}
		return w.adjustShares(ctx, tx, p.Owner.String(), -int64(p.Shares))

	default:
		// Escrow and administrative records live in the log only.
		return nil
	}
}

func (w *RecordWriter) setPoolTotals(ctx context.Context, tx *sql.Tx, seq, totalAssets, totalShares uint64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE projections.pool
		SET total_assets = $1, total_shares = $2, updated_seq = $3
		WHERE id = 1 AND updated_seq < $3
	`, int64(totalAssets), int64(totalShares), int64(seq))
	return err
}

func (w *RecordWriter) adjustShares(ctx context.Context, tx *sql.Tx, holder string, delta int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.shareholders (holder, shares)
		VALUES ($1, $2)
		ON CONFLICT (holder) DO UPDATE SET shares = projections.shareholders.shares + $2
	`, holder, delta)
	return err
}
