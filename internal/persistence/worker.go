package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ParaCover/internal/event"
	"ParaCover/internal/observability"

	"github.com/rs/zerolog"
)

// Worker drains the persist channel and batch-writes records and projections
// to Postgres. The ledger emits with BLOCKING sends on this channel, so if
// the worker falls behind the write path stalls — no record is ever lost.
type Worker struct {
	writer       *RecordWriter
	input        <-chan event.Envelope
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	input <-chan event.Envelope,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewRecordWriter(db),
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          observability.NewLogger("persistence"),
	}
}

// Run batches incoming envelopes and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]event.Envelope, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Envelopes already buffered on the channel were accepted by a
			// blocking send; drain them into the final flush too.
		drain:
			for {
				select {
				case env, ok := <-w.input:
					if !ok {
						break drain
					}
					batch = append(batch, env)
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case env, ok := <-w.input:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			batch = append(batch, env)
			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops
// records; on shutdown it makes one final attempt with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, batch []event.Envelope) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("records", len(batch)).
				Msg("persistence retry")
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("final flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, batch); err == nil {
			if attempt > 0 {
				w.log.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []event.Envelope) error {
	start := time.Now()

	rows := make([]RecordRow, 0, len(batch))
	for _, env := range batch {
		row, err := RowFromEnvelope(env)
		if err != nil {
			if w.metrics != nil {
				w.metrics.PersistErrors.WithLabelValues("marshal").Inc()
			}
			return err
		}
		rows = append(rows, row)
	}

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	// Skip projection updates already applied before a crash; the record
	// insert below is idempotent on its own via ON CONFLICT.
	var watermark int64
	if err := tx.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE id = 1 FOR UPDATE`,
	).Scan(&watermark); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("watermark").Inc()
		}
		return fmt.Errorf("read watermark: %w", err)
	}
	fresh := batch[:0:0]
	for _, env := range batch {
		if int64(env.Sequence) > watermark {
			fresh = append(fresh, env)
		}
	}

	if err := w.writer.WriteRecordBatch(ctx, tx, rows); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_records").Inc()
		}
		return err
	}
	if err := w.writer.ApplyProjections(ctx, tx, fresh); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("projections").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(rows)))
		w.metrics.PersistRecordsWritten.Add(float64(len(rows)))
		w.metrics.PersistLastSequence.Set(float64(rows[len(rows)-1].Sequence))
	}
	return nil
}
