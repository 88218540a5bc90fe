package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"ParaCover/internal/event"
	"ParaCover/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// RecordPublisher publishes emitted records to NATS for downstream
// consumers. Subjects follow cover.ledger.records.{record_type}. Publishing
// is best-effort: the record log in Postgres is the source of truth, so a
// failed publish is logged and skipped rather than retried.
type RecordPublisher struct {
	js    jetstream.JetStream
	input <-chan event.Envelope
	log   zerolog.Logger
}

// publishedRecord is the outbound wire format.
type publishedRecord struct {
	Sequence   uint64      `json:"sequence"`
	RecordType string      `json:"record_type"`
	Timestamp  int64       `json:"timestamp_unix"`
	Payload    interface{} `json:"payload"`
}

func NewRecordPublisher(js jetstream.JetStream, input <-chan event.Envelope) *RecordPublisher {
	return &RecordPublisher{
		js:    js,
		input: input,
		log:   observability.NewLogger("publisher"),
	}
}

// Run starts the outbound publisher loop.
func (rp *RecordPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-rp.input:
			if !ok {
				return nil
			}

			if err := rp.publish(ctx, env); err != nil {
				rp.log.Warn().Err(err).Uint64("sequence", env.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (rp *RecordPublisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(publishedRecord{
		Sequence:   env.Sequence,
		RecordType: env.Type.String(),
		Timestamp:  env.Timestamp.Unix(),
		Payload:    env.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", RecordSubjectPrefix, env.Type)
	_, err = rp.js.Publish(ctx, subject, data)
	return err
}
