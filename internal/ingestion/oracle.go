package ingestion

import (
	"context"
	"errors"
	"time"

	"ParaCover/internal/ledger"
	"ParaCover/internal/observability"
	"ParaCover/internal/policy"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// RawReport is an unparsed oracle message pulled off NATS, ready for the
// processing goroutine to validate and apply.
type RawReport struct {
	Subject  string
	Data     []byte
	Received time.Time
	AckFunc  func()
	NakFunc  func()
}

// OracleSubscriber consumes delay reports from JetStream and feeds them into
// the processing channel. The durable consumer uses explicit ACK so reports
// survive a crash between receive and settlement.
type OracleSubscriber struct {
	js       jetstream.JetStream
	reports  chan<- RawReport
	consumer jetstream.ConsumeContext
	log      zerolog.Logger
}

func NewOracleSubscriber(js jetstream.JetStream, reports chan<- RawReport) *OracleSubscriber {
	return &OracleSubscriber{
		js:      js,
		reports: reports,
		log:     observability.NewLogger("oracle-subscriber"),
	}
}

// Subscribe creates the durable delay-report consumer.
func (os *OracleSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := os.js.CreateOrUpdateConsumer(ctx, OracleStreamName, jetstream.ConsumerConfig{
		Durable:       OracleConsumerName,
		FilterSubject: OracleSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return err
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawReport{
			Subject:  msg.Subject(),
			Data:     msg.Data(),
			Received: time.Now(),
			AckFunc:  func() { msg.Ack() },
			NakFunc:  func() { msg.Nak() },
		}

		select {
		case os.reports <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return err
	}

	os.consumer = cc
	os.log.Info().Str("subject", OracleSubjects).Str("consumer", OracleConsumerName).Msg("subscribed")
	return nil
}

// Stop gracefully stops the consumer.
func (os *OracleSubscriber) Stop() {
	if os.consumer != nil {
		os.consumer.Stop()
	}
	os.log.Info().Msg("oracle subscriber stopped")
}

// Settler is the slice of the policy controller the oracle path needs.
type Settler interface {
	PolicyIDByEventKey(flight string, scheduled time.Time) (uint64, error)
	SettleClaim(caller uuid.UUID, policyID uint64, delayHours uint64) error
	GetPolicy(policyID uint64) (policy.Policy, error)
}

// OracleProcessor drains raw reports, parses and deduplicates them, and
// settles the matching claims as the oracle identity. A single goroutine
// runs the loop, so the LRU needs no locking.
type OracleProcessor struct {
	oracle  uuid.UUID
	settler Settler
	input   <-chan RawReport
	dedup   *ReportLRU
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewOracleProcessor(
	oracle uuid.UUID,
	settler Settler,
	input <-chan RawReport,
	dedupCapacity int,
	metrics *observability.Metrics,
) *OracleProcessor {
	p := &OracleProcessor{
		oracle:  oracle,
		settler: settler,
		input:   input,
		dedup:   NewReportLRU(dedupCapacity),
		metrics: metrics,
		log:     observability.NewLogger("oracle-processor"),
	}
	if metrics != nil {
		p.dedup.SetEvictHook(metrics.DedupEvictions.Inc)
	}
	return p
}

// Run processes reports until ctx is cancelled or the channel closes.
func (p *OracleProcessor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-p.input:
			if !ok {
				return nil
			}
			p.process(raw)
		}
	}
}

func (p *OracleProcessor) process(raw RawReport) {
	report, err := ParseDelayReport(raw.Data)
	if err != nil {
		// Malformed reports will never parse; terminate redelivery.
		p.log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed delay report")
		if p.metrics != nil {
			p.metrics.OracleParseErrs.Inc()
			p.metrics.OracleReports.WithLabelValues("malformed").Inc()
		}
		raw.AckFunc()
		return
	}

	if p.dedup.Contains(report.ReportID.String()) {
		if p.metrics != nil {
			p.metrics.OracleDuplicates.Inc()
			p.metrics.OracleReports.WithLabelValues("duplicate").Inc()
		}
		raw.AckFunc()
		return
	}

	outcome := p.apply(report)
	switch outcome {
	case "retry":
		raw.NakFunc()
	default:
		p.dedup.Add(report.ReportID.String())
		raw.AckFunc()
	}

	if p.metrics != nil {
		p.metrics.OracleReports.WithLabelValues(outcome).Inc()
		p.metrics.DedupLRUSize.Set(float64(p.dedup.Size()))
		p.metrics.IngestLatency.WithLabelValues(raw.Subject).Observe(time.Since(raw.Received).Seconds())
	}
}

// apply maps a report to a settlement outcome. Reports that can never
// succeed (no policy, already resolved, delay below threshold) are final;
// anything else is retried through NATS redelivery.
func (p *OracleProcessor) apply(report DelayReport) string {
	policyID, err := p.settler.PolicyIDByEventKey(report.Flight, report.ScheduledTime)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			p.log.Debug().
				Str("flight", report.Flight).
				Time("scheduled", report.ScheduledTime).
				Msg("delay report for uncovered flight")
			return "no_policy"
		}
		p.log.Error().Err(err).Str("flight", report.Flight).Msg("policy lookup failed")
		return "retry"
	}

	err = p.settler.SettleClaim(p.oracle, policyID, report.DelayHours)
	switch {
	case err == nil:
		p.log.Info().
			Uint64("policy_id", policyID).
			Str("flight", report.Flight).
			Uint64("delay_hours", report.DelayHours).
			Msg("claim settled")
		if p.metrics != nil {
			p.metrics.ClaimsSettled.Inc()
			p.metrics.PoolWithdrawals.WithLabelValues("authorized").Inc()
			if settled, perr := p.settler.GetPolicy(policyID); perr == nil {
				p.metrics.PayoutsTotal.Add(float64(settled.Payout))
			}
		}
		return "settled"
	case errors.Is(err, ledger.ErrInvalidState):
		// Already resolved, or the delay is below the claim threshold.
		p.log.Debug().Err(err).Uint64("policy_id", policyID).Msg("report did not settle")
		return "no_claim"
	default:
		p.log.Error().Err(err).Uint64("policy_id", policyID).Msg("settlement failed")
		return "retry"
	}
}
