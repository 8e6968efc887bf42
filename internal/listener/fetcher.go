package listener

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/reqgateway/gateway/internal/correlation"
	"github.com/reqgateway/gateway/internal/observability"
)

// Correlator resolves a decoded inbound message against the request log.
type Correlator interface {
	Correlate(ctx context.Context, msg correlation.MessageReceived) error
	RecordUnprocessable(ctx context.Context, subject string, payload []byte, reason string) error
}

// BackoffConfig parameterizes the fetch loop's error back-off, per
// spec.md's delay = min(max, initial * multiplier^(consecutiveErrors-1)).
type BackoffConfig struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// DefaultBackoff matches the spec's named defaults.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Initial: 500 * time.Millisecond, Multiplier: 2.0, Max: 30 * time.Second}
}

func (b BackoffConfig) delay(consecutiveErrors int) time.Duration {
	if consecutiveErrors <= 0 {
		return 0
	}
	d := float64(b.Initial)
	for i := 1; i < consecutiveErrors; i++ {
		d *= b.Multiplier
		if d > float64(b.Max) {
			return b.Max
		}
	}
	if time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// PullFetcher runs the batched Consumer.Fetch loop for a single subject's
// durable pull consumer until its context is cancelled.
type PullFetcher struct {
	subject      string
	idField      string
	consumer     jetstream.Consumer
	correlator   Correlator
	backoff      BackoffConfig
	batchSize    int
	maxWait      time.Duration
	pollInterval time.Duration
	log          *slog.Logger
	metrics      *observability.Metrics
}

// NewPullFetcher constructs a fetch loop bound to an already-created
// durable consumer. pollInterval is the pause between fetches when a batch
// came back empty; zero falls back to a small fixed idle delay.
func NewPullFetcher(subject, idField string, consumer jetstream.Consumer, correlator Correlator, backoff BackoffConfig, batchSize int, maxWait, pollInterval time.Duration, log *slog.Logger, metrics *observability.Metrics) *PullFetcher {
	return &PullFetcher{
		subject: subject, idField: idField, consumer: consumer, correlator: correlator,
		backoff: backoff, batchSize: batchSize, maxWait: maxWait, pollInterval: pollInterval,
		log:     log.With(slog.String("subject", subject)),
		metrics: metrics,
	}
}

// Run blocks, fetching and processing batches until ctx is cancelled.
func (f *PullFetcher) Run(ctx context.Context) {
	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch, err := f.consumer.Fetch(f.batchSize, jetstream.FetchMaxWait(f.maxWait))
		if err != nil {
			if errors.Is(err, jetstream.ErrNoMessages) || errors.Is(err, context.DeadlineExceeded) {
				consecutiveErrors = 0
				continue
			}
			consecutiveErrors++
			f.bumpError("fetch")
			f.sleepWithBackoff(ctx, consecutiveErrors)
			continue
		}

		n := 0
		for msg := range batch.Messages() {
			n++
			f.handle(ctx, msg)
		}
		if batchErr := batch.Error(); batchErr != nil && !errors.Is(batchErr, jetstream.ErrNoMessages) {
			consecutiveErrors++
			f.bumpError("fetch")
			f.sleepWithBackoff(ctx, consecutiveErrors)
			continue
		}

		consecutiveErrors = 0
		if n == 0 {
			idle := f.pollInterval
			if idle <= 0 {
				idle = 10 * time.Millisecond
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(idle):
			}
		}
	}
}

func (f *PullFetcher) sleepWithBackoff(ctx context.Context, consecutiveErrors int) {
	delay := f.backoff.delay(consecutiveErrors)
	if delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func (f *PullFetcher) handle(ctx context.Context, msg jetstream.Msg) {
	f.bumpPulled("ok")

	decoded, err := decodeMessage(msg.Data(), f.idField)
	if err != nil {
		f.log.Warn("message failed to decode", slog.String("error", err.Error()))
		if recErr := f.correlator.RecordUnprocessable(ctx, f.subject, msg.Data(), err.Error()); recErr != nil {
			f.log.Error("failed to record unprocessable message", slog.String("error", recErr.Error()))
		}
		f.bumpProcessed("serialization_error")
		if termErr := msg.Term(); termErr != nil {
			f.log.Error("failed to term undecodable message", slog.String("error", termErr.Error()))
		}
		return
	}

	meta, metaErr := msg.Metadata()
	var seq uint64
	if metaErr == nil {
		seq = meta.Sequence.Stream
	}

	if err := f.correlator.Correlate(ctx, correlation.MessageReceived{
		Subject: f.subject, ExtractedID: decoded.ExtractedID, Payload: decoded.Payload, Sequence: seq,
	}); err != nil {
		f.log.Error("correlation failed", slog.String("error", err.Error()))
		f.bumpProcessed("error")
		f.bumpError("correlation")
		if nakErr := msg.Nak(); nakErr != nil {
			f.log.Error("failed to nak message after correlation error", slog.String("error", nakErr.Error()))
		}
		return
	}

	f.bumpProcessed("success")
	if err := msg.Ack(); err != nil {
		f.log.Error("failed to ack message", slog.String("error", err.Error()))
	}
}

func (f *PullFetcher) bumpPulled(status string) {
	if f.metrics != nil {
		f.metrics.ConsumerMessagesPulled.WithLabelValues(f.subject, status).Inc()
	}
}

func (f *PullFetcher) bumpProcessed(status string) {
	if f.metrics != nil {
		f.metrics.ConsumerMessagesProcessed.WithLabelValues(f.subject, status).Inc()
	}
}

func (f *PullFetcher) bumpError(kind string) {
	if f.metrics != nil {
		f.metrics.ConsumerErrors.WithLabelValues(f.subject, kind).Inc()
	}
}
