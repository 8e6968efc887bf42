// Package orchestrator implements RequestOrchestrator.SendRequest: the
// entry point that turns a caller's submit call into a durable PENDING
// row, an active listener on the caller's response subject, and a
// published bus message — asynchronously, with no blocking wait for the
// response.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/reqgateway/gateway/internal/observability"
	"github.com/reqgateway/gateway/internal/requestlog"
)

// Publisher abstracts the bus client's publish call.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// ListenerEnsurer abstracts ListenerManager.EnsureActive.
type ListenerEnsurer interface {
	EnsureActive(ctx context.Context, subject, idField string) error
}

// SendParams is a single request submission.
type SendParams struct {
	Subject         string
	Payload         []byte
	ResponseSubject *string
	ResponseIDField *string
	TimeoutSeconds  *int64
}

// Orchestrator implements SendRequest.
type Orchestrator struct {
	store     requestlog.Store
	listeners ListenerEnsurer
	publisher Publisher
	log       *slog.Logger
	metrics   *observability.Metrics
}

// New constructs an Orchestrator.
func New(store requestlog.Store, listeners ListenerEnsurer, publisher Publisher, log *slog.Logger, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{store: store, listeners: listeners, publisher: publisher, log: log, metrics: metrics}
}

// SendRequest generates a request id, persists a PENDING row, ensures a
// listener is running on the caller's response subject (if any), and
// publishes the request payload. The publish step retries once on
// transient bus errors, mirroring the teacher's withDatabaseRetry policy.
// If publishing ultimately fails, the row is transitioned PENDING->ERROR
// and the error is returned; the caller never blocks for a response.
func (o *Orchestrator) SendRequest(ctx context.Context, p SendParams) (string, error) {
	requestID := uuid.NewString()

	_, err := o.store.InsertPending(ctx, requestlog.InsertParams{
		RequestID:       requestID,
		Subject:         p.Subject,
		RequestPayload:  p.Payload,
		ResponseSubject: p.ResponseSubject,
		ResponseIDField: p.ResponseIDField,
		TimeoutDuration: p.TimeoutSeconds,
		Actor:           "request-orchestrator",
	})
	if err != nil {
		return "", fmt.Errorf("insert pending request: %w", err)
	}

	if p.ResponseSubject != nil && p.ResponseIDField != nil {
		if err := o.listeners.EnsureActive(ctx, *p.ResponseSubject, *p.ResponseIDField); err != nil {
			o.log.Error("failed to ensure listener active", slog.String("request_id", requestID), slog.String("error", err.Error()))
		}
	}

	start := time.Now()
	publishErr := retry.Do(
		func() error {
			_, err := o.publisher.Publish(ctx, p.Subject, p.Payload)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			o.log.Warn("publish failed, retrying", slog.String("request_id", requestID), slog.Uint64("attempt", uint64(attempt)), slog.String("error", err.Error()))
		}),
	)
	if o.metrics != nil {
		o.metrics.PublishDuration.Observe(time.Since(start).Seconds())
	}

	if publishErr != nil {
		now := time.Now().UTC()
		if _, markErr := o.store.MarkError(ctx, requestID, publishErr.Error(), now, "request-orchestrator"); markErr != nil {
			o.log.Error("failed to mark publish failure", slog.String("request_id", requestID), slog.String("error", markErr.Error()))
		}
		o.bumpOutcome("publish_failed")
		return requestID, fmt.Errorf("publish request %s: %w", requestID, publishErr)
	}

	o.bumpOutcome("published")
	return requestID, nil
}

func (o *Orchestrator) bumpOutcome(outcome string) {
	if o.metrics == nil {
		return
	}
	o.metrics.RequestsTotal.WithLabelValues(outcome).Inc()
	o.metrics.MessagesPublished.WithLabelValues(outcome).Inc()
}
