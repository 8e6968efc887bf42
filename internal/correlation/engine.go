// Package correlation matches inbound bus messages back to the pending
// request log row that is waiting on them, the same responsibility the
// teacher's event_response_processor gives to outbound WhatsApp delivery
// receipts, but pointed the other direction: here the bus message is the
// thing arriving, and a row already on disk is the thing it resolves.
package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/reqgateway/gateway/internal/observability"
	"github.com/reqgateway/gateway/internal/requestlog"
)

const unmatchedPrefix = "UNMATCHED_"

// CancellationChecker reports whether a request was cancelled by its
// caller before a response arrived. Satisfied by *cancellation.Set.
type CancellationChecker interface {
	IsCancelled(ctx context.Context, requestID string) bool
}

// Engine resolves MessageReceived values against the request log and
// drives the PENDING -> terminal transition.
type Engine struct {
	store   requestlog.Store
	cancel  CancellationChecker
	log     *slog.Logger
	metrics *observability.Metrics
	seq     func() int64
}

// New constructs an Engine. seq supplies the monotonic tag used to name
// orphan rows when a message's id does not match any known request; pass
// a counter or a clock-derived source, never time.Now() alone, so two
// unmatched messages in the same nanosecond still get distinct ids.
func New(store requestlog.Store, cancel CancellationChecker, log *slog.Logger, metrics *observability.Metrics, seq func() int64) *Engine {
	return &Engine{store: store, cancel: cancel, log: log, metrics: metrics, seq: seq}
}

// Correlate implements the per-message contract: resolve the candidate
// row, skip already-terminal and cancelled requests, classify the
// response by subject suffix, and apply the conditional transition.
func (e *Engine) Correlate(ctx context.Context, msg MessageReceived) error {
	rec, err := e.store.FindByRequestID(ctx, msg.ExtractedID)
	if err != nil {
		if err == requestlog.ErrNotFound {
			return e.recordOrphan(ctx, msg, "no matching pending request")
		}
		return fmt.Errorf("resolve request %s: %w", msg.ExtractedID, err)
	}

	if rec.Status.IsTerminal() {
		e.log.Info("duplicate response for already-terminal request",
			slog.String("request_id", msg.ExtractedID),
			slog.String("status", string(rec.Status)),
			slog.String("subject", msg.Subject))
		e.bumpDuplicate(msg.Subject)
		return nil
	}

	if e.cancel != nil && e.cancel.IsCancelled(ctx, msg.ExtractedID) {
		reason := "cancelled by caller"
		now := time.Now().UTC()
		updated, err := e.store.MarkResponse(ctx, msg.ExtractedID, requestlog.StatusFailed, msg.Payload, &reason, now, "correlation-engine")
		if err != nil {
			return fmt.Errorf("mark cancelled request %s: %w", msg.ExtractedID, err)
		}
		if updated == 0 {
			e.bumpDuplicate(msg.Subject)
		}
		return nil
	}

	kind := classify(msg.Subject)
	if kind == kindDelayed {
		e.log.Debug("delayed notice received, leaving request pending",
			slog.String("request_id", msg.ExtractedID), slog.String("subject", msg.Subject))
		return nil
	}

	terminal, errMsg := outcome(kind, msg.Payload)
	now := time.Now().UTC()
	updated, err := e.store.MarkResponse(ctx, msg.ExtractedID, terminal, msg.Payload, errMsg, now, "correlation-engine")
	if err != nil {
		return fmt.Errorf("mark response for request %s: %w", msg.ExtractedID, err)
	}
	if updated == 0 {
		e.log.Info("response lost the race to a concurrent transition",
			slog.String("request_id", msg.ExtractedID), slog.String("subject", msg.Subject))
		e.bumpDuplicate(msg.Subject)
	}
	return nil
}

// RecordUnprocessable logs a message that could not even be decoded (bad
// JSON or a missing id field) as an orphan ERROR row, per the
// SERIALIZATION_ERROR taxonomy entry: the message itself is still acked,
// never retried. A body that is not valid JSON is stored as a JSON string
// holding its raw text, since the request log's payload columns are JSONB.
func (e *Engine) RecordUnprocessable(ctx context.Context, subject string, payload []byte, reason string) error {
	if !json.Valid(payload) {
		if quoted, err := json.Marshal(string(payload)); err == nil {
			payload = quoted
		}
	}
	return e.recordOrphan(ctx, MessageReceived{Subject: subject, Payload: payload}, reason)
}

func (e *Engine) recordOrphan(ctx context.Context, msg MessageReceived, reason string) error {
	requestID := fmt.Sprintf("%s%d", unmatchedPrefix, e.seq())
	if err := e.store.InsertOrphan(ctx, requestID, msg.Subject, msg.Payload, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("record orphan message on %s: %w", msg.Subject, err)
	}
	e.log.Warn("inbound message did not match a pending request",
		slog.String("subject", msg.Subject),
		slog.String("extracted_id", msg.ExtractedID),
		slog.String("orphan_request_id", requestID))
	return nil
}

func (e *Engine) bumpDuplicate(subject string) {
	if e.metrics != nil {
		e.metrics.DuplicateResponse.WithLabelValues(subject).Inc()
	}
}

type responseKind int

const (
	kindSuccess responseKind = iota
	kindError
	kindDelayed
	kindOther
)

// classify reads the response kind from the dot-separated subject suffix
// convention: the first segment that is "success", "error" or "delayed"
// decides the kind; a subject with none of them is treated as a plain
// success notice.
func classify(subject string) responseKind {
	parts := strings.Split(subject, ".")
	for _, p := range parts {
		switch p {
		case "success":
			return kindSuccess
		case "error":
			return kindError
		case "delayed":
			return kindDelayed
		}
	}
	return kindOther
}

func outcome(kind responseKind, payload json.RawMessage) (requestlog.Status, *string) {
	if kind != kindError {
		return requestlog.StatusSuccess, nil
	}
	msg := extractErrorMessage(payload)
	return requestlog.StatusFailed, &msg
}

func extractErrorMessage(payload json.RawMessage) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Error == "" {
		return "Unknown error"
	}
	return body.Error
}
