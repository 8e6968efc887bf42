package correlation

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqgateway/gateway/internal/observability"
	"github.com/reqgateway/gateway/internal/requestlog"
)

type fakeCancelChecker struct{ cancelled map[string]bool }

func (f *fakeCancelChecker) IsCancelled(ctx context.Context, requestID string) bool {
	return f.cancelled[requestID]
}

func testEngine(t *testing.T) (*Engine, *requestlog.FakeStore) {
	t.Helper()
	store := requestlog.NewFakeStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics("test_correlation", prometheus.NewRegistry())
	var n int64
	eng := New(store, nil, log, metrics, func() int64 { n++; return n })
	return eng, store
}

func TestCorrelate_Success(t *testing.T) {
	eng, store := testEngine(t)
	ctx := context.Background()

	rec, err := store.InsertPending(ctx, requestlog.InsertParams{
		RequestID: "req-1", Subject: "gw.requests.widget", RequestPayload: []byte(`{}`), Actor: "test",
	})
	require.NoError(t, err)

	err = eng.Correlate(ctx, MessageReceived{
		Subject: "gw.responses.widget.success.v1", ExtractedID: rec.RequestID, Payload: []byte(`{"ok":true}`),
	})
	require.NoError(t, err)

	got, err := store.FindByRequestID(ctx, rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, requestlog.StatusSuccess, got.Status)
}

func TestCorrelate_Error(t *testing.T) {
	eng, store := testEngine(t)
	ctx := context.Background()

	rec, err := store.InsertPending(ctx, requestlog.InsertParams{
		RequestID: "req-2", Subject: "gw.requests.widget", RequestPayload: []byte(`{}`), Actor: "test",
	})
	require.NoError(t, err)

	err = eng.Correlate(ctx, MessageReceived{
		Subject: "gw.responses.widget.error.v1", ExtractedID: rec.RequestID, Payload: []byte(`{"error":"boom"}`),
	})
	require.NoError(t, err)

	got, err := store.FindByRequestID(ctx, rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, requestlog.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "boom", *got.ErrorMessage)
}

func TestCorrelate_ErrorMissingField(t *testing.T) {
	eng, store := testEngine(t)
	ctx := context.Background()

	rec, err := store.InsertPending(ctx, requestlog.InsertParams{
		RequestID: "req-3", Subject: "gw.requests.widget", RequestPayload: []byte(`{}`), Actor: "test",
	})
	require.NoError(t, err)

	err = eng.Correlate(ctx, MessageReceived{
		Subject: "gw.responses.widget.error.v1", ExtractedID: rec.RequestID, Payload: []byte(`{}`),
	})
	require.NoError(t, err)

	got, err := store.FindByRequestID(ctx, rec.RequestID)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "Unknown error", *got.ErrorMessage)
}

func TestCorrelate_Delayed_NoTransition(t *testing.T) {
	eng, store := testEngine(t)
	ctx := context.Background()

	rec, err := store.InsertPending(ctx, requestlog.InsertParams{
		RequestID: "req-4", Subject: "gw.requests.widget", RequestPayload: []byte(`{}`), Actor: "test",
	})
	require.NoError(t, err)

	err = eng.Correlate(ctx, MessageReceived{
		Subject: "gw.responses.widget.delayed.v1", ExtractedID: rec.RequestID, Payload: []byte(`{}`),
	})
	require.NoError(t, err)

	got, err := store.FindByRequestID(ctx, rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, requestlog.StatusPending, got.Status)
}

func TestCorrelate_DuplicateResponse_NoOp(t *testing.T) {
	eng, store := testEngine(t)
	ctx := context.Background()

	rec, err := store.InsertPending(ctx, requestlog.InsertParams{
		RequestID: "req-5", Subject: "gw.requests.widget", RequestPayload: []byte(`{}`), Actor: "test",
	})
	require.NoError(t, err)

	msg := MessageReceived{Subject: "gw.responses.widget.success.v1", ExtractedID: rec.RequestID, Payload: []byte(`{}`)}
	require.NoError(t, eng.Correlate(ctx, msg))
	require.NoError(t, eng.Correlate(ctx, msg))

	got, err := store.FindByRequestID(ctx, rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, requestlog.StatusSuccess, got.Status)
}

func TestCorrelate_Cancelled_MarksFailed(t *testing.T) {
	store := requestlog.NewFakeStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics("test_correlation_cancel", prometheus.NewRegistry())
	var n int64
	checker := &fakeCancelChecker{cancelled: map[string]bool{"req-6": true}}
	eng := New(store, checker, log, metrics, func() int64 { n++; return n })
	ctx := context.Background()

	rec, err := store.InsertPending(ctx, requestlog.InsertParams{
		RequestID: "req-6", Subject: "gw.requests.widget", RequestPayload: []byte(`{}`), Actor: "test",
	})
	require.NoError(t, err)

	err = eng.Correlate(ctx, MessageReceived{
		Subject: "gw.responses.widget.success.v1", ExtractedID: rec.RequestID, Payload: []byte(`{"ok":true}`),
	})
	require.NoError(t, err)

	got, err := store.FindByRequestID(ctx, rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, requestlog.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "cancelled by caller", *got.ErrorMessage)
}

func TestCorrelate_Unmatched_RecordsOrphan(t *testing.T) {
	eng, store := testEngine(t)
	ctx := context.Background()

	err := eng.Correlate(ctx, MessageReceived{
		Subject: "gw.responses.widget.success.v1", ExtractedID: "does-not-exist", Payload: []byte(`{}`),
	})
	require.NoError(t, err)

	rows, err := store.FindByStatus(ctx, requestlog.StatusError, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "UNMATCHED_1", rows[0].RequestID)
}
