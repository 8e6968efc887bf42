package sweeper

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqgateway/gateway/internal/observability"
	"github.com/reqgateway/gateway/internal/requestlog"
)

func TestSweepOnce_TimesOutStaleRequests(t *testing.T) {
	store := requestlog.NewFakeStore()
	ctx := context.Background()

	rec, err := store.InsertPending(ctx, requestlog.InsertParams{
		RequestID: "stale-1", Subject: "gw.requests.widget", RequestPayload: []byte(`{}`), Actor: "test",
	})
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics("test_sweeper", prometheus.NewRegistry())
	sw := New(store, nil, Config{Interval: time.Second, DefaultTimeout: 0, BatchLimit: 10}, log, metrics)

	sw.sweepOnce(ctx)

	got, err := store.FindByRequestID(ctx, rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, requestlog.StatusTimeout, got.Status)
}

func TestSweepOnce_CancelledRequest_MarksFailed(t *testing.T) {
	store := requestlog.NewFakeStore()
	ctx := context.Background()

	rec, err := store.InsertPending(ctx, requestlog.InsertParams{
		RequestID: "stale-cancelled-1", Subject: "gw.requests.widget", RequestPayload: []byte(`{}`), Actor: "test",
	})
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics("test_sweeper_cancel", prometheus.NewRegistry())
	checker := &fakeCancelChecker{cancelled: map[string]bool{rec.RequestID: true}}
	sw := New(store, checker, Config{Interval: time.Second, DefaultTimeout: 0, BatchLimit: 10}, log, metrics)

	sw.sweepOnce(ctx)

	got, err := store.FindByRequestID(ctx, rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, requestlog.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "cancelled by caller", *got.ErrorMessage)
}

type fakeCancelChecker struct{ cancelled map[string]bool }

func (f *fakeCancelChecker) IsCancelled(ctx context.Context, requestID string) bool {
	return f.cancelled[requestID]
}

func TestSweepOnce_LeavesFreshRequestsPending(t *testing.T) {
	store := requestlog.NewFakeStore()
	ctx := context.Background()

	rec, err := store.InsertPending(ctx, requestlog.InsertParams{
		RequestID: "fresh-1", Subject: "gw.requests.widget", RequestPayload: []byte(`{}`), Actor: "test",
	})
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics("test_sweeper_fresh", prometheus.NewRegistry())
	sw := New(store, nil, Config{Interval: time.Second, DefaultTimeout: time.Hour, BatchLimit: 10}, log, metrics)

	sw.sweepOnce(ctx)

	got, err := store.FindByRequestID(ctx, rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, requestlog.StatusPending, got.Status)
}
