// Package sweeper runs TimeoutSweeper: a fixed-schedule scan that
// transitions PENDING rows older than the timeout threshold to TIMEOUT,
// the same shape as the teacher's periodic background jobs but over the
// request log instead of a proxy health table.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/reqgateway/gateway/internal/observability"
	"github.com/reqgateway/gateway/internal/requestlog"
)

// CancellationChecker reports whether a request was cancelled by its
// caller before the sweeper reached it. Satisfied by *cancellation.Set.
type CancellationChecker interface {
	IsCancelled(ctx context.Context, requestID string) bool
}

// Config parameterizes the sweep schedule and timeout threshold.
type Config struct {
	Interval       time.Duration
	DefaultTimeout time.Duration
	BatchLimit     int
}

// DefaultConfig matches spec.md's named defaults: a 5s sweep interval and
// a 30s default request timeout.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second, DefaultTimeout: 30 * time.Second, BatchLimit: 500}
}

// Sweeper periodically finds and times out stale PENDING rows.
type Sweeper struct {
	store   requestlog.Store
	cancel  CancellationChecker
	cfg     Config
	log     *slog.Logger
	metrics *observability.Metrics
}

// New constructs a Sweeper. cancel may be nil, in which case the sweeper
// never distinguishes a cancelled request from a merely-timed-out one.
func New(store requestlog.Store, cancel CancellationChecker, cfg Config, log *slog.Logger, metrics *observability.Metrics) *Sweeper {
	return &Sweeper{store: store, cancel: cancel, cfg: cfg, log: log, metrics: metrics}
}

// Run blocks on cfg.Interval ticks until ctx is cancelled, sweeping once
// per tick. A single row's sweep failure is logged and skipped; it never
// aborts the rest of the scan.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	threshold := time.Now().UTC().Add(-s.cfg.DefaultTimeout)
	rows, err := s.store.FindTimedOut(ctx, threshold, s.cfg.BatchLimit)
	if err != nil {
		s.log.Error("failed to scan for timed out requests", slog.String("error", err.Error()))
		return
	}

	for _, rec := range rows {
		now := time.Now().UTC()

		if s.cancel != nil && s.cancel.IsCancelled(ctx, rec.RequestID) {
			reason := "cancelled by caller"
			updated, err := s.store.MarkResponse(ctx, rec.RequestID, requestlog.StatusFailed, nil, &reason, now, "timeout-sweeper")
			if err != nil {
				s.log.Error("failed to mark cancelled request failed", slog.String("request_id", rec.RequestID), slog.String("error", err.Error()))
				continue
			}
			if updated == 0 {
				continue
			}
			s.log.Info("cancelled request resolved by sweeper", slog.String("request_id", rec.RequestID), slog.String("subject", rec.Subject))
			continue
		}

		updated, err := s.store.MarkTimeout(ctx, rec.RequestID, now, "timeout-sweeper")
		if err != nil {
			s.log.Error("failed to mark request timed out", slog.String("request_id", rec.RequestID), slog.String("error", err.Error()))
			continue
		}
		if updated == 0 {
			continue
		}
		s.log.Info("request timed out", slog.String("request_id", rec.RequestID), slog.String("subject", rec.Subject))
		if s.metrics != nil {
			s.metrics.RequestsTimeout.Inc()
			s.metrics.RequestsTotal.WithLabelValues("timeout").Inc()
		}
	}
}
