// Package recovery restarts listeners for in-flight requests after a
// restart or failover, guarded by a single-instance lock the same way the
// teacher guards its proxy takeover path with locks.Manager.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reqgateway/gateway/internal/locks"
	"github.com/reqgateway/gateway/internal/requestlog"
)

const lockKey = "listener-recovery-lock"

// ListenerEnsurer abstracts ListenerManager.EnsureActive.
type ListenerEnsurer interface {
	EnsureActive(ctx context.Context, subject, idField string) error
}

// Config parameterizes recovery lock TTL.
type Config struct {
	LockTTLSeconds int
}

// DefaultConfig matches spec.md's named default: 60s lock TTL.
func DefaultConfig() Config {
	return Config{LockTTLSeconds: 60}
}

// Service runs the one-shot recovery scan at startup.
type Service struct {
	store     requestlog.Store
	listeners ListenerEnsurer
	lockMgr   locks.Manager
	cfg       Config
	log       *slog.Logger
}

// New constructs a Service.
func New(store requestlog.Store, listeners ListenerEnsurer, lockMgr locks.Manager, cfg Config, log *slog.Logger) *Service {
	return &Service{store: store, listeners: listeners, lockMgr: lockMgr, cfg: cfg, log: log}
}

// Recover acquires the listener recovery lock and, if successful,
// re-ensures a listener for every PENDING row with a response binding.
// Rows with no response subject/id field are not retryable into a
// listener and are logged as lossy — they can only resolve by sweeper
// timeout from here on. If the lock is not acquired (another instance
// holds it), Recover returns nil without error; the caller's own
// SendRequest calls still ensure listeners going forward.
func (s *Service) Recover(ctx context.Context) error {
	lock, acquired, err := s.lockMgr.Acquire(ctx, lockKey, s.cfg.LockTTLSeconds)
	if err != nil {
		return fmt.Errorf("acquire recovery lock: %w", err)
	}
	if !acquired {
		s.log.Info("recovery lock held by another instance, skipping scan")
		return nil
	}
	defer func() {
		if relErr := lock.Release(ctx); relErr != nil {
			s.log.Error("failed to release recovery lock", slog.String("error", relErr.Error()))
		}
	}()

	rows, err := s.store.FindByStatus(ctx, requestlog.StatusPending, 0)
	if err != nil {
		return fmt.Errorf("find pending requests: %w", err)
	}

	recovered, lossy := 0, 0
	for _, rec := range rows {
		if rec.ResponseSubject == nil || rec.ResponseIDField == nil {
			lossy++
			s.log.Warn("pending request has no response binding, cannot re-arm listener",
				slog.String("request_id", rec.RequestID), slog.String("subject", rec.Subject))
			continue
		}
		if err := s.listeners.EnsureActive(ctx, *rec.ResponseSubject, *rec.ResponseIDField); err != nil {
			s.log.Error("failed to re-arm listener during recovery",
				slog.String("request_id", rec.RequestID), slog.String("error", err.Error()))
			continue
		}
		recovered++
	}

	s.log.Info("recovery scan complete",
		slog.Int("pending", len(rows)), slog.Int("recovered", recovered), slog.Int("lossy", lossy),
		slog.Time("ran_at", time.Now().UTC()))
	return nil
}
