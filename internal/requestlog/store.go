package requestlog

import (
	"context"
	"time"
)

// InsertParams binds a new PENDING row.
type InsertParams struct {
	RequestID       string
	Subject         string
	RequestPayload  []byte
	ResponseSubject *string
	ResponseIDField *string
	TimeoutDuration *int64
	Actor           string
}

// Store is the persistence contract the rest of CORE depends on. All
// terminal-state transitions are conditional on the row's current status
// being PENDING and run in their own short transaction — no read-then-write.
type Store interface {
	InsertPending(ctx context.Context, p InsertParams) (*Record, error)

	// MarkResponse performs the conditional PENDING->terminal transition.
	// updated is 0 when a concurrent writer (timeout or duplicate response)
	// already resolved the row; that is not an error.
	MarkResponse(ctx context.Context, requestID string, terminal Status, payload []byte, errMsg *string, now time.Time, actor string) (updated int, err error)

	// MarkTimeout performs the conditional PENDING->TIMEOUT transition.
	MarkTimeout(ctx context.Context, requestID string, now time.Time, actor string) (updated int, err error)

	// MarkError performs the conditional PENDING->ERROR transition, used
	// when RequestOrchestrator's publish step fails after insertPending.
	MarkError(ctx context.Context, requestID string, errMsg string, now time.Time, actor string) (updated int, err error)

	FindByRequestID(ctx context.Context, requestID string) (*Record, error)
	FindByStatus(ctx context.Context, status Status, limit int) ([]*Record, error)

	// FindTimedOut returns PENDING rows with requestTimestamp <= threshold,
	// bounded to at most limit rows per scan.
	FindTimedOut(ctx context.Context, threshold time.Time, limit int) ([]*Record, error)

	// InsertOrphan records an unmatched inbound message as an ERROR row
	// with a requestId prefixed "UNMATCHED_".
	InsertOrphan(ctx context.Context, requestID, subject string, payload []byte, reason string, now time.Time) error
}
