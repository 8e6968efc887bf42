// Package requestlog persists the NATS_REQUEST_LOG table: the durable
// record of every request the gateway has published, its listener binding,
// and its terminal outcome.
package requestlog

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of a RequestLog row. PENDING is the only
// non-terminal state; every other value is absorbing.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusTimeout Status = "TIMEOUT"
	StatusError   Status = "ERROR"
)

// IsTerminal reports whether s is an absorbing status.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// Record is a single NATS_REQUEST_LOG row.
type Record struct {
	ID               int64
	RequestID        string
	Subject          string
	RequestPayload   json.RawMessage
	ResponseSubject  *string
	ResponseIDField  *string
	Status           Status
	RequestTimestamp time.Time
	ResponseTimestamp *time.Time
	CreatedDate      time.Time
	UpdatedDate      time.Time
	ResponsePayload  json.RawMessage
	ErrorMessage     *string
	RetryCount       int
	TimeoutDuration  *int64
	CreatedBy        string
	UpdatedBy        string
}

// ErrDuplicateRequestID is returned by InsertPending when requestId already
// exists — maps to the abstract DUPLICATE_REQUEST_ID error kind.
var ErrDuplicateRequestID = errors.New("requestlog: duplicate request id")

// ErrNotFound is returned by FindByRequestID when no row matches.
var ErrNotFound = errors.New("requestlog: not found")
