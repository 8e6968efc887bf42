package requestlog

import (
	"context"
	"sync"
	"time"
)

// FakeStore is an in-memory Store used by correlation/orchestrator/sweeper
// unit tests that exercise conditional-transition semantics without a real
// Postgres instance.
type FakeStore struct {
	mu      sync.Mutex
	byID    map[string]*Record
	nextSeq int64
}

// NewFakeStore returns an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{byID: make(map[string]*Record)}
}

func (s *FakeStore) InsertPending(ctx context.Context, p InsertParams) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[p.RequestID]; exists {
		return nil, ErrDuplicateRequestID
	}
	s.nextSeq++
	now := time.Now().UTC()
	rec := &Record{
		ID:               s.nextSeq,
		RequestID:        p.RequestID,
		Subject:          p.Subject,
		RequestPayload:   p.RequestPayload,
		ResponseSubject:  p.ResponseSubject,
		ResponseIDField:  p.ResponseIDField,
		Status:           StatusPending,
		RequestTimestamp: now,
		CreatedDate:      now,
		UpdatedDate:      now,
		TimeoutDuration:  p.TimeoutDuration,
		CreatedBy:        p.Actor,
		UpdatedBy:        p.Actor,
	}
	s.byID[p.RequestID] = rec
	cp := *rec
	return &cp, nil
}

func (s *FakeStore) MarkResponse(ctx context.Context, requestID string, terminal Status, payload []byte, errMsg *string, now time.Time, actor string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[requestID]
	if !ok || rec.Status != StatusPending {
		return 0, nil
	}
	rec.Status = terminal
	rec.ResponsePayload = payload
	rec.ErrorMessage = errMsg
	rec.ResponseTimestamp = &now
	rec.UpdatedDate = now
	rec.UpdatedBy = actor
	return 1, nil
}

func (s *FakeStore) MarkTimeout(ctx context.Context, requestID string, now time.Time, actor string) (int, error) {
	reason := "request timed out"
	return s.MarkResponse(ctx, requestID, StatusTimeout, nil, &reason, now, actor)
}

func (s *FakeStore) MarkError(ctx context.Context, requestID string, errMsg string, now time.Time, actor string) (int, error) {
	return s.MarkResponse(ctx, requestID, StatusError, nil, &errMsg, now, actor)
}

func (s *FakeStore) FindByRequestID(ctx context.Context, requestID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *FakeStore) FindByStatus(ctx context.Context, status Status, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, rec := range s.byID {
		if rec.Status == status {
			cp := *rec
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *FakeStore) FindTimedOut(ctx context.Context, threshold time.Time, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, rec := range s.byID {
		if rec.Status == StatusPending && !rec.RequestTimestamp.After(threshold) {
			cp := *rec
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *FakeStore) InsertOrphan(ctx context.Context, requestID, subject string, payload []byte, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[requestID]; exists {
		return nil
	}
	s.nextSeq++
	rec := &Record{
		ID:                s.nextSeq,
		RequestID:         requestID,
		Subject:           subject,
		RequestPayload:    payload,
		Status:            StatusError,
		RequestTimestamp:  now,
		ResponseTimestamp: &now,
		CreatedDate:       now,
		UpdatedDate:       now,
		ResponsePayload:   payload,
		ErrorMessage:      &reason,
		CreatedBy:         "correlation-engine",
		UpdatedBy:         "correlation-engine",
	}
	s.byID[requestID] = rec
	return nil
}
