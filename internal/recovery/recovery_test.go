package recovery

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqgateway/gateway/internal/locks"
	"github.com/reqgateway/gateway/internal/requestlog"
)

type fakeLock struct{ released bool }

func (l *fakeLock) Refresh(ctx context.Context, ttlSeconds int) error { return nil }
func (l *fakeLock) Release(ctx context.Context) error                { l.released = true; return nil }
func (l *fakeLock) GetValue() string                                 { return "fake-token" }

type fakeLockManager struct {
	acquired bool
	lock     *fakeLock
}

func (m *fakeLockManager) Acquire(ctx context.Context, key string, ttlSeconds int) (locks.Lock, bool, error) {
	if !m.acquired {
		return nil, false, nil
	}
	m.lock = &fakeLock{}
	return m.lock, true, nil
}

type fakeListeners struct{ ensured []string }

func (l *fakeListeners) EnsureActive(ctx context.Context, subject, idField string) error {
	l.ensured = append(l.ensured, subject)
	return nil
}

func TestRecover_ReArmsListenersForPendingRows(t *testing.T) {
	store := requestlog.NewFakeStore()
	ctx := context.Background()

	subject := "gw.responses.widget"
	idField := "requestId"
	_, err := store.InsertPending(ctx, requestlog.InsertParams{
		RequestID: "r-1", Subject: "gw.requests.widget", RequestPayload: []byte(`{}`),
		ResponseSubject: &subject, ResponseIDField: &idField, Actor: "test",
	})
	require.NoError(t, err)

	_, err = store.InsertPending(ctx, requestlog.InsertParams{
		RequestID: "r-2", Subject: "gw.requests.widget", RequestPayload: []byte(`{}`), Actor: "test",
	})
	require.NoError(t, err)

	lockMgr := &fakeLockManager{acquired: true}
	listeners := &fakeListeners{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := New(store, listeners, lockMgr, DefaultConfig(), log)
	require.NoError(t, svc.Recover(ctx))

	assert.Contains(t, listeners.ensured, subject)
	assert.Len(t, listeners.ensured, 1)
	assert.True(t, lockMgr.lock.released)
}

func TestRecover_SkipsWhenLockNotAcquired(t *testing.T) {
	store := requestlog.NewFakeStore()
	lockMgr := &fakeLockManager{acquired: false}
	listeners := &fakeListeners{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := New(store, listeners, lockMgr, DefaultConfig(), log)
	require.NoError(t, svc.Recover(context.Background()))
	assert.Empty(t, listeners.ensured)
}
