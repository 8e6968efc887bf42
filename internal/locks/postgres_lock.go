package locks

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresManager implements a distributed lock on top of a lease row in
// the listener_recovery_lock table. Acquisition is a single conditional
// UPDATE/INSERT, mirroring the conditional-transition style used throughout
// the request log: the first writer to satisfy the WHERE clause wins.
type PostgresManager struct {
	pool *pgxpool.Pool
}

// NewPostgresManager instantiates a new manager backed by pool.
func NewPostgresManager(pool *pgxpool.Pool) *PostgresManager {
	return &PostgresManager{pool: pool}
}

// Acquire tries to obtain the lock for key with the provided TTL (seconds).
// The row is either missing, expired, or marked EXPIRED; any of those states
// make it acquirable by this holder.
func (m *PostgresManager) Acquire(ctx context.Context, key string, ttlSeconds int) (Lock, bool, error) {
	if m == nil || m.pool == nil {
		return nil, false, errors.New("postgres lock manager not configured")
	}
	token := randomToken()
	expiresAt := time.Now().Add(durationFromSeconds(ttlSeconds))

	tag, err := m.pool.Exec(ctx, `
		INSERT INTO listener_recovery_lock (lock_key, holder_token, status, expires_at, acquired_at)
		VALUES ($1, $2, 'HELD', $3, now())
		ON CONFLICT (lock_key) DO UPDATE SET
			holder_token = EXCLUDED.holder_token,
			status = 'HELD',
			expires_at = EXCLUDED.expires_at,
			acquired_at = now()
		WHERE listener_recovery_lock.status = 'EXPIRED'
			OR listener_recovery_lock.expires_at < now()
	`, key, token, expiresAt)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 0 {
		return nil, false, nil
	}
	return &postgresLock{pool: m.pool, key: key, token: token}, true, nil
}

type postgresLock struct {
	pool  *pgxpool.Pool
	key   string
	token string
}

func (l *postgresLock) Refresh(ctx context.Context, ttlSeconds int) error {
	expiresAt := time.Now().Add(durationFromSeconds(ttlSeconds))
	tag, err := l.pool.Exec(ctx, `
		UPDATE listener_recovery_lock
		SET expires_at = $1
		WHERE lock_key = $2 AND holder_token = $3 AND status = 'HELD'
	`, expiresAt, l.key, l.token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("lock no longer held")
	}
	return nil
}

func (l *postgresLock) Release(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE listener_recovery_lock
		SET status = 'EXPIRED'
		WHERE lock_key = $1 AND holder_token = $2 AND status = 'HELD'
	`, l.key, l.token)
	return err
}

func (l *postgresLock) GetValue() string {
	return l.token
}
