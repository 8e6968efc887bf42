package requestlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on top of the nats_request_log table.
// Every conditional transition is a single-statement UPDATE ... WHERE
// status = 'PENDING' returning RowsAffected, never a read followed by a
// write — the same pattern the teacher uses for its message_queue
// UPDATE ... WHERE status = 'pending' ... FOR UPDATE SKIP LOCKED dequeue.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const uniqueViolation = "23505"

func (s *PostgresStore) InsertPending(ctx context.Context, p InsertParams) (*Record, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO nats_request_log (
			request_id, subject, request_payload, response_subject, response_id_field,
			status, request_timestamp, created_date, updated_date, timeout_duration,
			retry_count, created_by, updated_by
		) VALUES ($1, $2, $3, $4, $5, 'PENDING', $6, $6, $6, $7, 0, $8, $8)
		RETURNING id, request_id, subject, request_payload, response_subject, response_id_field,
			status, request_timestamp, response_timestamp, created_date, updated_date,
			response_payload, error_message, retry_count, timeout_duration, created_by, updated_by
	`, p.RequestID, p.Subject, p.RequestPayload, p.ResponseSubject, p.ResponseIDField, now, p.TimeoutDuration, p.Actor)

	rec, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateRequestID
		}
		return nil, fmt.Errorf("insert pending request log: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) MarkResponse(ctx context.Context, requestID string, terminal Status, payload []byte, errMsg *string, now time.Time, actor string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE nats_request_log
		SET status = $1, response_payload = $2, error_message = $3,
			response_timestamp = $4, updated_date = $4, updated_by = $5
		WHERE request_id = $6 AND status = 'PENDING'
	`, string(terminal), payload, errMsg, now, actor, requestID)
	if err != nil {
		return 0, fmt.Errorf("mark response for %s: %w", requestID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) MarkTimeout(ctx context.Context, requestID string, now time.Time, actor string) (int, error) {
	reason := "request timed out"
	tag, err := s.pool.Exec(ctx, `
		UPDATE nats_request_log
		SET status = 'TIMEOUT', error_message = $1, response_timestamp = $2,
			updated_date = $2, updated_by = $3
		WHERE request_id = $4 AND status = 'PENDING'
	`, reason, now, actor, requestID)
	if err != nil {
		return 0, fmt.Errorf("mark timeout for %s: %w", requestID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) MarkError(ctx context.Context, requestID string, errMsg string, now time.Time, actor string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE nats_request_log
		SET status = 'ERROR', error_message = $1, response_timestamp = $2,
			updated_date = $2, updated_by = $3
		WHERE request_id = $4 AND status = 'PENDING'
	`, errMsg, now, actor, requestID)
	if err != nil {
		return 0, fmt.Errorf("mark error for %s: %w", requestID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) FindByRequestID(ctx context.Context, requestID string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, request_id, subject, request_payload, response_subject, response_id_field,
			status, request_timestamp, response_timestamp, created_date, updated_date,
			response_payload, error_message, retry_count, timeout_duration, created_by, updated_by
		FROM nats_request_log WHERE request_id = $1
	`, requestID)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find request log %s: %w", requestID, err)
	}
	return rec, nil
}

func (s *PostgresStore) FindByStatus(ctx context.Context, status Status, limit int) ([]*Record, error) {
	// A limit of zero or less binds NULL, which Postgres reads as no limit.
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, request_id, subject, request_payload, response_subject, response_id_field,
			status, request_timestamp, response_timestamp, created_date, updated_date,
			response_payload, error_message, retry_count, timeout_duration, created_by, updated_by
		FROM nats_request_log WHERE status = $1 ORDER BY id ASC LIMIT $2
	`, string(status), lim)
	if err != nil {
		return nil, fmt.Errorf("find request logs by status %s: %w", status, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// FindTimedOut returns PENDING rows with request_timestamp <= threshold
// (half-open interval, per the sweeper's contract), bounded to limit rows.
func (s *PostgresStore) FindTimedOut(ctx context.Context, threshold time.Time, limit int) ([]*Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, request_id, subject, request_payload, response_subject, response_id_field,
			status, request_timestamp, response_timestamp, created_date, updated_date,
			response_payload, error_message, retry_count, timeout_duration, created_by, updated_by
		FROM nats_request_log
		WHERE status = 'PENDING' AND request_timestamp <= $1
		ORDER BY request_timestamp ASC LIMIT $2
	`, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("find timed out request logs: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) InsertOrphan(ctx context.Context, requestID, subject string, payload []byte, reason string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO nats_request_log (
			request_id, subject, request_payload, status, request_timestamp,
			response_timestamp, created_date, updated_date, response_payload,
			error_message, retry_count, created_by, updated_by
		) VALUES ($1, $2, $3, 'ERROR', $4, $4, $4, $4, $3, $5, 0, 'correlation-engine', 'correlation-engine')
		ON CONFLICT (request_id) DO NOTHING
	`, requestID, subject, payload, now, reason)
	if err != nil {
		return fmt.Errorf("insert orphan request log %s: %w", requestID, err)
	}
	return nil
}

type row interface {
	Scan(dest ...any) error
}

func scanRecord(r row) (*Record, error) {
	var rec Record
	var status string
	if err := r.Scan(
		&rec.ID, &rec.RequestID, &rec.Subject, &rec.RequestPayload, &rec.ResponseSubject, &rec.ResponseIDField,
		&status, &rec.RequestTimestamp, &rec.ResponseTimestamp, &rec.CreatedDate, &rec.UpdatedDate,
		&rec.ResponsePayload, &rec.ErrorMessage, &rec.RetryCount, &rec.TimeoutDuration, &rec.CreatedBy, &rec.UpdatedBy,
	); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	return &rec, nil
}

func scanRecords(rows pgx.Rows) ([]*Record, error) {
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
