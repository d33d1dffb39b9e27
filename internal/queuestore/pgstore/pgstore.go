// Package pgstore is the Postgres-backed queuestore.Store, generalizing the
// teacher's internal/repo/postgres.JobsRepo: a single jobs table, claimed
// with SELECT ... FOR UPDATE SKIP LOCKED so concurrent workers never race on
// the same row, observed through the same Prom "operation, status" labels
// the teacher's repo uses for every other table.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/geocoder89/workcore/internal/observability"
	"github.com/geocoder89/workcore/internal/queuestore"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

var _ queuestore.Store = (*Store)(nil)

func New(pool *pgxpool.Pool, prom *observability.Prom) *Store {
	return &Store{pool: pool, prom: prom}
}

func (s *Store) observe(op string, fn func() error) error {
	if s.prom != nil {
		return s.prom.ObserveDB(op, fn)
	}
	return fn()
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Schema (for migration tooling, not executed by this package):
//
//	CREATE TABLE jobs (
//		id             text PRIMARY KEY,
//		type           text NOT NULL,
//		data           jsonb,
//		status         text NOT NULL,
//		priority       integer NOT NULL DEFAULT 0,
//		scheduled_for  timestamptz NOT NULL,
//		created_at     timestamptz NOT NULL,
//		started_at     timestamptz,
//		completed_at   timestamptz,
//		retry_count    integer NOT NULL DEFAULT 0,
//		max_retries    integer NOT NULL DEFAULT 3,
//		last_error     text,
//		result         jsonb,
//		metadata       jsonb,
//		source         text
//	);

func (s *Store) Insert(ctx context.Context, j queuestore.Job) error {
	metadata, err := json.Marshal(j.Metadata)
	if err != nil {
		return err
	}

	op := "queuestore.insert"
	return s.observe(op, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO jobs(
				id, type, data, status, priority, scheduled_for,
				created_at, retry_count, max_retries, metadata, source
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, j.ID, j.Type, j.Data, string(j.Status), j.Priority, j.ScheduledFor,
			j.CreatedAt, j.RetryCount, j.MaxRetries, metadata, j.Source)
		return err
	})
}

func (s *Store) ClaimNext(ctx context.Context, now time.Time) (queuestore.Job, error) {
	var j queuestore.Job
	var status string
	var metadata []byte

	op := "queuestore.claim_next"
	err := s.observe(op, func() error {
		return s.pool.QueryRow(ctx, `
			WITH next AS (
				SELECT id
				FROM jobs
				WHERE status = 'pending'
				  AND scheduled_for <= $1
				ORDER BY priority DESC, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			UPDATE jobs
			SET status = 'running', started_at = $1
			WHERE id = (SELECT id FROM next)
			RETURNING id, type, data, status, priority, scheduled_for,
			          created_at, started_at, completed_at, retry_count,
			          max_retries, last_error, result, metadata, source
		`, now).Scan(
			&j.ID, &j.Type, &j.Data, &status, &j.Priority, &j.ScheduledFor,
			&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.RetryCount,
			&j.MaxRetries, &j.LastError, &j.Result, &metadata, &j.Source,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return queuestore.Job{}, queuestore.ErrJobNotFound
		}
		return queuestore.Job{}, err
	}

	j.Status = queuestore.Status(status)
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &j.Metadata)
	}
	return j, nil
}

func (s *Store) Complete(ctx context.Context, id string, result []byte, completedAt time.Time) error {
	op := "queuestore.complete"
	tag, err := s.execTag(ctx, op, `
		UPDATE jobs
		SET status = 'completed', result = $2, completed_at = $3, last_error = NULL
		WHERE id = $1
	`, id, result, completedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return queuestore.ErrJobNotFound
	}
	return nil
}

func (s *Store) Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error {
	op := "queuestore.reschedule"
	tag, err := s.execTag(ctx, op, `
		UPDATE jobs
		SET status = 'pending',
		    retry_count = retry_count + 1,
		    scheduled_for = $2,
		    started_at = NULL,
		    last_error = $3
		WHERE id = $1
	`, id, runAt, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return queuestore.ErrJobNotFound
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, errMsg string) error {
	op := "queuestore.mark_failed"
	tag, err := s.execTag(ctx, op, `
		UPDATE jobs
		SET status = 'failed', completed_at = NOW(), last_error = $2
		WHERE id = $1
	`, id, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return queuestore.ErrJobNotFound
	}
	return nil
}

func (s *Store) execTag(ctx context.Context, op, sql string, args ...any) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag
	err := s.observe(op, func() error {
		var execErr error
		tag, execErr = s.pool.Exec(ctx, sql, args...)
		return execErr
	})
	return tag, err
}

func (s *Store) GetByID(ctx context.Context, id string) (queuestore.Job, error) {
	rows, err := s.query(ctx, "queuestore.get_by_id", `
		SELECT id, type, data, status, priority, scheduled_for,
		       created_at, started_at, completed_at, retry_count,
		       max_retries, last_error, result, metadata, source
		FROM jobs WHERE id = $1
	`, id)
	if err != nil {
		return queuestore.Job{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		return queuestore.Job{}, queuestore.ErrJobNotFound
	}
	return scanJob(rows)
}

func (s *Store) ListByIDs(ctx context.Context, ids []string) ([]queuestore.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.query(ctx, "queuestore.list_by_ids", `
		SELECT id, type, data, status, priority, scheduled_for,
		       created_at, started_at, completed_at, retry_count,
		       max_retries, last_error, result, metadata, source
		FROM jobs WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []queuestore.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) ListActive(ctx context.Context, jobType string) ([]queuestore.Job, error) {
	rows, err := s.query(ctx, "queuestore.list_active", `
		SELECT id, type, data, status, priority, scheduled_for,
		       created_at, started_at, completed_at, retry_count,
		       max_retries, last_error, result, metadata, source
		FROM jobs
		WHERE type = $1 AND status IN ('pending', 'running')
		ORDER BY created_at ASC
	`, jobType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []queuestore.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ListByStatus backs the admin job listing surface: newest-created first,
// optionally filtered to one status, with SQL-side LIMIT/OFFSET.
func (s *Store) ListByStatus(ctx context.Context, status queuestore.Status, limit, offset int) ([]queuestore.Job, error) {
	sql := `
		SELECT id, type, data, status, priority, scheduled_for,
		       created_at, started_at, completed_at, retry_count,
		       max_retries, last_error, result, metadata, source
		FROM jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.query(ctx, "queuestore.list_by_status", sql, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []queuestore.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (queuestore.Stats, error) {
	var stats queuestore.Stats

	err := s.observe("queuestore.stats", func() error {
		rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var status string
			var count int
			if err := rows.Scan(&status, &count); err != nil {
				return err
			}
			switch queuestore.Status(status) {
			case queuestore.StatusPending:
				stats.Pending = count
			case queuestore.StatusRunning:
				stats.Running = count
			case queuestore.StatusCompleted:
				stats.Completed = count
			case queuestore.StatusFailed:
				stats.Failed = count
			}
		}
		return rows.Err()
	})

	return stats, err
}

func (s *Store) query(ctx context.Context, op, sql string, args ...any) (pgx.Rows, error) {
	var rows pgx.Rows
	err := s.observe(op, func() error {
		var qerr error
		rows, qerr = s.pool.Query(ctx, sql, args...)
		return qerr
	})
	return rows, err
}

func scanJob(rows pgx.Rows) (queuestore.Job, error) {
	var j queuestore.Job
	var status string
	var metadata []byte

	if err := rows.Scan(
		&j.ID, &j.Type, &j.Data, &status, &j.Priority, &j.ScheduledFor,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.RetryCount,
		&j.MaxRetries, &j.LastError, &j.Result, &metadata, &j.Source,
	); err != nil {
		return queuestore.Job{}, err
	}

	j.Status = queuestore.Status(status)
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &j.Metadata)
	}
	return j, nil
}
