package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements ScheduleStore and WorkerRegistry over
// PostgreSQL, following the teacher's pgxpool construction pattern
// (control_plane/store/postgres.go).
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Schema returns the DDL this store expects. Callers run it once at
// provisioning time; there is no migration framework here, matching the
// teacher's bare-SQL approach.
const Schema = `
CREATE TABLE IF NOT EXISTS scheduled_calls (
	id                   TEXT PRIMARY KEY,
	enabled              BOOLEAN NOT NULL DEFAULT TRUE,
	schedule             TEXT NOT NULL,
	task                 TEXT NOT NULL,
	args                 JSONB NOT NULL DEFAULT '[]',
	kwargs               JSONB NOT NULL DEFAULT '{}',
	options              JSONB NOT NULL DEFAULT '{}',
	last_run             TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
	remaining_runs       INTEGER,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	failure_threshold    INTEGER,
	last_updated         BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS scheduled_calls_enabled_idx ON scheduled_calls (enabled) WHERE enabled;
CREATE INDEX IF NOT EXISTS scheduled_calls_updated_idx ON scheduled_calls (last_updated);

CREATE TABLE IF NOT EXISTS available_workers (
	name             TEXT PRIMARY KEY,
	last_heartbeat   TIMESTAMPTZ NOT NULL,
	num_reservations INTEGER NOT NULL DEFAULT 0
);
`

func (s *PostgresStore) scanCall(row pgx.Row) (*ScheduledCall, error) {
	var c ScheduledCall
	var argsJSON, kwargsJSON, optionsJSON []byte
	err := row.Scan(
		&c.ID, &c.Enabled, &c.Schedule, &c.Task,
		&argsJSON, &kwargsJSON, &optionsJSON,
		&c.LastRun, &c.RemainingRuns, &c.ConsecutiveFailures, &c.FailureThreshold, &c.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(argsJSON, &c.Args); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(kwargsJSON, &c.Kwargs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(optionsJSON, &c.Options); err != nil {
		return nil, err
	}
	return &c, nil
}

const selectColumns = `id, enabled, schedule, task, args, kwargs, options, last_run, remaining_runs, consecutive_failures, failure_threshold, last_updated`

// PutSchedule inserts or replaces a ScheduledCall row.
func (s *PostgresStore) PutSchedule(ctx context.Context, c *ScheduledCall) error {
	argsJSON, err := json.Marshal(c.Args)
	if err != nil {
		return err
	}
	kwargsJSON, err := json.Marshal(c.Kwargs)
	if err != nil {
		return err
	}
	optionsJSON, err := json.Marshal(c.Options)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO scheduled_calls (id, enabled, schedule, task, args, kwargs, options, last_run, remaining_runs, consecutive_failures, failure_threshold, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			schedule = EXCLUDED.schedule,
			task = EXCLUDED.task,
			args = EXCLUDED.args,
			kwargs = EXCLUDED.kwargs,
			options = EXCLUDED.options,
			last_run = EXCLUDED.last_run,
			remaining_runs = EXCLUDED.remaining_runs,
			consecutive_failures = EXCLUDED.consecutive_failures,
			failure_threshold = EXCLUDED.failure_threshold,
			last_updated = EXCLUDED.last_updated
	`
	_, err = s.pool.Exec(ctx, query,
		c.ID, c.Enabled, c.Schedule, c.Task, argsJSON, kwargsJSON, optionsJSON,
		c.LastRun, c.RemainingRuns, c.ConsecutiveFailures, c.FailureThreshold, c.LastUpdated,
	)
	return err
}

func (s *PostgresStore) GetEnabled(ctx context.Context) ([]*ScheduledCall, error) {
	query := `SELECT ` + selectColumns + ` FROM scheduled_calls WHERE enabled`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduledCall
	for rows.Next() {
		c, err := s.scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountEnabled(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM scheduled_calls WHERE enabled`).Scan(&n)
	return n, err
}

func (s *PostgresStore) GetUpdatedSince(ctx context.Context, ts int64) ([]*ScheduledCall, error) {
	query := `SELECT ` + selectColumns + ` FROM scheduled_calls WHERE enabled AND last_updated > $1`
	rows, err := s.pool.Query(ctx, query, ts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduledCall
	for rows.Next() {
		c, err := s.scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountUpdatedSince(ctx context.Context, ts int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM scheduled_calls WHERE enabled AND last_updated > $1`, ts).Scan(&n)
	return n, err
}

// IncrementFailureCount bumps consecutive_failures and disables the row
// in the same statement once the threshold is reached, using a single
// UPDATE so the read-then-write never races under concurrent callers
// (the Postgres analogue of RedisStore's Lua script).
func (s *PostgresStore) IncrementFailureCount(ctx context.Context, id string) error {
	query := `
		UPDATE scheduled_calls SET
			consecutive_failures = consecutive_failures + 1,
			last_updated = last_updated + 1,
			enabled = CASE
				WHEN failure_threshold IS NOT NULL AND consecutive_failures + 1 >= failure_threshold THEN FALSE
				ELSE enabled
			END
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	return nil
}

func (s *PostgresStore) ResetFailureCount(ctx context.Context, id string) error {
	query := `UPDATE scheduled_calls SET consecutive_failures = 0, last_updated = last_updated + 1 WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id)
	return err
}

// --- WorkerRegistry ---

func (s *PostgresStore) Upsert(ctx context.Context, name string, lastHeartbeat time.Time) error {
	query := `
		INSERT INTO available_workers (name, last_heartbeat)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET last_heartbeat = EXCLUDED.last_heartbeat
	`
	_, err := s.pool.Exec(ctx, query, name, lastHeartbeat)
	return err
}

func (s *PostgresStore) FilterStale(ctx context.Context, cutoff time.Time) ([]*AvailableWorker, error) {
	query := `SELECT name, last_heartbeat, num_reservations FROM available_workers WHERE last_heartbeat < $1`
	rows, err := s.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AvailableWorker
	for rows.Next() {
		var w AvailableWorker
		if err := rows.Scan(&w.Name, &w.LastHeartbeat, &w.NumReservations); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteWorker(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM available_workers WHERE name = $1`, name)
	return err
}
