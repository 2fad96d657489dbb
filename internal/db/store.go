package db

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opensandbox/batchfleet/internal/batch"
	"github.com/opensandbox/batchfleet/internal/controlplane"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const defaultListLimit = 100

// Store provides data access to the batchfleet PostgreSQL database. It
// holds desired pool targets, the reconcile audit log and archived events.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ controlplane.TargetStore    = (*Store)(nil)
	_ controlplane.ActionRecorder = (*Store)(nil)
)

// NewStore creates a new Store with a connection pool.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

type migration struct {
	version  int
	filename string
}

var migrations = []migration{
	{1, "migrations/001_initial.up.sql"},
	{2, "migrations/002_pool_events.up.sql"},
}

// Migrate runs database migrations.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err = s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, m := range migrations {
		if currentVersion >= m.version {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m migration) error {
	sql, err := migrationsFS.ReadFile(m.filename)
	if err != nil {
		return fmt.Errorf("failed to read migration file %s: %w", m.filename, err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %d: %w", m.version, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("failed to apply migration %03d: %w", m.version, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
		return fmt.Errorf("failed to record migration %03d: %w", m.version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration %03d: %w", m.version, err)
	}
	return nil
}

// --- Pool targets ---

// ListTargets returns every stored target ordered by pool ID.
func (s *Store) ListTargets(ctx context.Context) ([]controlplane.PoolTarget, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT pool_id, target_nodes, deallocation_policy, enabled FROM pool_targets ORDER BY pool_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pool targets: %w", err)
	}
	defer rows.Close()

	var targets []controlplane.PoolTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// GetTarget returns the target for poolID, or nil if none is stored.
func (s *Store) GetTarget(ctx context.Context, poolID string) (*controlplane.PoolTarget, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT pool_id, target_nodes, deallocation_policy, enabled FROM pool_targets WHERE pool_id = $1`, poolID)
	t, err := scanTarget(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTarget(row pgx.Row) (controlplane.PoolTarget, error) {
	var (
		t      controlplane.PoolTarget
		policy string
	)
	if err := row.Scan(&t.PoolID, &t.TargetNodes, &policy, &t.Enabled); err != nil {
		return t, fmt.Errorf("failed to scan pool target: %w", err)
	}
	p, err := batch.ParseDeallocationPolicy(policy)
	if err != nil {
		return t, fmt.Errorf("pool target %s: %w", t.PoolID, err)
	}
	t.Policy = p
	return t, nil
}

// PutTarget inserts or replaces the target for t.PoolID.
func (s *Store) PutTarget(ctx context.Context, t controlplane.PoolTarget) error {
	if err := t.Validate(); err != nil {
		return err
	}
	policy, _ := batch.ParseDeallocationPolicy(string(t.Policy))
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pool_targets (pool_id, target_nodes, deallocation_policy, enabled, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (pool_id) DO UPDATE SET
			target_nodes = EXCLUDED.target_nodes,
			deallocation_policy = EXCLUDED.deallocation_policy,
			enabled = EXCLUDED.enabled,
			updated_at = now()`,
		t.PoolID, t.TargetNodes, string(policy), t.Enabled)
	if err != nil {
		return fmt.Errorf("failed to store pool target %s: %w", t.PoolID, err)
	}
	return nil
}

// DeleteTarget removes the target for poolID. It reports whether a row existed.
func (s *Store) DeleteTarget(ctx context.Context, poolID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pool_targets WHERE pool_id = $1`, poolID)
	if err != nil {
		return false, fmt.Errorf("failed to delete pool target %s: %w", poolID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Reconcile audit log ---

// RecordAction appends one reconcile step to the audit log.
func (s *Store) RecordAction(ctx context.Context, rec controlplane.ActionRecord) error {
	runID, err := uuid.Parse(rec.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", rec.RunID, err)
	}
	var errText *string
	if rec.Error != "" {
		errText = &rec.Error
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO reconcile_actions (run_id, pool_id, action, outcome, count, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		runID, rec.PoolID, rec.Action, rec.Outcome, rec.Count, errText, rec.At)
	if err != nil {
		return fmt.Errorf("failed to record action for pool %s: %w", rec.PoolID, err)
	}
	return nil
}

// ListActions returns the most recent audit rows for poolID, newest first.
func (s *Store) ListActions(ctx context.Context, poolID string, limit int) ([]controlplane.ActionRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, pool_id, action, outcome, count, COALESCE(error, ''), created_at
		FROM reconcile_actions WHERE pool_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`, poolID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var out []controlplane.ActionRecord
	for rows.Next() {
		var (
			rec   controlplane.ActionRecord
			runID uuid.UUID
		)
		if err := rows.Scan(&runID, &rec.PoolID, &rec.Action, &rec.Outcome, &rec.Count, &rec.Error, &rec.At); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		rec.RunID = runID.String()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Archived events ---

// InsertEvent archives ev. Redelivered events with a known ID are ignored.
func (s *Store) InsertEvent(ctx context.Context, ev controlplane.Event) error {
	id, err := uuid.Parse(ev.ID)
	if err != nil {
		return fmt.Errorf("invalid event id %q: %w", ev.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pool_events (id, run_id, type, pool_id, outcome, count, error, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		id, ev.RunID, ev.Type, ev.PoolID, ev.Outcome, ev.Count, ev.Error, ev.Time)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return fmt.Errorf("failed to archive event %s (%s): %w", ev.ID, pgErr.Code, err)
		}
		return fmt.Errorf("failed to archive event %s: %w", ev.ID, err)
	}
	return nil
}

// ListEvents returns the most recent archived events for poolID, newest first.
func (s *Store) ListEvents(ctx context.Context, poolID string, limit int) ([]controlplane.Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, type, pool_id, outcome, count, error, occurred_at
		FROM pool_events WHERE pool_id = $1
		ORDER BY occurred_at DESC LIMIT $2`, poolID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []controlplane.Event
	for rows.Next() {
		var (
			ev controlplane.Event
			id uuid.UUID
		)
		if err := rows.Scan(&id, &ev.RunID, &ev.Type, &ev.PoolID, &ev.Outcome, &ev.Count, &ev.Error, &ev.Time); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.ID = id.String()
		out = append(out, ev)
	}
	return out, rows.Err()
}
