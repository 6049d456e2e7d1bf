package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/postgres"
)

const createRunsTable = `CREATE TABLE IF NOT EXISTS shardprep_runs (
	run_id      TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	total       BIGINT NOT NULL,
	spread_pct  DOUBLE PRECISION NOT NULL,
	data        JSONB NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
)`

const createShardsTable = `CREATE TABLE IF NOT EXISTS shardprep_run_shards (
	run_id  TEXT NOT NULL REFERENCES shardprep_runs (run_id) ON DELETE CASCADE,
	shard   INT NOT NULL,
	merged  BIGINT NOT NULL,
	final   BIGINT NOT NULL,
	role    TEXT NOT NULL,
	missing BOOLEAN NOT NULL,
	PRIMARY KEY (run_id, shard)
)`

// PostgresStore keeps the history of runs in shardprep_runs, with one
// shardprep_run_shards row per shard of each run.
type PostgresStore struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewPostgresStore creates the store. Call EnsureSchema before first use.
func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: slog.Default().With("component", "run-store"),
	}
}

// EnsureSchema creates the tables that do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{createRunsTable, createShardsTable} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("creating run tables: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Name() string { return "postgres" }

// Emit upserts run, so re-reporting a run id replaces the earlier row.
func (s *PostgresStore) Emit(ctx context.Context, run *Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO shardprep_runs (run_id, status, total, spread_pct, data, started_at, finished_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (run_id) DO UPDATE SET
			   status = EXCLUDED.status,
			   total = EXCLUDED.total,
			   spread_pct = EXCLUDED.spread_pct,
			   data = EXCLUDED.data,
			   finished_at = EXCLUDED.finished_at`,
			run.ID, run.Status, run.Total, run.SpreadPct, data, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM shardprep_run_shards WHERE run_id = $1`, run.ID); err != nil {
			return err
		}
		for _, sh := range run.Shards {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO shardprep_run_shards (run_id, shard, merged, final, role, missing)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				run.ID, sh.Shard, sh.Merged, sh.Final, sh.Role, sh.Missing,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	s.logger.Info("run saved", "run_id", run.ID, "status", run.Status, "total", run.Total)
	return nil
}

// Get loads run id. Returns nil, nil when it does not exist.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Run, error) {
	var data []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT data FROM shardprep_runs WHERE run_id = $1`, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", id, err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshaling run %s: %w", id, err)
	}
	return &run, nil
}

// ShardFinals returns the final record count of every shard of run id, by
// shard index.
func (s *PostgresStore) ShardFinals(ctx context.Context, id string) (map[int]int64, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT shard, final FROM shardprep_run_shards WHERE run_id = $1`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("querying shards of run %s: %w", id, err)
	}
	defer rows.Close()
	out := make(map[int]int64)
	for rows.Next() {
		var shard int
		var final int64
		if err := rows.Scan(&shard, &final); err != nil {
			return nil, fmt.Errorf("scanning shard row: %w", err)
		}
		out[shard] = final
	}
	return out, rows.Err()
}

// List returns the last limit runs, newest first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT data FROM shardprep_runs ORDER BY started_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		var run Run
		if err := json.Unmarshal(data, &run); err != nil {
			s.logger.Warn("skipping corrupt run row", "error", err)
			continue
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
