package state

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/talentsift/harvest-cli/internal/db"
	"github.com/talentsift/harvest-cli/internal/model"
)

// PostgresStore implements Store over a pgx pool. Page flushes push the
// pending digests with COPY; everything else is plain statements.
type PostgresStore struct {
	*journal
	pool    db.Pool
	closeFn func()
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the per-page hot path.
var preparedStatements = map[string]string{
	"save_cursor": `INSERT INTO page_cursor (id, next_page, updated_at) VALUES (1, $1, now())
	                ON CONFLICT (id) DO UPDATE SET next_page = $1, updated_at = now()`,
	"insert_run":   `INSERT INTO runs (id, keyword, locale, tier, status, summary, started_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"complete_run": `UPDATE runs SET status = $1, summary = $2, error = $3, finished_at = $4 WHERE id = $5`,
}

// NewPostgres creates a PostgresStore with a connection pool. The harvester
// is single-threaded, so the pool stays small.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 4
	pgxCfg.MinConns = 1
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{journal: newJournal(), pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool; tests drive it with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{journal: newJournal(), pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS page_cursor (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	next_page  INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS processed_ids (
	digest  TEXT PRIMARY KEY,
	seen_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	keyword     TEXT NOT NULL,
	locale      TEXT NOT NULL,
	tier        TEXT NOT NULL,
	status      TEXT NOT NULL,
	summary     JSONB,
	error       TEXT,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context) (*model.Checkpoint, error) {
	cp := &model.Checkpoint{}

	err := s.pool.QueryRow(ctx,
		`SELECT next_page FROM page_cursor WHERE id = 1`,
	).Scan(&cp.NextPage)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(err, "postgres: load cursor")
	}

	rows, err := s.pool.Query(ctx, `SELECT digest FROM processed_ids ORDER BY seen_at, digest`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load processed ids")
	}
	defer rows.Close()

	for rows.Next() {
		var digest string
		if err := rows.Scan(&digest); err != nil {
			return nil, eris.Wrap(err, "postgres: scan digest")
		}
		cp.ProcessedIDs = append(cp.ProcessedIDs, digest)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate processed ids")
	}

	s.absorb(cp)
	return cp, nil
}

// Flush pushes pending digests first and the cursor second. If the process
// dies between the two, the stale cursor only costs a re-walk of pages whose
// records the digest set already skips.
func (s *PostgresStore) Flush(ctx context.Context) error {
	next, pending := s.snapshot()

	if len(pending) > 0 {
		now := time.Now().UTC()
		rows := make([][]any, len(pending))
		for i, digest := range pending {
			rows[i] = []any{digest, now}
		}
		if _, err := db.CopyFrom(ctx, s.pool, "processed_ids", []string{"digest", "seen_at"}, rows); err != nil {
			return err
		}
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO page_cursor (id, next_page, updated_at) VALUES (1, $1, now())
		 ON CONFLICT (id) DO UPDATE SET next_page = $1, updated_at = now()`,
		int64(next),
	); err != nil {
		return eris.Wrap(err, "postgres: save cursor")
	}

	s.markFlushed(len(pending))
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, keyword, locale, tier, status, summary, started_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Keyword, run.Locale, string(run.Tier), string(run.Status), summaryJSON, run.StartedAt,
	)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) CompleteRun(ctx context.Context, run *model.Run) error {
	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, summary = $2, error = $3, finished_at = $4 WHERE id = $5`,
		string(run.Status), summaryJSON, run.Error, run.FinishedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = runHistoryLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, keyword, locale, tier, status, summary, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var summaryJSON []byte
		var errMsg *string
		var finished *time.Time

		if err := rows.Scan(&r.ID, &r.Keyword, &r.Locale, &r.Tier, &r.Status,
			&summaryJSON, &errMsg, &r.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if len(summaryJSON) > 0 {
			if err := json.Unmarshal(summaryJSON, &r.Summary); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal summary")
			}
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		r.FinishedAt = finished
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) LatestRun(ctx context.Context) (*model.Run, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}
