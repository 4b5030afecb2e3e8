package state

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/talentsift/harvest-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	*journal
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{journal: newJournal(), db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS page_cursor (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	next_page  INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS processed_ids (
	digest  TEXT PRIMARY KEY,
	seen_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	keyword     TEXT NOT NULL,
	locale      TEXT NOT NULL,
	tier        TEXT NOT NULL,
	status      TEXT NOT NULL,
	summary     TEXT,
	error       TEXT,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context) (*model.Checkpoint, error) {
	cp := &model.Checkpoint{}

	err := s.db.QueryRowContext(ctx,
		`SELECT next_page FROM page_cursor WHERE id = 1`,
	).Scan(&cp.NextPage)
	if err != nil && err != sql.ErrNoRows {
		return nil, eris.Wrap(err, "sqlite: load cursor")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT digest FROM processed_ids ORDER BY rowid`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load processed ids")
	}
	defer rows.Close()

	for rows.Next() {
		var digest string
		if err := rows.Scan(&digest); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan digest")
		}
		cp.ProcessedIDs = append(cp.ProcessedIDs, digest)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate processed ids")
	}

	s.absorb(cp)
	return cp, nil
}

func (s *SQLiteStore) Flush(ctx context.Context) error {
	next, pending := s.snapshot()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin flush")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, digest := range pending {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO processed_ids (digest) VALUES (?) ON CONFLICT(digest) DO NOTHING`,
			digest,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert digest %s", digest)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO page_cursor (id, next_page, updated_at) VALUES (1, ?, datetime('now'))
		 ON CONFLICT(id) DO UPDATE SET next_page = excluded.next_page, updated_at = excluded.updated_at`,
		next,
	); err != nil {
		return eris.Wrap(err, "sqlite: save cursor")
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit flush")
	}

	s.markFlushed(len(pending))
	return nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, keyword, locale, tier, status, summary, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Keyword, run.Locale, string(run.Tier), string(run.Status), string(summaryJSON), run.StartedAt,
	)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, run *model.Run) error {
	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(run.Status), string(summaryJSON), run.Error, run.FinishedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", run.ID)
	}
	return checkRowsAffected(res, run.ID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = runHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, keyword, locale, tier, status, summary, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) LatestRun(ctx context.Context) (*model.Run, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// helpers

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var summaryJSON, errMsg sql.NullString
	var finished sql.NullTime

	if err := row.Scan(&r.ID, &r.Keyword, &r.Locale, &r.Tier, &r.Status,
		&summaryJSON, &errMsg, &r.StartedAt, &finished); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if summaryJSON.Valid && summaryJSON.String != "" {
		if err := json.Unmarshal([]byte(summaryJSON.String), &r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	if finished.Valid {
		t := finished.Time.UTC()
		r.FinishedAt = &t
	}
	return &r, nil
}
