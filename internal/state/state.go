// Package state persists harvest progress: the page cursor, the set of
// already-processed record digests, and the run history. Three drivers
// share one contract. The file driver is the default; sqlite and postgres
// serve installs that already operate those.
package state

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/talentsift/harvest-cli/internal/model"
)

// runHistoryLimit bounds how many finished runs the store keeps.
const runHistoryLimit = 50

// Store is the persistence contract shared by the harvester and the status
// surfaces. Cursor and processed-set mutations stay in memory until Flush;
// run-history writes go straight through.
type Store interface {
	// LoadCheckpoint reads the persisted walk position and seeds the
	// in-memory processed set. Absent state yields a zero checkpoint;
	// unreadable state is an error the caller must treat as fatal rather
	// than silently restarting from page zero.
	LoadCheckpoint(ctx context.Context) (*model.Checkpoint, error)

	// Processed reports whether a digest was already harvested and synced.
	Processed(digest string) bool
	// MarkProcessed stages a digest for the next Flush.
	MarkProcessed(digest string)
	// SaveCursor stages the next page index for the next Flush.
	SaveCursor(page uint)
	// Flush persists the staged cursor and digests.
	Flush(ctx context.Context) error

	CreateRun(ctx context.Context, run *model.Run) error
	CompleteRun(ctx context.Context, run *model.Run) error
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
	LatestRun(ctx context.Context) (*model.Run, error)

	Close() error
}

// Open picks a driver by name. An empty driver means file. sqlite with no
// database URL keeps its file inside the state directory.
func Open(ctx context.Context, driver, stateDir, databaseURL string) (Store, error) {
	switch driver {
	case "", "file":
		return NewFile(stateDir)
	case "sqlite":
		dsn := databaseURL
		if dsn == "" {
			dsn = filepath.Join(stateDir, "harvest.db")
		}
		st, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := NewPostgres(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("state: unknown driver %q", driver)
	}
}

// journal is the staged in-memory view every driver shares: the cursor, the
// processed set, and the tail of digests not yet flushed.
type journal struct {
	mu       sync.Mutex
	nextPage uint
	seen     map[string]struct{}
	order    []string // insertion order; order[:flushed] is persisted
	flushed  int
}

func newJournal() *journal {
	return &journal{seen: make(map[string]struct{})}
}

func (j *journal) Processed(digest string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.seen[digest]
	return ok
}

func (j *journal) MarkProcessed(digest string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.seen[digest]; ok {
		return
	}
	j.seen[digest] = struct{}{}
	j.order = append(j.order, digest)
}

func (j *journal) SaveCursor(page uint) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextPage = page
}

// absorb seeds the journal from a loaded checkpoint; everything loaded
// counts as already flushed.
func (j *journal) absorb(cp *model.Checkpoint) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextPage = cp.NextPage
	for _, id := range cp.ProcessedIDs {
		if _, ok := j.seen[id]; ok {
			continue
		}
		j.seen[id] = struct{}{}
		j.order = append(j.order, id)
	}
	j.flushed = len(j.order)
}

// snapshot returns the staged cursor and the digests awaiting flush.
func (j *journal) snapshot() (uint, []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	pending := make([]string, len(j.order)-j.flushed)
	copy(pending, j.order[j.flushed:])
	return j.nextPage, pending
}

// allSeen returns every digest in insertion order, for drivers that rewrite
// the whole set on flush.
func (j *journal) allSeen() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.order))
	copy(out, j.order)
	return out
}

func (j *journal) markFlushed(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.flushed += n
}
