package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/talentsift/harvest-cli/internal/model"
)

const (
	cursorFile    = "page_cursor.txt"
	processedFile = "processed_ids.json"
	runsFile      = "runs.json"
)

// FileStore keeps harvest state in three small files inside one directory.
// Every write goes through a temp file and rename, so a crash mid-write
// leaves the previous artifact intact instead of a torn one.
type FileStore struct {
	*journal
	dir string
}

func NewFile(dir string) (*FileStore, error) {
	if dir == "" {
		dir = ".harvest-state"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "state: create dir %s", dir)
	}
	return &FileStore{journal: newJournal(), dir: dir}, nil
}

func (s *FileStore) LoadCheckpoint(_ context.Context) (*model.Checkpoint, error) {
	cp := &model.Checkpoint{}

	raw, err := os.ReadFile(filepath.Join(s.dir, cursorFile))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, eris.Wrap(err, "state: read page cursor")
	default:
		page, perr := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 32)
		if perr != nil {
			return nil, eris.Wrapf(perr, "state: page cursor file %s is corrupt", cursorFile)
		}
		cp.NextPage = uint(page)
	}

	raw, err = os.ReadFile(filepath.Join(s.dir, processedFile))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, eris.Wrap(err, "state: read processed ids")
	default:
		if uerr := json.Unmarshal(raw, &cp.ProcessedIDs); uerr != nil {
			return nil, eris.Wrapf(uerr, "state: processed ids file %s is corrupt", processedFile)
		}
	}

	s.absorb(cp)
	return cp, nil
}

func (s *FileStore) Flush(_ context.Context) error {
	next, pending := s.snapshot()

	data, err := json.Marshal(s.allSeen())
	if err != nil {
		return eris.Wrap(err, "state: marshal processed ids")
	}
	if err := writeAtomic(filepath.Join(s.dir, processedFile), data); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(s.dir, cursorFile), []byte(strconv.FormatUint(uint64(next), 10)+"\n")); err != nil {
		return err
	}

	s.markFlushed(len(pending))
	return nil
}

func (s *FileStore) CreateRun(_ context.Context, run *model.Run) error {
	runs, err := s.readRuns()
	if err != nil {
		return err
	}
	runs = append(runs, *run)
	if len(runs) > runHistoryLimit {
		runs = runs[len(runs)-runHistoryLimit:]
	}
	return s.writeRuns(runs)
}

func (s *FileStore) CompleteRun(_ context.Context, run *model.Run) error {
	runs, err := s.readRuns()
	if err != nil {
		return err
	}
	for i := len(runs) - 1; i >= 0; i-- {
		if runs[i].ID == run.ID {
			runs[i] = *run
			return s.writeRuns(runs)
		}
	}
	return eris.Errorf("state: run not found: %s", run.ID)
}

func (s *FileStore) ListRuns(_ context.Context, limit int) ([]model.Run, error) {
	runs, err := s.readRuns()
	if err != nil {
		return nil, err
	}
	// Stored oldest-first; callers want newest-first.
	out := make([]model.Run, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		out = append(out, runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *FileStore) LatestRun(ctx context.Context) (*model.Run, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) readRuns() ([]model.Run, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, runsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "state: read run history")
	}
	var runs []model.Run
	if err := json.Unmarshal(raw, &runs); err != nil {
		return nil, eris.Wrapf(err, "state: run history file %s is corrupt", runsFile)
	}
	return runs, nil
}

func (s *FileStore) writeRuns(runs []model.Run) error {
	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return eris.Wrap(err, "state: marshal run history")
	}
	return writeAtomic(filepath.Join(s.dir, runsFile), data)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "state: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrapf(err, "state: rename %s", path)
	}
	return nil
}
