package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentsift/harvest-cli/internal/model"
)

func newTestFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := NewFile(dir)
	require.NoError(t, err)
	return st, dir
}

func testRun(id string, startedAt time.Time) *model.Run {
	return &model.Run{
		ID:        id,
		Keyword:   "backend engineer",
		Locale:    "de",
		Tier:      model.TierFull,
		Status:    model.RunStatusRunning,
		StartedAt: startedAt,
	}
}

func TestFile_LoadCheckpoint_Empty(t *testing.T) {
	st, _ := newTestFileStore(t)

	cp, err := st.LoadCheckpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint(0), cp.NextPage)
	assert.Empty(t, cp.ProcessedIDs)
}

func TestFile_FlushAndReload(t *testing.T) {
	st, dir := newTestFileStore(t)
	ctx := context.Background()

	_, err := st.LoadCheckpoint(ctx)
	require.NoError(t, err)

	st.MarkProcessed("a1b2c3d4e5f60708")
	st.MarkProcessed("1112131415161718")
	st.SaveCursor(3)
	require.NoError(t, st.Flush(ctx))

	// A fresh store over the same directory sees everything.
	st2, err := NewFile(dir)
	require.NoError(t, err)
	cp, err := st2.LoadCheckpoint(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint(3), cp.NextPage)
	assert.Equal(t, []string{"a1b2c3d4e5f60708", "1112131415161718"}, cp.ProcessedIDs)
	assert.True(t, st2.Processed("a1b2c3d4e5f60708"))
	assert.False(t, st2.Processed("ffffffffffffffff"))
}

func TestFile_MarkProcessed_Idempotent(t *testing.T) {
	st, _ := newTestFileStore(t)
	ctx := context.Background()

	st.MarkProcessed("a1b2c3d4e5f60708")
	st.MarkProcessed("a1b2c3d4e5f60708")
	require.NoError(t, st.Flush(ctx))

	cp, err := st.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.Len(t, cp.ProcessedIDs, 1)
}

func TestFile_CorruptCursorIsFatal(t *testing.T) {
	st, dir := newTestFileStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, cursorFile), []byte("not-a-number"), 0o644))

	_, err := st.LoadCheckpoint(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestFile_CorruptProcessedIDsIsFatal(t *testing.T) {
	st, dir := newTestFileStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, processedFile), []byte(`{"broken`), 0o644))

	_, err := st.LoadCheckpoint(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestFile_FlushLeavesNoTempFiles(t *testing.T) {
	st, dir := newTestFileStore(t)

	st.MarkProcessed("a1b2c3d4e5f60708")
	st.SaveCursor(1)
	require.NoError(t, st.Flush(context.Background()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestFile_RunLifecycle(t *testing.T) {
	st, _ := newTestFileStore(t)
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Second)

	run := testRun("run-1", started)
	require.NoError(t, st.CreateRun(ctx, run))

	latest, err := st.LatestRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run-1", latest.ID)
	assert.Equal(t, model.RunStatusRunning, latest.Status)

	finished := started.Add(2 * time.Minute)
	run.Status = model.RunStatusExhausted
	run.Summary = model.RunSummary{Pages: 4, Discovered: 31, Synced: 28, Skipped: 3}
	run.FinishedAt = &finished
	require.NoError(t, st.CompleteRun(ctx, run))

	latest, err = st.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusExhausted, latest.Status)
	assert.Equal(t, 28, latest.Summary.Synced)
	require.NotNil(t, latest.FinishedAt)
	assert.True(t, latest.FinishedAt.Equal(finished))
}

func TestFile_ListRuns_NewestFirst(t *testing.T) {
	st, _ := newTestFileStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, st.CreateRun(ctx, testRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	runs, err := st.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "run-1", runs[1].ID)
}

func TestFile_RunHistoryBounded(t *testing.T) {
	st, _ := newTestFileStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < runHistoryLimit+5; i++ {
		require.NoError(t, st.CreateRun(ctx, testRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Second))))
	}

	runs, err := st.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, runHistoryLimit)
	assert.Equal(t, fmt.Sprintf("run-%d", runHistoryLimit+4), runs[0].ID)

	// The oldest runs rolled off.
	for _, r := range runs {
		assert.NotEqual(t, "run-0", r.ID)
	}
}

func TestFile_CompleteRun_NotFound(t *testing.T) {
	st, _ := newTestFileStore(t)

	err := st.CompleteRun(context.Background(), testRun("ghost", time.Now().UTC()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestFile_LatestRun_NoHistory(t *testing.T) {
	st, _ := newTestFileStore(t)

	latest, err := st.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Nil(t, latest)
}
