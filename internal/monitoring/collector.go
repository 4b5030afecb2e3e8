package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/talentsift/harvest-cli/internal/model"
	"github.com/talentsift/harvest-cli/internal/state"
)

// MetricsSnapshot holds a point-in-time view of harvest health.
type MetricsSnapshot struct {
	// Run outcomes within the lookback window.
	RunsTotal       int `json:"runs_total"`
	RunsExhausted   int `json:"runs_exhausted"`
	RunsLoginWall   int `json:"runs_login_wall"`
	RunsInterrupted int `json:"runs_interrupted"`
	RunsFailed      int `json:"runs_failed"`

	// Work volume within the window.
	PagesWalked        int     `json:"pages_walked"`
	RecordsDiscovered  int     `json:"records_discovered"`
	RecordsExtracted   int     `json:"records_extracted"`
	RecordsSkipped     int     `json:"records_skipped"`
	RecordsSynced      int     `json:"records_synced"`
	SyncFailures       int     `json:"sync_failures"`
	ExtractionFailures int     `json:"extraction_failures"`
	SyncFailRate       float64 `json:"sync_fail_rate"`

	// Most recent run regardless of window, plus how many runs in a row
	// (newest first) ended on the login wall.
	LastStatus model.RunStatus `json:"last_status,omitempty"`
	LastRunAt  time.Time       `json:"last_run_at"`
	WallStreak int             `json:"wall_streak"`

	// Checkpoint position.
	NextPage       uint `json:"next_page"`
	ProcessedCount int  `json:"processed_count"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the state store.
type Collector struct {
	store state.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st state.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of harvest metrics over the given lookback
// window. Run history is bounded, so runs older than the retention limit
// never appear regardless of the window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	// Runs come back newest first.
	runs, err := c.store.ListRuns(ctx, 0)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	streakBroken := false
	for i, r := range runs {
		if i == 0 {
			snap.LastStatus = r.Status
			snap.LastRunAt = r.StartedAt
		}
		if r.Status == model.RunStatusLoginWall && !streakBroken {
			snap.WallStreak++
		} else {
			streakBroken = true
		}

		if r.StartedAt.Before(cutoff) {
			continue
		}

		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusExhausted:
			snap.RunsExhausted++
		case model.RunStatusLoginWall:
			snap.RunsLoginWall++
		case model.RunStatusInterrupted:
			snap.RunsInterrupted++
		case model.RunStatusFailed:
			snap.RunsFailed++
		}

		snap.PagesWalked += r.Summary.Pages
		snap.RecordsDiscovered += r.Summary.Discovered
		snap.RecordsExtracted += r.Summary.Extracted
		snap.RecordsSkipped += r.Summary.Skipped
		snap.RecordsSynced += r.Summary.Synced
		snap.SyncFailures += r.Summary.SyncFailures
		snap.ExtractionFailures += r.Summary.ExtractionFailures
	}

	if attempts := snap.RecordsSynced + snap.SyncFailures; attempts > 0 {
		snap.SyncFailRate = float64(snap.SyncFailures) / float64(attempts)
	}

	cp, err := c.store.LoadCheckpoint(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: load checkpoint")
	}
	snap.NextPage = cp.NextPage
	snap.ProcessedCount = len(cp.ProcessedIDs)

	return snap, nil
}
