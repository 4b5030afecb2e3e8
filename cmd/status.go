package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/talentsift/harvest-cli/internal/model"
	"github.com/talentsift/harvest-cli/internal/monitoring"
)

var (
	statusLimit     int
	statusJSON      bool
	statusCheckSync bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpoint position and recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("status"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cp, err := st.LoadCheckpoint(ctx)
		if err != nil {
			return eris.Wrap(err, "status: load checkpoint")
		}

		runs, err := st.ListRuns(ctx, statusLimit)
		if err != nil {
			return eris.Wrap(err, "status: list runs")
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			return eris.Wrap(err, "status: collect metrics")
		}

		var cms *syncStatus
		if statusCheckSync {
			cms = checkSyncBackend(ctx)
		}

		if statusJSON {
			report := statusReport{Checkpoint: cp, Runs: runs, Metrics: snap, Sync: cms}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		formatStatus(os.Stdout, cp, runs, snap)
		if cms != nil {
			formatSyncStatus(os.Stdout, cms)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "max number of runs to display")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit the report as JSON")
	statusCmd.Flags().BoolVar(&statusCheckSync, "check-sync", false, "ping the CMS backend with the configured credentials")
	rootCmd.AddCommand(statusCmd)
}

// statusReport is the --json shape; the same data the text renderer shows.
type statusReport struct {
	Checkpoint *model.Checkpoint           `json:"checkpoint"`
	Runs       []model.Run                 `json:"runs"`
	Metrics    *monitoring.MetricsSnapshot `json:"metrics"`
	Sync       *syncStatus                 `json:"sync,omitempty"`
}

// syncStatus reports whether the CMS backend answered the credential ping.
type syncStatus struct {
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// checkSyncBackend pings the CMS with the configured credentials.
func checkSyncBackend(ctx context.Context) *syncStatus {
	if cfg.Sync.BaseURL == "" {
		return &syncStatus{Error: "sync.base_url is not configured"}
	}
	if err := initSyncer().Ping(ctx); err != nil {
		return &syncStatus{Error: err.Error()}
	}
	return &syncStatus{Reachable: true}
}

// formatSyncStatus writes the CMS reachability line to out.
func formatSyncStatus(out io.Writer, s *syncStatus) {
	if s.Reachable {
		_, _ = fmt.Fprintln(out, "\nCMS backend: reachable")
		return
	}
	_, _ = fmt.Fprintf(out, "\nCMS backend: unreachable (%s)\n", s.Error)
}

// formatStatus writes the checkpoint, the run table, and the lookback
// aggregates to out.
func formatStatus(out io.Writer, cp *model.Checkpoint, runs []model.Run, snap *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Next page:\t%d\n", cp.NextPage)
	_, _ = fmt.Fprintf(w, "Processed records:\t%d\n", len(cp.ProcessedIDs))
	_ = w.Flush()

	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, "\nNo runs recorded yet.")
		return
	}

	_, _ = fmt.Fprintln(out)
	formatRunsList(out, runs)

	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "\nLast %dh:\truns %d, pages %d, synced %d, sync failures %d\n",
		snap.LookbackHours, snap.RunsTotal, snap.PagesWalked, snap.RecordsSynced, snap.SyncFailures)
	if snap.WallStreak > 0 {
		_, _ = fmt.Fprintf(w, "Login-wall streak:\t%d (session cookies may have expired)\n", snap.WallStreak)
	}
	_ = w.Flush()
}

// formatRunsList writes a tabular list of runs to out.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKEYWORD\tTIER\tSTATUS\tPAGES\tSYNCED\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-------\t----\t------\t-----\t------\t-------\t--------")

	for _, r := range runs {
		dur := "-"
		if r.FinishedAt != nil {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		keyword := r.Keyword
		if keyword == "" {
			keyword = "(all)"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			keyword,
			r.Tier,
			r.Status,
			r.Summary.Pages,
			r.Summary.Synced,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
