package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/talentsift/harvest-cli/internal/harvest"
)

var (
	runKeyword  string
	runLocale   string
	runMaxPages int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Walk the listing and sync what it finds",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runKeyword != "" {
			cfg.Site.Keyword = runKeyword
		}
		if runLocale != "" {
			cfg.Site.Locale = runLocale
		}
		if runMaxPages > 0 {
			cfg.Harvest.MaxPages = runMaxPages
		}

		if err := cfg.Validate("harvest"); err != nil {
			return err
		}

		// SIGINT stops the walk at the next page boundary; the checkpoint
		// keeps whatever was synced.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initHarvest(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		h := harvest.New(cfg, env.Session, env.Store, env.Checker, env.Syncer)
		summary, err := h.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "harvest run")
		}

		zap.L().Info("harvest finished",
			zap.Int("pages", summary.Pages),
			zap.Int("synced", summary.Synced),
			zap.Int("sync_failures", summary.SyncFailures),
		)

		// Print summary JSON to stdout
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	runCmd.Flags().StringVar(&runKeyword, "keyword", "", "override site.keyword for this run")
	runCmd.Flags().StringVar(&runLocale, "locale", "", "override site.locale for this run")
	runCmd.Flags().IntVar(&runMaxPages, "max-pages", 0, "stop after N listing pages (0 = walk until exhausted)")
	rootCmd.AddCommand(runCmd)
}
