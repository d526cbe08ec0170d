package commands

import (
	"context"
	"log/slog"
	"os"
	"time"

	"catalogsync/internal/catalog"
	"catalogsync/internal/notify"
	"catalogsync/internal/orchestrator"
	"catalogsync/internal/planner"
	"catalogsync/internal/report"
	"catalogsync/internal/telemetry"

	"github.com/spf13/cobra"
)

var syncDryRun *bool
var syncDumpHttp *string

func init() {
	syncCmd.Flags().StringSlice("category", nil, "Only sync the given categories (repeatable).")
	syncCmd.Flags().Int("concurrency", 1, "The number of product pages fetched at once.")
	syncDryRun = syncCmd.Flags().Bool("dry-run", false, "Stop after planning, nothing is fetched or written.")
	syncDumpHttp = syncCmd.Flags().String("dump-http", "", "Write every HTTP exchange to this directory.")
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync [--category <name>] [--concurrency <n>] [--dry-run] [--dump-http <dir>]",
	Short: "Fetches every new or modified product and writes it to the store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		e, err := newEngine(cmd, cfg, *syncDryRun, *syncDumpHttp)
		if err != nil {
			return err
		}
		defer e.Close()

		applied := 0
		e.orchestrator.Observe(orchestratorLogger(&applied))

		telemetry.InstrumentPerfStats(cmd.Context())

		summary, runErr := e.orchestrator.Run(cmd.Context())
		report.Summary(os.Stdout, summary)

		if cfg.Notify.Enabled() && !summary.DryRun {
			// the run may have been cancelled, the summary should still go out
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 30*time.Second)
			defer cancel()
			err = notify.NewNotifier(cfg.Notify, telemetry.SlogAPI{}).Notify(ctx, summary)
			if err != nil {
				slog.Warn("failed to mail run summary", "err", err)
			}
		}

		return runErr
	},
}

func orchestratorLogger(applied *int) orchestrator.Observer {
	return orchestrator.Observer{
		Transition: func(from, to catalog.RunState) {
			slog.Info("run state", "from", from, "to", to)
		},
		Applied: func(item planner.Item, err error) {
			*applied++
			if err != nil {
				slog.Warn("failed", "key", item.Entry.Key, "n", *applied, "err", err)
				return
			}
			slog.Info("synced", "key", item.Entry.Key, "reason", item.Reason, "n", *applied)
		},
	}
}
