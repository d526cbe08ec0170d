package commands

import (
	"os"

	"catalogsync/internal/report"

	"github.com/spf13/cobra"
)

func init() {
	planCmd.Flags().StringSlice("category", nil, "Only plan the given categories (repeatable).")
	rootCmd.AddCommand(planCmd)
}

var planCmd = &cobra.Command{
	Use:   "plan [--category <name>]",
	Short: "Prints what a sync would fetch, without fetching or writing anything.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		e, err := newEngine(cmd, cfg, true, "")
		if err != nil {
			return err
		}
		defer e.Close()

		work, stats, err := e.orchestrator.Plan(cmd.Context())
		if err != nil {
			return err
		}
		report.Plan(os.Stdout, work, stats)
		return nil
	},
}
