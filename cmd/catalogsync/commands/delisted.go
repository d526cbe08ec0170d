package commands

import (
	"fmt"
	"os"

	"catalogsync/internal/report"

	"github.com/spf13/cobra"
)

func init() {
	delistedCmd.Flags().StringSlice("category", nil, "Only look at the given categories (repeatable).")
	rootCmd.AddCommand(delistedCmd)
}

var delistedCmd = &cobra.Command{
	Use:   "delisted [--category <name>]",
	Short: "Prints stored products the sitemap no longer lists, they are never deleted automatically.",
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

		work, _, err := e.orchestrator.Plan(cmd.Context())
		if err != nil {
			return err
		}
		if len(work.Delisted) == 0 {
			fmt.Println("Every stored product is still listed.")
			return nil
		}
		report.Delisted(os.Stdout, work.Delisted)
		return nil
	},
}
