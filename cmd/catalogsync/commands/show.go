package commands

import (
	"errors"
	"fmt"
	"os"

	"catalogsync/internal/catalog"
	"catalogsync/internal/config"
	"catalogsync/internal/report"
	"catalogsync/internal/store"
	"catalogsync/internal/telemetry"

	"github.com/spf13/cobra"
)

var showCategory *string

func init() {
	showCategory = showCmd.Flags().String("category", "", "List the products stored in this category.")
	rootCmd.AddCommand(showCmd)
}

var showCmd = &cobra.Command{
	Use:   "show [<locator or key>] [--category <name>]",
	Short: "Prints what the store holds: counts per category, a category's products or a single product.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		s, err := openStore(cmd, cfg, telemetry.SlogAPI{})
		if err != nil {
			return err
		}
		defer s.Close()

		if len(args) == 1 {
			key, err := catalog.Normalize(args[0])
			if err != nil {
				return err
			}
			record, err := s.Get(cmd.Context(), key)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%s is not stored", key)
			}
			if err != nil {
				return err
			}
			report.Record(os.Stdout, record)
			return nil
		}

		if *showCategory != "" {
			snapshot, err := s.Load(cmd.Context())
			if err != nil {
				return err
			}
			report.Records(os.Stdout, snapshot.Records(*showCategory))
			return nil
		}

		counts, err := s.Count(cmd.Context())
		if err != nil {
			return err
		}
		report.Categories(os.Stdout, counts)
		return nil
	},
}
