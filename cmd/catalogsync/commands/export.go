package commands

import (
	"bufio"
	"io"
	"log/slog"
	"os"

	"catalogsync/internal/config"
	"catalogsync/internal/telemetry"

	"github.com/spf13/cobra"
)

var exportOut *string

func init() {
	exportOut = exportCmd.Flags().StringP("out", "o", "-", "The file to write to, - for stdout.")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export [--out <path/to/catalog.json>]",
	Short: "Writes every stored product as JSON, grouped by category.",
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

		snapshot, err := s.Load(cmd.Context())
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if *exportOut != "-" {
			f, err := os.Create(*exportOut)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}

		buffered := bufio.NewWriter(w)
		err = snapshot.WriteJSON(buffered)
		if err != nil {
			return err
		}
		err = buffered.Flush()
		if err != nil {
			return err
		}
		if *exportOut != "-" {
			slog.Info("exported catalog", "path", *exportOut, "products", snapshot.Len())
		}
		return nil
	},
}
