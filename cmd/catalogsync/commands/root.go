package commands

import (
	"context"
	"fmt"
	"os"

	"catalogsync/internal/chrono"
	"catalogsync/internal/config"
	"catalogsync/internal/extractor"
	"catalogsync/internal/fetcher"
	"catalogsync/internal/orchestrator"
	"catalogsync/internal/sitemap"
	"catalogsync/internal/store"
	"catalogsync/internal/telemetry"
	"catalogsync/lib/restyutil"

	"github.com/spf13/cobra"
)

var configPath *string
var verbose *bool

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "config.json5", "The configuration file, <name>.local.json5 next to it overrides it.")
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging.")
}

var rootCmd = &cobra.Command{
	Use:           "catalogsync",
	Short:         "catalogsync mirrors a product catalog from its sitemap into a local store.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)
	},
}

// ExecuteContext runs the command line, errors are printed to stderr.
func ExecuteContext(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return err
}

// loadConfig reads the configuration file and applies the flags shared by
// the commands that index the sitemap.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Lookup("category") != nil && flags.Changed("category") {
		cfg.CategoryFilter, _ = flags.GetStringSlice("category")
	}
	if flags.Lookup("concurrency") != nil && flags.Changed("concurrency") {
		cfg.Concurrency, _ = flags.GetInt("concurrency")
	}

	err = cfg.Validate()
	if err != nil {
		return config.Config{}, fmt.Errorf("invalid config %s: %w", *configPath, err)
	}
	return cfg, nil
}

func openStore(cmd *cobra.Command, cfg config.Config, tel telemetry.API) (*store.Store, error) {
	return store.Open(cmd.Context(), cfg.Database, cfg.LockTTL(), chrono.NewStandardTime(), tel)
}

type engine struct {
	store        *store.Store
	orchestrator *orchestrator.Orchestrator
}

func (e engine) Close() error {
	return e.store.Close()
}

// newEngine wires the sync engine, `dumpHttp` is a directory every HTTP
// exchange is written to, empty to disable.
func newEngine(cmd *cobra.Command, cfg config.Config, dryRun bool, dumpHttp string) (engine, error) {
	tel := telemetry.SlogAPI{}
	clock := chrono.NewStandardTime()

	var output restyutil.InstrumentOutput
	if dumpHttp != "" {
		out, err := restyutil.NewFilesystemOutput(dumpHttp)
		if err != nil {
			return engine{}, fmt.Errorf("http dump: %w", err)
		}
		output = out
	}

	indexer := sitemap.NewClient(sitemap.Options{
		SkipSlugs:      cfg.SkipSlugs,
		LocalePrefixes: cfg.LocalePrefixes,
		UserAgent:      cfg.UserAgent,
		Timeout:        cfg.RequestTimeout(),
		Output:         output,
	}, tel)
	worker := fetcher.NewWorker(fetcher.Options{
		RequestDelay:   cfg.RequestDelay(),
		RequestTimeout: cfg.RequestTimeout(),
		UserAgent:      cfg.UserAgent,
		Retry:          cfg.RetryPolicy(),
		Output:         output,
	}, extractor.Default{}, clock, tel)

	s, err := openStore(cmd, cfg, tel)
	if err != nil {
		return engine{}, err
	}

	o := orchestrator.New(orchestrator.Config{
		SitemapUrl:      cfg.SitemapUrl,
		Concurrency:     cfg.Concurrency,
		CheckpointEvery: cfg.Checkpoints(),
		CategoryFilter:  cfg.CategoryFilter,
		DryRun:          dryRun,
	}, indexer, worker, s, clock, tel)

	return engine{store: s, orchestrator: o}, nil
}
