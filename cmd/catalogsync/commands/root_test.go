package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigAppliesFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	err := os.WriteFile(path, []byte(`{
		sitemap_url: "https://example.com/sitemap.xml.gz",
		concurrency: 2,
		category_filter: ["brakes"],
	}`), 0600)
	require.NoError(t, err)

	previous := *configPath
	*configPath = path
	t.Cleanup(func() { *configPath = previous })

	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{}
		cmd.Flags().StringSlice("category", nil, "")
		cmd.Flags().Int("concurrency", 1, "")
		return cmd
	}

	cmd := newCmd()
	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Concurrency)
	require.Equal(t, []string{"brakes"}, cfg.CategoryFilter)

	cmd = newCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--concurrency", "8", "--category", "mirrors,spoilers"}))
	cfg, err = loadConfig(cmd)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Concurrency)
	require.Equal(t, []string{"mirrors", "spoilers"}, cfg.CategoryFilter)

	cmd = newCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--concurrency", "0"}))
	_, err = loadConfig(cmd)
	require.ErrorContains(t, err, "concurrency must be at least 1")
}
