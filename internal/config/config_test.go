package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func write(t testing.TB, path, contents string) {
	t.Helper()
	err := os.WriteFile(path, []byte(contents), 0600)
	require.NoError(t, err)
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	write(t, path, `{
		sitemap_url: "https://example.com/sitemap.xml.gz",
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, 1, cfg.Concurrency)
	require.Equal(t, 500*time.Millisecond, cfg.RequestDelay())
	require.Equal(t, 20*time.Second, cfg.RequestTimeout())
	require.Equal(t, 10*time.Minute, cfg.LockTTL())
	require.Equal(t, 25, cfg.Checkpoints())
	require.Equal(t, 3, cfg.RetryPolicy().MaxRetries)
	require.Equal(t, []string{"en", "de"}, cfg.LocalePrefixes)
	require.Equal(t, DefaultSkipSlugs, cfg.SkipSlugs)
	require.Equal(t, DefaultUserAgent, cfg.UserAgent)
	require.Equal(t, "catalog.db", cfg.Database.File)
	require.False(t, cfg.Notify.Enabled())
}

func TestLoadKeepsExplicitZeroes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	write(t, path, `{
		sitemap_url: "https://example.com/sitemap.xml.gz",
		request_delay_seconds: 0,
		max_retries: 0,
		checkpoint_every: 0,
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, time.Duration(0), cfg.RequestDelay())
	require.Equal(t, 0, cfg.RetryPolicy().MaxRetries)
	require.Equal(t, 0, cfg.Checkpoints())
}

func TestLoadLocalOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	write(t, path, `{
		sitemap_url: "https://example.com/sitemap.xml.gz",
		concurrency: 2,
		max_retries: 5,
		database: { file: "data/catalog.db" },
	}`)
	write(t, filepath.Join(dir, "config.local.json5"), `{
		concurrency: 4,
		max_retries: 1,
		category_filter: ["brakes"],
		notify: {
			server: "localhost",
			port: 1025,
			from: "sync@example.com",
			to: ["ops@example.com"],
		},
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, 4, cfg.Concurrency)
	require.Equal(t, 1, cfg.RetryPolicy().MaxRetries)
	require.Equal(t, []string{"brakes"}, cfg.CategoryFilter)
	require.Equal(t, "data/catalog.db", cfg.Database.File)
	require.True(t, cfg.Notify.Enabled())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "config.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Defaults()
		cfg.SitemapUrl = ExampleSitemapUrl
		return cfg
	}
	negative := -1.0
	negativeInt := -1

	testCases := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(cfg *Config) {}},
		{
			name:    "missing sitemap",
			mutate:  func(cfg *Config) { cfg.SitemapUrl = "" },
			wantErr: "sitemap_url is required",
		},
		{
			name:    "relative sitemap",
			mutate:  func(cfg *Config) { cfg.SitemapUrl = "/sitemap.xml" },
			wantErr: "not an absolute url",
		},
		{
			name:    "zero concurrency",
			mutate:  func(cfg *Config) { cfg.Concurrency = 0 },
			wantErr: "concurrency must be at least 1",
		},
		{
			name:    "negative delay",
			mutate:  func(cfg *Config) { cfg.RequestDelaySeconds = &negative },
			wantErr: "request_delay_seconds",
		},
		{
			name:    "negative retries",
			mutate:  func(cfg *Config) { cfg.MaxRetries = &negativeInt },
			wantErr: "max_retries",
		},
		{
			name:    "zero timeout",
			mutate:  func(cfg *Config) { cfg.RequestTimeoutSeconds = 0 },
			wantErr: "request_timeout_seconds",
		},
		{
			name:    "negative checkpoint",
			mutate:  func(cfg *Config) { cfg.CheckpointEvery = &negativeInt },
			wantErr: "checkpoint_every",
		},
		{
			name:    "no database",
			mutate:  func(cfg *Config) { cfg.Database.File = "" },
			wantErr: "database needs either a file or a url",
		},
		{
			name: "notify without port",
			mutate: func(cfg *Config) {
				cfg.Notify.Server = "localhost"
				cfg.Notify.EmailAddress = "sync@example.com"
				cfg.Notify.To = []string{"ops@example.com"}
			},
			wantErr: "notify.port",
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			cfg := valid()
			test.mutate(&cfg)
			err := cfg.Validate()
			if test.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, test.wantErr)
		})
	}
}
