package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"catalogsync/internal/notify"
	"catalogsync/internal/retry"
	"catalogsync/lib/configutil"
	configlibsql "catalogsync/lib/configutil/libsql"
)

const ExampleSitemapUrl = "https://www.ac-schnitzer.de/web/sitemap/shop-3/sitemap-1.xml.gz"

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// DefaultSkipSlugs are the slugs of category listing pages which the sitemap
// lists next to the products.
var DefaultSkipSlugs = []string{
	"wheels",
	"wheel-tyre-sets",
	"xi-xd-wheel-tyre-sets",
	"falcon-wheel-tyre-sets",
	"exhaust",
	"engine",
	"aerodynamics",
	"suspension",
	"interior",
	"exterior",
	"performance-upgrade-petrol",
	"performance-upgrade-diesel",
	"sale",
	"accessories",
	"pos",
	"showroomdesign",
}

type Config struct {
	SitemapUrl            string   `json:"sitemap_url"`
	Concurrency           int      `json:"concurrency"`
	RequestDelaySeconds   *float64 `json:"request_delay_seconds"`
	MaxRetries            *int     `json:"max_retries"`
	RequestTimeoutSeconds float64  `json:"request_timeout_seconds"`
	// CheckpointEvery is the number of upserts between two commits, 0
	// commits only at the end of a run.
	CheckpointEvery *int     `json:"checkpoint_every"`
	CategoryFilter  []string `json:"category_filter"`
	SkipSlugs       []string `json:"skip_slugs"`
	LocalePrefixes  []string `json:"locale_prefixes"`
	UserAgent       string   `json:"user_agent"`
	LockTTLSeconds  float64  `json:"lock_ttl_seconds"`

	Database configlibsql.Struct `json:"database"`
	Notify   notify.SmtpConfig   `json:"notify"`
}

func ptr[T any](v T) *T {
	return &v
}

// Defaults returns a fresh copy of the default configuration.
func Defaults() Config {
	return Config{
		Concurrency:           1,
		RequestDelaySeconds:   ptr(0.5),
		MaxRetries:            ptr(3),
		RequestTimeoutSeconds: 20,
		CheckpointEvery:       ptr(25),
		SkipSlugs:             append([]string(nil), DefaultSkipSlugs...),
		LocalePrefixes:        []string{"en", "de"},
		UserAgent:             DefaultUserAgent,
		LockTTLSeconds:        600,
		Database: configlibsql.Struct{
			File: "catalog.db",
		},
	}
}

// Load reads `path` (merged with its .local override) and fills in the
// defaults. The result still has to be validated once flags are applied.
func Load(path string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	err = cfg.FillDefaults()
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) FillDefaults() error {
	return configutil.FillDefaults(c, Defaults())
}

func (c Config) Validate() error {
	var errs []error
	if c.SitemapUrl == "" {
		errs = append(errs, errors.New("sitemap_url is required"))
	} else if u, err := url.Parse(c.SitemapUrl); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("sitemap_url is not an absolute url: %q", c.SitemapUrl))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.RequestDelaySeconds != nil && *c.RequestDelaySeconds < 0 {
		errs = append(errs, fmt.Errorf("request_delay_seconds must not be negative, got %g", *c.RequestDelaySeconds))
	}
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", *c.MaxRetries))
	}
	if c.RequestTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout_seconds must be positive, got %g", c.RequestTimeoutSeconds))
	}
	if c.CheckpointEvery != nil && *c.CheckpointEvery < 0 {
		errs = append(errs, fmt.Errorf("checkpoint_every must not be negative, got %d", *c.CheckpointEvery))
	}
	if c.LockTTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("lock_ttl_seconds must be positive, got %g", c.LockTTLSeconds))
	}
	if c.Database.File == "" && c.Database.Url == "" {
		errs = append(errs, errors.New("database needs either a file or a url"))
	}
	if c.Notify.Enabled() && c.Notify.Port <= 0 {
		errs = append(errs, fmt.Errorf("notify.port must be positive, got %d", c.Notify.Port))
	}
	return errors.Join(errs...)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c Config) RequestDelay() time.Duration {
	if c.RequestDelaySeconds == nil {
		return 0
	}
	return seconds(*c.RequestDelaySeconds)
}

func (c Config) RequestTimeout() time.Duration {
	return seconds(c.RequestTimeoutSeconds)
}

func (c Config) LockTTL() time.Duration {
	return seconds(c.LockTTLSeconds)
}

func (c Config) Checkpoints() int {
	if c.CheckpointEvery == nil {
		return 0
	}
	return *c.CheckpointEvery
}

// RetryPolicy is the default backoff with the configured retry budget.
func (c Config) RetryPolicy() retry.Policy {
	policy := retry.Default()
	if c.MaxRetries != nil {
		policy.MaxRetries = *c.MaxRetries
	}
	return policy
}
