package sitemap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalogsync/internal/assert"
	"catalogsync/internal/catalog"
	"catalogsync/internal/telemetry"
	"catalogsync/lib/restyutil"
	"catalogsync/lib/textutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("catalogsync/sitemap")

const (
	report_fetch_index   = "client.fetch-index"
	report_skip_locator  = "client.skip-locator"
	report_collision     = "client.collision"
	report_index_entries = "index.entries"
)

// Index maps every canonical key listed by the sitemap to its winning entry.
type Index map[catalog.CanonicalKey]catalog.SitemapEntry

// Keys returns the number of distinct keys in the index.
func (i Index) Keys() int {
	return len(i)
}

// Stats describes what happened to the raw locators while building an Index.
type Stats struct {
	Documents  int
	Locators   int
	Collisions int
	// Listing counts locators dropped because they point at category listing pages.
	Listing int
	Skipped []catalog.Skip
}

type Options struct {
	SkipSlugs      []string
	LocalePrefixes []string
	UserAgent      string
	Timeout        time.Duration
	// Output receives every HTTP exchange when set.
	Output restyutil.InstrumentOutput
}

type Client struct {
	http      *resty.Client
	tel       telemetry.API
	skipSlugs map[string]struct{}
	locales   []string
}

func NewClient(opts Options, tel telemetry.API) *Client {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("sitemap", tel)

	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	if opts.UserAgent != "" {
		client.SetHeader("user-agent", opts.UserAgent)
	}
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	telemetry.InstrumentResty(client, tel, "catalogsync/sitemap/http", opts.Output)

	return &Client{
		http:      client,
		tel:       tel,
		skipSlugs: textutil.NormalizeSet(opts.SkipSlugs),
		locales:   opts.LocalePrefixes,
	}
}

func (c *Client) get(ctx context.Context, location string) ([]byte, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("accept-encoding", "identity").
		Get(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", catalog.ErrSitemapUnavailable, location, err)
	}
	if res.StatusCode() < 200 || res.StatusCode() >= 300 {
		return nil, fmt.Errorf("%w: %s: %s", catalog.ErrSitemapUnavailable, location, res.Status())
	}
	return decompress(res.Body())
}

func (c *Client) load(ctx context.Context, location string) (document, error) {
	body, err := c.get(ctx, location)
	if err != nil {
		return document{}, err
	}
	return parseDocument(body)
}

// FetchIndex downloads the sitemap at `location` and builds the index of
// every product it lists. A sitemap index is followed one level deep, all
// of its children must load. Any transport or structural problem fails the
// whole index, only single bad locators are skipped.
func (c *Client) FetchIndex(ctx context.Context, location string) (Index, Stats, error) {
	ctx, span := tracer.Start(ctx, "FetchIndex")
	defer span.End()
	span.SetAttributes(attribute.String("sitemap.url", location))

	index, stats, err := c.fetchIndex(ctx, location)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch sitemap index")
		c.tel.ReportBroken(report_fetch_index, err, location)
		return nil, Stats{}, err
	}

	span.SetAttributes(attribute.Int("sitemap.keys", len(index)))
	c.tel.ReportCount(report_index_entries, int64(len(index)))
	return index, stats, nil
}

func (c *Client) fetchIndex(ctx context.Context, location string) (Index, Stats, error) {
	root, err := c.load(ctx, location)
	if err != nil {
		return nil, Stats{}, err
	}
	docs := []document{root}
	for _, child := range root.children {
		doc, err := c.load(ctx, child)
		if err != nil {
			return nil, Stats{}, err
		}
		if len(doc.children) > 0 {
			return nil, Stats{}, fmt.Errorf("%w: nested sitemap index at %s", catalog.ErrSitemapMalformed, child)
		}
		docs = append(docs, doc)
	}

	builder := newBuilder(c.skipSlugs, c.locales, c.tel)
	for _, doc := range docs {
		err = builder.add(doc.urls)
		if err != nil {
			return nil, Stats{}, err
		}
	}
	builder.stats.Documents = len(docs)
	return builder.index, builder.stats, nil
}

type builder struct {
	index     Index
	stats     Stats
	skipSlugs map[string]struct{}
	locales   []string
	tel       telemetry.API
}

func newBuilder(skipSlugs map[string]struct{}, locales []string, tel telemetry.API) *builder {
	return &builder{
		index:     make(Index),
		skipSlugs: skipSlugs,
		locales:   locales,
		tel:       tel,
	}
}

func (b *builder) skip(locator, reason string) {
	b.stats.Skipped = append(b.stats.Skipped, catalog.Skip{Locator: locator, Reason: reason})
	b.tel.ReportWarning(report_skip_locator, locator, reason)
}

func (b *builder) add(urls []urlEntry) error {
	for _, u := range urls {
		b.stats.Locators++
		locator := strings.TrimSpace(u.Loc)

		key, err := catalog.Normalize(locator)
		if errors.Is(err, catalog.ErrMalformedLocator) {
			b.skip(locator, err.Error())
			continue
		}
		if _, listing := b.skipSlugs[textutil.NormalizeName(key.String())]; listing {
			b.stats.Listing++
			continue
		}
		if strings.TrimSpace(u.LastMod) == "" {
			b.skip(locator, "missing lastmod")
			continue
		}
		lastModified, err := ParseLastMod(u.LastMod)
		if err != nil {
			return err
		}
		if lastModified.After(catalog.LatestTimestamp) {
			b.skip(locator, "lastmod out of range")
			continue
		}

		category := strings.ToLower(strings.TrimSpace(u.Category))
		if category == "" {
			category = catalog.DeriveCategory(locator, b.locales)
		}
		if category == "" {
			category = catalog.UncategorizedCategory
		}

		entry := catalog.SitemapEntry{
			Category:      category,
			Key:           key,
			LastModified:  lastModified,
			SourceLocator: locator,
		}
		existing, ok := b.index[key]
		if ok {
			b.stats.Collisions++
			if !supersedes(entry, existing) {
				b.tel.ReportDebug(report_collision, key, existing.SourceLocator, locator)
				continue
			}
			b.tel.ReportDebug(report_collision, key, locator, existing.SourceLocator)
		}
		b.index[key] = entry
	}
	return nil
}

// supersedes decides collisions: the most recent lastmod wins, equal
// timestamps fall back to the lexicographically smaller locator so the
// outcome never depends on document order.
func supersedes(candidate, existing catalog.SitemapEntry) bool {
	if !candidate.LastModified.Equal(existing.LastModified) {
		return candidate.LastModified.After(existing.LastModified)
	}
	return candidate.SourceLocator < existing.SourceLocator
}
