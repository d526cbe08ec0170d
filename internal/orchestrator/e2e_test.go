package orchestrator

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"catalogsync/internal/catalog"
	"catalogsync/internal/chrono"
	"catalogsync/internal/extractor"
	"catalogsync/internal/fetcher"
	"catalogsync/internal/retry"
	"catalogsync/internal/sitemap"
	"catalogsync/internal/telemetry"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

const productPage = `<html><head><meta itemprop="price" content="1.899,00"><meta itemprop="priceCurrency" content="EUR"></head>
<body><h1 class="product--title">Sport brake kit</h1><span itemprop="sku">ACS-BK</span></body></html>`

type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
}

func (h *hitCounter) add(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hits[path]++
}

func (h *hitCounter) get(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[path]
}

func shopServer(t testing.TB) (*httptest.Server, *hitCounter) {
	hits := &hitCounter{hits: make(map[string]int)}
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.add(r.URL.Path)
		switch r.URL.Path {
		case "/sitemap-1.xml.gz":
			doc := strings.ReplaceAll(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>{{base}}/371/brake-kit/?c=5</loc><lastmod>2024-01-10</lastmod></url>
<url><loc>{{base}}/372/brake-kit/</loc><lastmod>2024-02-01</lastmod></url>
</urlset>`, "{{base}}", server.URL)
			var buf bytes.Buffer
			writer := gzip.NewWriter(&buf)
			_, _ = writer.Write([]byte(doc))
			_ = writer.Close()
			_, _ = w.Write(buf.Bytes())
		case "/372/brake-kit/":
			_, _ = w.Write([]byte(productPage))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server, hits
}

func TestEndToEndBrakeKit(t *testing.T) {
	server, hits := shopServer(t)

	f := newFixture(t, nil)
	f.clock = chrono.NewFixedTime(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	tel := &telemetry.Recorder{}
	timers := &retry.InstantTimers{}

	indexer := sitemap.NewClient(sitemap.Options{LocalePrefixes: []string{"en"}}, tel)
	worker := fetcher.NewWorker(fetcher.Options{
		RequestTimeout: 5 * time.Second,
		Retry:          retry.Default().WithTimer(timers.New),
	}, extractor.Default{}, f.clock, tel)

	s := f.openStore(t)
	o := New(Config{SitemapUrl: server.URL + "/sitemap-1.xml.gz"}, indexer, worker, s, f.clock, tel)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Discovered)
	require.Equal(t, 1, summary.Planned)
	require.Equal(t, 1, summary.Added)
	require.Empty(t, summary.Failed)
	require.Equal(t, 1, hits.get("/372/brake-kit/"))
	require.Equal(t, 0, hits.get("/371/brake-kit/"))

	snapshot := f.load(t)
	require.Equal(t, 1, snapshot.Len())
	record, ok := snapshot.Get("brake-kit")
	require.True(t, ok)
	require.Equal(t, catalog.UncategorizedCategory, record.Category)
	require.Equal(t, server.URL+"/372/brake-kit/", record.SourceLocator)
	require.False(t, record.LastSynced.Before(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, catalog.String("Sport brake kit"), record.Attributes["title"])
	require.Equal(t, catalog.Number(1899), record.Attributes["price"])

	again, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, again.Planned)
	require.Equal(t, 0, again.Added)
	require.Equal(t, 0, again.Updated)
	require.Equal(t, 1, hits.get("/372/brake-kit/"))
}
