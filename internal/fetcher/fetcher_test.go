package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"catalogsync/internal/catalog"
	"catalogsync/internal/chrono"
	"catalogsync/internal/retry"
	"catalogsync/internal/telemetry"

	"github.com/stretchr/testify/require"
)

type fakeExtractor struct{}

func (fakeExtractor) ParseProductPage(ctx context.Context, html []byte, locator string) (catalog.Attributes, error) {
	title, ok := bytes.CutPrefix(html, []byte("product:"))
	if !ok {
		return nil, fmt.Errorf("%w: no title", catalog.ErrUnparsablePage)
	}
	return catalog.Attributes{"title": catalog.String(string(title))}, nil
}

type fixture struct {
	worker *Worker
	timers *retry.InstantTimers
	clock  *chrono.FixedTime
	tel    *telemetry.Recorder
}

func newFixture(opts Options) fixture {
	timers := &retry.InstantTimers{}
	clock := chrono.NewFixedTime(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	tel := &telemetry.Recorder{}
	if opts.Retry.MaxRetries == 0 {
		opts.Retry = retry.Default()
	}
	opts.Retry = opts.Retry.WithTimer(timers.New)
	return fixture{
		worker: NewWorker(opts, fakeExtractor{}, clock, tel),
		timers: timers,
		clock:  clock,
		tel:    tel,
	}
}

// scripted serves the given statuses in order, then 200 with `body`.
func scripted(t testing.TB, body string, statuses ...int) (*httptest.Server, *atomic.Int32) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func entryFor(url string, modified time.Time) catalog.SitemapEntry {
	return catalog.SitemapEntry{
		Category:      "bmw",
		Key:           "brake-kit",
		LastModified:  modified,
		SourceLocator: url + "/en/bmw/371/brake-kit",
	}
}

func TestNewWorkerRequestTimeout(t *testing.T) {
	testCases := []struct {
		name     string
		timeout  time.Duration
		expected time.Duration
	}{
		{name: "unset", timeout: 0, expected: defaultRequestTimeout},
		{name: "negative", timeout: -time.Second, expected: defaultRequestTimeout},
		{name: "explicit", timeout: 3 * time.Second, expected: 3 * time.Second},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(Options{RequestTimeout: test.timeout})
			require.Equal(t, test.expected, f.worker.timeout)
		})
	}
	require.Equal(t, 20*time.Second, defaultRequestTimeout)
}

func TestFetchSuccess(t *testing.T) {
	f := newFixture(Options{})
	server, calls := scripted(t, "product:Brake kit")

	modified := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	record, err := f.worker.Fetch(context.Background(), entryFor(server.URL, modified))
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	require.Equal(t, catalog.CanonicalKey("brake-kit"), record.Key)
	require.Equal(t, "bmw", record.Category)
	require.Equal(t, catalog.String("Brake kit"), record.Attributes["title"])
	require.Equal(t, server.URL+"/en/bmw/371/brake-kit", record.SourceLocator)
	require.Equal(t, f.clock.Now(), record.LastSynced)
	require.NoError(t, record.Validate())
}

func TestFetchLastSyncedNeverBeforeLastModified(t *testing.T) {
	f := newFixture(Options{})
	server, _ := scripted(t, "product:Brake kit")

	future := f.clock.Now().Add(48 * time.Hour)
	record, err := f.worker.Fetch(context.Background(), entryFor(server.URL, future))
	require.NoError(t, err)
	require.Equal(t, future, record.LastSynced)
}

func TestFetchRetriesTransientStatuses(t *testing.T) {
	f := newFixture(Options{})
	server, calls := scripted(t, "product:Brake kit",
		http.StatusInternalServerError,
		http.StatusTooManyRequests,
		http.StatusRequestTimeout,
	)

	_, err := f.worker.Fetch(context.Background(), entryFor(server.URL, time.Time{}))
	require.NoError(t, err)
	require.Equal(t, int32(4), calls.Load())
	require.Len(t, f.timers.Waits(), 3)
	require.True(t, f.tel.Has("debug", "worker.retry"))
}

func TestFetchGivesUpAfterBudget(t *testing.T) {
	f := newFixture(Options{})
	server, calls := scripted(t, "product:never", 503, 503, 503, 503, 503)

	_, err := f.worker.Fetch(context.Background(), entryFor(server.URL, time.Time{}))
	require.ErrorIs(t, err, catalog.ErrFetchFailed)
	require.ErrorIs(t, err, catalog.ErrFetchTransient)
	require.Equal(t, int32(4), calls.Load())
	require.True(t, f.tel.Has("warning", "worker.fetch"))
}

func TestFetchPermanentFailures(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		statuses []int
		expected error
	}{
		{name: "not found", statuses: []int{http.StatusNotFound}, expected: catalog.ErrFetchPermanent},
		{name: "gone", statuses: []int{http.StatusGone}, expected: catalog.ErrFetchPermanent},
		{name: "unparsable", body: "<html>maintenance</html>", expected: catalog.ErrUnparsablePage},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(Options{})
			server, calls := scripted(t, test.body, test.statuses...)

			_, err := f.worker.Fetch(context.Background(), entryFor(server.URL, time.Time{}))
			require.ErrorIs(t, err, catalog.ErrFetchFailed)
			require.ErrorIs(t, err, test.expected)
			require.ErrorIs(t, err, catalog.ErrFetchPermanent)
			require.Equal(t, int32(1), calls.Load())
			require.Empty(t, f.timers.Waits())
		})
	}
}

func TestFetchAttemptTimeout(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(server.Close)

	policy := retry.Default()
	policy.MaxRetries = 1
	f := newFixture(Options{RequestTimeout: 50 * time.Millisecond, Retry: policy})

	started := time.Now()
	_, err := f.worker.Fetch(context.Background(), entryFor(server.URL, time.Time{}))
	require.ErrorIs(t, err, catalog.ErrFetchTransient)
	require.Equal(t, int32(2), calls.Load())
	require.Less(t, time.Since(started), 2*time.Second)
}

func TestFetchRequestDelayAcrossGoroutines(t *testing.T) {
	var mu sync.Mutex
	var arrivals []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		arrivals = append(arrivals, time.Now())
		n := len(arrivals)
		mu.Unlock()
		if r.URL.Query().Get("fail") != "" && n%2 == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("product:x"))
	}))
	t.Cleanup(server.Close)

	const delay = 100 * time.Millisecond
	f := newFixture(Options{RequestDelay: delay})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry := entryFor(server.URL, time.Time{})
			if i%2 == 0 {
				entry.SourceLocator += "?fail=1"
			}
			_, _ = f.worker.Fetch(context.Background(), entry)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(arrivals), 4)
	slices.SortFunc(arrivals, func(a, b time.Time) int { return a.Compare(b) })
	for i := 1; i < len(arrivals); i++ {
		gap := arrivals[i].Sub(arrivals[i-1])
		require.GreaterOrEqual(t, gap, delay*6/10, "request %d came %s after the previous one", i, gap)
	}
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		status   int
		expected error
	}{
		{status: 200, expected: nil},
		{status: 204, expected: nil},
		{status: 301, expected: catalog.ErrFetchPermanent},
		{status: 400, expected: catalog.ErrFetchPermanent},
		{status: 403, expected: catalog.ErrFetchPermanent},
		{status: 404, expected: catalog.ErrFetchPermanent},
		{status: 408, expected: catalog.ErrFetchTransient},
		{status: 429, expected: catalog.ErrFetchTransient},
		{status: 500, expected: catalog.ErrFetchTransient},
		{status: 503, expected: catalog.ErrFetchTransient},
	}
	for _, test := range testCases {
		err := Classify(test.status)
		if test.expected == nil {
			require.NoError(t, err, test.status)
			continue
		}
		require.ErrorIs(t, err, test.expected, test.status)
	}
}
