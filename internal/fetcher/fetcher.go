package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"catalogsync/internal/assert"
	"catalogsync/internal/catalog"
	"catalogsync/internal/chrono"
	"catalogsync/internal/retry"
	"catalogsync/internal/telemetry"
	"catalogsync/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("catalogsync/fetcher")
var meter = otel.Meter("catalogsync/fetcher")
var outcomeCounter, _ = meter.Int64Counter(
	"catalogsync.fetch.outcomes",
	metric.WithDescription("terminal outcomes of product page fetches"),
)

const defaultRequestTimeout = 20 * time.Second

const (
	report_fetch = "worker.fetch"
	report_retry = "worker.retry"
)

// Extractor turns a product page into attributes. It fails with an error
// wrapping catalog.ErrUnparsablePage when the page cannot be understood.
type Extractor interface {
	ParseProductPage(ctx context.Context, html []byte, locator string) (catalog.Attributes, error)
}

type Options struct {
	// RequestDelay is the minimum time between two requests of the worker,
	// retries included.
	RequestDelay   time.Duration
	RequestTimeout time.Duration
	UserAgent      string
	Retry          retry.Policy
	// Output receives every HTTP exchange when set.
	Output restyutil.InstrumentOutput
}

// Worker fetches product pages, it is safe to share between goroutines and
// must be shared for its request delay to hold across them.
type Worker struct {
	http      *resty.Client
	limiter   *rate.Limiter
	timeout   time.Duration
	policy    retry.Policy
	extractor Extractor
	time      chrono.TimeAPI
	tel       telemetry.API
}

func NewWorker(opts Options, extractor Extractor, clock chrono.TimeAPI, tel telemetry.API) *Worker {
	assert.NotNil(extractor)
	assert.NotNil(clock)
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("fetcher", tel)

	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	if opts.UserAgent != "" {
		client.SetHeader("user-agent", opts.UserAgent)
	}
	telemetry.InstrumentResty(client, tel, "catalogsync/fetcher/http", opts.Output)

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Worker{
		http:      client,
		limiter:   rate.NewLimiter(rate.Every(opts.RequestDelay), 1),
		timeout:   timeout,
		policy:    opts.Retry,
		extractor: extractor,
		time:      clock,
		tel:       tel,
	}
}

// Classify maps an HTTP status to the fetch error taxonomy, nil for success.
func Classify(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", catalog.ErrFetchTransient, status)
	default:
		return fmt.Errorf("%w: status %d", catalog.ErrFetchPermanent, status)
	}
}

func (w *Worker) get(ctx context.Context, locator string) ([]byte, error) {
	err := w.limiter.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: rate limit: %v", catalog.ErrFetchTransient, err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	res, err := w.http.R().
		SetContext(ctx).
		Get(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", catalog.ErrFetchTransient, err)
	}
	err = Classify(res.StatusCode())
	if err != nil {
		return nil, err
	}
	return res.Body(), nil
}

func (w *Worker) attempt(ctx context.Context, entry catalog.SitemapEntry) (catalog.Attributes, error) {
	body, err := w.get(ctx, entry.SourceLocator)
	if err != nil {
		return nil, err
	}
	attrs, err := w.extractor.ParseProductPage(ctx, body, entry.SourceLocator)
	if err != nil {
		// the same page will not parse any better on the next attempt
		return nil, fmt.Errorf("%w: %w", catalog.ErrFetchPermanent, err)
	}
	err = attrs.Validate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", catalog.ErrFetchPermanent, catalog.ErrUnparsablePage, err)
	}
	return attrs, nil
}

// Fetch retrieves and parses the product page of `entry`. Every failure is
// returned wrapped in catalog.ErrFetchFailed along with its cause.
func (w *Worker) Fetch(ctx context.Context, entry catalog.SitemapEntry) (catalog.ProductRecord, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("product.key", entry.Key.String()))

	var attrs catalog.Attributes
	err := w.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		attrs, err = w.attempt(ctx, entry)
		return err
	}, func(attempt int, err error, wait time.Duration) {
		w.tel.ReportDebug(report_retry, entry.Key, attempt, err.Error(), wait.String())
	})
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", catalog.ErrFetchFailed, entry.Key, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch product")
		w.tel.ReportWarning(report_fetch, err, entry.SourceLocator)
		outcomeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(err))))
		return catalog.ProductRecord{}, err
	}
	outcomeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))

	lastSynced := w.time.Now()
	if entry.LastModified.After(lastSynced) {
		lastSynced = entry.LastModified
	}
	return catalog.ProductRecord{
		Key:           entry.Key,
		Category:      entry.Category,
		Attributes:    attrs,
		LastSynced:    lastSynced,
		SourceLocator: entry.SourceLocator,
	}, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, catalog.ErrUnparsablePage):
		return "unparsable"
	case errors.Is(err, catalog.ErrFetchPermanent):
		return "permanent"
	default:
		return "transient"
	}
}
