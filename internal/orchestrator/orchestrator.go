package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"catalogsync/internal/assert"
	"catalogsync/internal/catalog"
	"catalogsync/internal/chrono"
	"catalogsync/internal/planner"
	"catalogsync/internal/sitemap"
	"catalogsync/internal/store"
	"catalogsync/internal/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("catalogsync/orchestrator")

const (
	report_run        = "orchestrator.run"
	report_checkpoint = "orchestrator.checkpoint"
	report_persisted  = "orchestrator.persisted"
	report_planned    = "run.planned"
	report_release    = "orchestrator.release"
	report_failed     = "run.failed"
	report_added      = "run.added"
	report_updated    = "run.updated"
)

type Indexer interface {
	FetchIndex(ctx context.Context, location string) (sitemap.Index, sitemap.Stats, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, entry catalog.SitemapEntry) (catalog.ProductRecord, error)
}

type Store interface {
	Lock(ctx context.Context, owner string) (*store.Lock, error)
	Load(ctx context.Context) (*store.Snapshot, error)
	Persist(ctx context.Context, snapshot *store.Snapshot) (int, error)
}

type Config struct {
	SitemapUrl string
	// Concurrency is the number of fetches in flight, at least 1.
	Concurrency int
	// CheckpointEvery persists after this many upserts, 0 persists only at
	// the end of the run.
	CheckpointEvery int
	CategoryFilter  []string
	// DryRun stops after planning, nothing is fetched or written.
	DryRun bool
}

// Observer receives progress of a run, both fields are optional. They are
// called from the goroutine running the orchestrator.
type Observer struct {
	Transition func(from, to catalog.RunState)
	Applied    func(item planner.Item, err error)
}

type Orchestrator struct {
	cfg      Config
	indexer  Indexer
	fetcher  Fetcher
	store    Store
	time     chrono.TimeAPI
	tel      telemetry.API
	observer Observer
}

func New(cfg Config, indexer Indexer, fetcher Fetcher, store Store, clock chrono.TimeAPI, tel telemetry.API) *Orchestrator {
	assert.NotNil(indexer)
	assert.NotNil(fetcher)
	assert.NotNil(store)
	assert.NotNil(clock)
	assert.NotNil(tel)
	assert.NotEmptyStr(cfg.SitemapUrl)

	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.CheckpointEvery < 0 {
		cfg.CheckpointEvery = 0
	}

	return &Orchestrator{
		cfg:     cfg,
		indexer: indexer,
		fetcher: fetcher,
		store:   store,
		time:    clock,
		tel:     telemetry.NewScopedAPI("orchestrator", tel),
	}
}

func (o *Orchestrator) Observe(observer Observer) {
	o.observer = observer
}

// Plan indexes the sitemap and diffs it against the store without taking
// the run lock or changing anything.
func (o *Orchestrator) Plan(ctx context.Context) (planner.WorkList, sitemap.Stats, error) {
	snapshot, err := o.store.Load(ctx)
	if err != nil {
		return planner.WorkList{}, sitemap.Stats{}, err
	}
	index, stats, err := o.indexer.FetchIndex(ctx, o.cfg.SitemapUrl)
	if err != nil {
		return planner.WorkList{}, sitemap.Stats{}, err
	}
	return planner.Plan(index, snapshot, o.cfg.CategoryFilter), stats, nil
}

// Run executes one sync run. Per key failures only show up in the summary,
// an error is returned when the run failed as a whole: the sitemap or the
// store could not be trusted, in which case nothing was written, or the
// final commit failed.
//
// Cancelling `ctx` stops the run between keys, fetches already in flight
// finish and everything completed so far is persisted.
func (o *Orchestrator) Run(ctx context.Context) (catalog.RunSummary, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	summary := catalog.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: o.time.Now(),
		DryRun:    o.cfg.DryRun,
	}
	span.SetAttributes(attribute.String("run.id", summary.RunID))

	m := newMachine(o.observer.Transition)
	fail := func(err error) (catalog.RunSummary, error) {
		m.to(catalog.StateFailed)
		summary.State = m.state
		summary.FinishedAt = o.time.Now()
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		o.tel.ReportBroken(report_run, err, summary.RunID)
		return summary, err
	}

	lock, err := o.store.Lock(ctx, summary.RunID)
	if err != nil {
		return fail(err)
	}
	defer func() {
		err := lock.Release(context.WithoutCancel(ctx))
		if err != nil {
			o.tel.ReportWarning(report_release, err, summary.RunID)
		}
	}()

	snapshot, err := o.store.Load(ctx)
	if err != nil {
		return fail(err)
	}

	m.to(catalog.StateIndexing)
	index, stats, err := o.indexer.FetchIndex(ctx, o.cfg.SitemapUrl)
	if err != nil {
		return fail(err)
	}
	summary.Discovered = len(index)
	summary.Skipped = stats.Skipped

	m.to(catalog.StatePlanning)
	plan := planner.Plan(index, snapshot, o.cfg.CategoryFilter)
	summary.Planned = len(plan.Items)
	summary.Delisted = plan.Delisted
	o.tel.ReportDebug(report_planned, summary.RunID, len(plan.Items), plan.Unchanged, len(plan.Delisted))

	if o.cfg.DryRun {
		m.to(catalog.StateDone)
		summary.State = m.state
		summary.FinishedAt = o.time.Now()
		return summary, nil
	}

	m.to(catalog.StateFetching)
	o.fetch(ctx, plan.Items, snapshot, &summary)

	m.to(catalog.StatePersisting)
	_, err = o.store.Persist(context.WithoutCancel(ctx), snapshot)
	if err != nil {
		return fail(fmt.Errorf("final persist: %w", err))
	}

	m.to(catalog.StateDone)
	summary.State = m.state
	summary.FinishedAt = o.time.Now()

	o.tel.ReportCount(report_added, int64(summary.Added))
	o.tel.ReportCount(report_updated, int64(summary.Updated))
	o.tel.ReportCount(report_failed, int64(len(summary.Failed)))
	span.SetAttributes(
		attribute.Int("run.added", summary.Added),
		attribute.Int("run.updated", summary.Updated),
		attribute.Int("run.failed", len(summary.Failed)),
	)
	return summary, nil
}

type result struct {
	index   int
	record  catalog.ProductRecord
	err     error
	skipped bool
}

// fetch runs the work list through a bounded pool of workers. Results are
// applied to the snapshot strictly in plan order, whatever order the
// fetches finish in.
func (o *Orchestrator) fetch(ctx context.Context, items []planner.Item, snapshot *store.Snapshot, summary *catalog.RunSummary) {
	// a fetch that started always runs to completion
	fetchCtx := context.WithoutCancel(ctx)
	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	jobs := make(chan int)
	results := make(chan result, o.cfg.Concurrency)

	go func() {
		defer close(jobs)
		for i := range items {
			if dispatchCtx.Err() != nil {
				return
			}
			select {
			case jobs <- i:
			case <-dispatchCtx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < o.cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if dispatchCtx.Err() != nil {
					results <- result{index: i, skipped: true}
					continue
				}
				record, err := o.fetcher.Fetch(fetchCtx, items[i].Entry)
				results <- result{index: i, record: record, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	pending := make(map[int]result)
	next := 0
	attempted := 0
	upserts := 0
	for r := range results {
		pending[r.index] = r
		for {
			ready, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if ready.skipped {
				continue
			}
			attempted++

			if o.apply(items[ready.index], ready, snapshot, summary) {
				upserts++
			}
			if o.cfg.CheckpointEvery > 0 && upserts > 0 && upserts%o.cfg.CheckpointEvery == 0 && snapshot.Dirty() > 0 {
				err := o.checkpoint(fetchCtx, snapshot)
				if errors.Is(err, catalog.ErrStoreLocked) {
					stopDispatch()
				}
			}
		}
	}

	summary.Remaining = len(items) - attempted
	summary.Cancelled = summary.Remaining > 0 && ctx.Err() != nil
}

// apply records the outcome of one key and returns true if it was upserted.
func (o *Orchestrator) apply(item planner.Item, r result, snapshot *store.Snapshot, summary *catalog.RunSummary) bool {
	err := r.err
	upserted := false
	if err == nil {
		var added bool
		added, err = snapshot.Upsert(r.record)
		if err == nil {
			upserted = true
			if added {
				summary.Added++
			} else {
				summary.Updated++
			}
		}
	}
	if err != nil {
		summary.Failed = append(summary.Failed, catalog.Failure{
			Key:    item.Entry.Key,
			Reason: err.Error(),
		})
	}
	if o.observer.Applied != nil {
		o.observer.Applied(item, err)
	}
	return upserted
}

func (o *Orchestrator) checkpoint(ctx context.Context, snapshot *store.Snapshot) error {
	n, err := o.store.Persist(ctx, snapshot)
	if err != nil {
		// the records stay dirty and go out with the next persist
		o.tel.ReportWarning(report_checkpoint, err)
		return err
	}
	o.tel.ReportDebug(report_persisted, n)
	return nil
}
