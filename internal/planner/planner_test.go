package planner

import (
	"testing"
	"time"

	"catalogsync/internal/catalog"
	"catalogsync/internal/sitemap"
	"catalogsync/internal/store"

	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

func entry(key, category string, modified time.Time) catalog.SitemapEntry {
	return catalog.SitemapEntry{
		Category:      category,
		Key:           catalog.CanonicalKey(key),
		LastModified:  modified,
		SourceLocator: "https://shop.example/en/" + category + "/" + key,
	}
}

func stored(t testing.TB, records ...catalog.ProductRecord) *store.Snapshot {
	snapshot := store.NewSnapshot()
	for _, r := range records {
		_, err := snapshot.Upsert(r)
		require.NoError(t, err)
	}
	return snapshot
}

func synced(key, category string, at time.Time) catalog.ProductRecord {
	return catalog.ProductRecord{
		Key:           catalog.CanonicalKey(key),
		Category:      category,
		Attributes:    catalog.Attributes{"title": catalog.String(key)},
		LastSynced:    at,
		SourceLocator: "https://shop.example/en/" + category + "/" + key,
	}
}

func TestPlanSelectsStrictlyNewer(t *testing.T) {
	snapshot := stored(t, synced("brake-kit", "bmw", base))

	equal := Plan(sitemap.Index{"brake-kit": entry("brake-kit", "bmw", base)}, snapshot, nil)
	require.Empty(t, equal.Items)
	require.Equal(t, 1, equal.Unchanged)

	older := Plan(sitemap.Index{"brake-kit": entry("brake-kit", "bmw", base.Add(-time.Hour))}, snapshot, nil)
	require.Empty(t, older.Items)

	newer := Plan(sitemap.Index{"brake-kit": entry("brake-kit", "bmw", base.Add(time.Second))}, snapshot, nil)
	require.Len(t, newer.Items, 1)
	require.Equal(t, ReasonStale, newer.Items[0].Reason)
	require.Equal(t, base, newer.Items[0].LastSynced)
}

func TestPlanEmptyStoreSelectsEverything(t *testing.T) {
	index := sitemap.Index{
		"brake-kit": entry("brake-kit", "uncategorized", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)),
	}
	plan := Plan(index, store.NewSnapshot(), nil)
	require.Equal(t, []catalog.CanonicalKey{"brake-kit"}, plan.Keys())
	require.Equal(t, 1, plan.Count(ReasonNew))
	require.Empty(t, plan.Delisted)
}

func TestPlanOrdering(t *testing.T) {
	snapshot := stored(t,
		synced("tailpipe", "exhaust", base.Add(-48*time.Hour)),
		synced("roof-spoiler", "aero", base.Add(-48*time.Hour)),
	)
	index := sitemap.Index{
		"tailpipe":     entry("tailpipe", "exhaust", base.Add(3*time.Hour)),
		"muffler":      entry("muffler", "exhaust", base.Add(time.Hour)),
		"silencer":     entry("silencer", "exhaust", base.Add(time.Hour)),
		"roof-spoiler": entry("roof-spoiler", "aero", base.Add(5*time.Hour)),
		"splitter":     entry("splitter", "aero", base),
		"brake-kit":    entry("brake-kit", "brakes", base.Add(-time.Hour)),
	}

	expected := []catalog.CanonicalKey{
		"splitter", "roof-spoiler",
		"brake-kit",
		"muffler", "silencer", "tailpipe",
	}
	for i := 0; i < 5; i++ {
		require.Equal(t, expected, Plan(index, snapshot, nil).Keys())
	}
}

func TestPlanReportsDelisted(t *testing.T) {
	snapshot := stored(t,
		synced("brake-kit-f30", "bmw", base),
		synced("roof-spoiler", "bmw", base),
		synced("mirror-caps", "mini", base),
	)
	index := sitemap.Index{
		"brake-kit-f31": entry("brake-kit-f31", "bmw", base),
		"mirror-caps":   entry("mirror-caps", "mini", base),
		"tailpipe":      entry("tailpipe", "exhaust", base),
	}

	plan := Plan(index, snapshot, nil)
	require.Equal(t, []catalog.Delisting{
		{Key: "brake-kit-f30", Category: "bmw", RenamedTo: "brake-kit-f31"},
		{Key: "roof-spoiler", Category: "bmw"},
	}, plan.Delisted)

	// delisted records stay in the store
	_, ok := snapshot.Get("roof-spoiler")
	require.True(t, ok)
}

func TestPlanCategoryFilter(t *testing.T) {
	snapshot := stored(t,
		synced("roof-spoiler", "bmw", base),
		synced("mirror-caps", "mini", base),
	)
	index := sitemap.Index{
		"brake-kit": entry("brake-kit", "bmw", base),
		"tailpipe":  entry("tailpipe", "exhaust", base),
	}

	plan := Plan(index, snapshot, []string{" BMW "})
	require.Equal(t, []catalog.CanonicalKey{"brake-kit"}, plan.Keys())
	require.Equal(t, 1, plan.Filtered)
	require.Len(t, plan.Delisted, 1)
	require.Equal(t, catalog.CanonicalKey("roof-spoiler"), plan.Delisted[0].Key)
}
