package planner

import (
	"cmp"
	"slices"
	"time"

	"catalogsync/internal/catalog"
	"catalogsync/internal/sitemap"
	"catalogsync/lib/textutil"

	"github.com/antzucaro/matchr"
)

// RenameSimilarity is the minimum Jaro-Winkler similarity for a new key to be
// suggested as the successor of a delisted one.
const RenameSimilarity = 0.9

type Reason string

const (
	ReasonNew   Reason = "new"
	ReasonStale Reason = "stale"
)

// Item is a key that must be fetched.
type Item struct {
	Entry  catalog.SitemapEntry
	Reason Reason
	// LastSynced is zero for new keys.
	LastSynced time.Time
}

// Stored is the read side of a store snapshot.
type Stored interface {
	Get(key catalog.CanonicalKey) (catalog.ProductRecord, bool)
	Records(category string) []catalog.ProductRecord
}

type WorkList struct {
	Items    []Item
	Delisted []catalog.Delisting
	// Unchanged counts listed keys that are already up to date.
	Unchanged int
	// Filtered counts listed keys outside of the category filter.
	Filtered int
}

func (w WorkList) Keys() []catalog.CanonicalKey {
	out := make([]catalog.CanonicalKey, len(w.Items))
	for i, item := range w.Items {
		out[i] = item.Entry.Key
	}
	return out
}

func (w WorkList) Count(reason Reason) int {
	n := 0
	for _, item := range w.Items {
		if item.Reason == reason {
			n++
		}
	}
	return n
}

type filter map[string]struct{}

func (f filter) allows(category string) bool {
	if f == nil {
		return true
	}
	_, ok := f[textutil.NormalizeName(category)]
	return ok
}

// Plan diffs the sitemap index against what is stored. A key is selected
// when it is not stored yet, or when the sitemap reports it modified strictly
// after it was last synced. Stored keys the sitemap no longer lists are
// reported as delisted and left alone.
//
// Items are grouped by category in ascending order and, within a category,
// ordered oldest modification first so an interrupted run has already
// landed the longest outstanding changes. `categoryFilter` restricts both
// selection and delisting, an empty filter allows everything.
func Plan(index sitemap.Index, stored Stored, categoryFilter []string) WorkList {
	allowed := filter(textutil.NormalizeSet(categoryFilter))

	var out WorkList
	for key, entry := range index {
		if !allowed.allows(entry.Category) {
			out.Filtered++
			continue
		}
		record, ok := stored.Get(key)
		if !ok {
			out.Items = append(out.Items, Item{Entry: entry, Reason: ReasonNew})
			continue
		}
		if entry.LastModified.After(record.LastSynced) {
			out.Items = append(out.Items, Item{
				Entry:      entry,
				Reason:     ReasonStale,
				LastSynced: record.LastSynced,
			})
			continue
		}
		out.Unchanged++
	}

	slices.SortFunc(out.Items, func(a, b Item) int {
		if a.Entry.Category != b.Entry.Category {
			return cmp.Compare(a.Entry.Category, b.Entry.Category)
		}
		if !a.Entry.LastModified.Equal(b.Entry.LastModified) {
			return a.Entry.LastModified.Compare(b.Entry.LastModified)
		}
		return cmp.Compare(a.Entry.Key, b.Entry.Key)
	})

	for _, record := range stored.Records("") {
		if _, listed := index[record.Key]; listed {
			continue
		}
		if !allowed.allows(record.Category) {
			continue
		}
		out.Delisted = append(out.Delisted, catalog.Delisting{
			Key:      record.Key,
			Category: record.Category,
		})
	}
	suggestRenames(out.Delisted, out.Items)

	return out
}

// suggestRenames pairs delisted keys with the most similar new key, each new
// key is suggested at most once.
func suggestRenames(delisted []catalog.Delisting, items []Item) {
	var candidates []catalog.CanonicalKey
	for _, item := range items {
		if item.Reason == ReasonNew {
			candidates = append(candidates, item.Entry.Key)
		}
	}
	if len(candidates) == 0 {
		return
	}
	slices.Sort(candidates)

	taken := make(map[catalog.CanonicalKey]struct{})
	for i := range delisted {
		var best float64
		var bestKey catalog.CanonicalKey
		for _, candidate := range candidates {
			if _, used := taken[candidate]; used {
				continue
			}
			similarity := matchr.JaroWinkler(string(delisted[i].Key), string(candidate), false)
			if similarity > best {
				best = similarity
				bestKey = candidate
			}
		}
		if best >= RenameSimilarity {
			delisted[i].RenamedTo = bestKey
			taken[bestKey] = struct{}{}
		}
	}
}
