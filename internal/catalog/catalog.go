package catalog

import (
	"math"
	"time"
)

// UncategorizedCategory is used for entries without a category hint or a derivable category.
const UncategorizedCategory = "uncategorized"

// LatestTimestamp is the last instant a record can carry, the store keeps
// timestamps as unix nanoseconds.
var LatestTimestamp = time.Unix(0, math.MaxInt64).UTC()

// Storable reports whether `t` survives a round trip through the store:
// strictly after the unix epoch and not after LatestTimestamp.
func Storable(t time.Time) bool {
	return t.After(time.Unix(0, 0)) && !t.After(LatestTimestamp)
}

// SitemapEntry is one product as announced by the remote sitemap.
type SitemapEntry struct {
	Category      string
	Key           CanonicalKey
	LastModified  time.Time
	SourceLocator string
}

// ProductRecord is the stored, fully replaced on every successful fetch, state of a product.
type ProductRecord struct {
	Key           CanonicalKey `json:"key"`
	Category      string       `json:"category"`
	Attributes    Attributes   `json:"attributes"`
	LastSynced    time.Time    `json:"last_synced"`
	SourceLocator string       `json:"source_locator"`
}

// Clone returns a deep copy of the record.
func (r ProductRecord) Clone() ProductRecord {
	out := r
	out.Attributes = r.Attributes.Clone()
	return out
}

// Validate checks that a record is well formed enough to be stored.
func (r ProductRecord) Validate() error {
	if r.Key == "" {
		return errorf("record has an empty key")
	}
	if r.LastSynced.IsZero() {
		return errorf("record %q has no last synced time", r.Key)
	}
	if !Storable(r.LastSynced) {
		return errorf("record %q last synced time %s is out of range", r.Key, r.LastSynced.Format(time.RFC3339))
	}
	if r.Category == "" {
		return errorf("record %q has no category", r.Key)
	}
	return r.Attributes.Validate()
}
