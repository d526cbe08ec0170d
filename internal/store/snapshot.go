package store

import (
	"cmp"
	"encoding/json"
	"io"
	"slices"
	"sort"
	"sync"

	"catalogsync/internal/catalog"
)

// Snapshot is the in-memory copy of every stored record, grouped by
// category. It is safe for concurrent use, upserts are serialized.
type Snapshot struct {
	mu         sync.Mutex
	byCategory map[string]map[catalog.CanonicalKey]catalog.ProductRecord
	categoryOf map[catalog.CanonicalKey]string
	dirty      map[catalog.CanonicalKey]struct{}
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		byCategory: make(map[string]map[catalog.CanonicalKey]catalog.ProductRecord),
		categoryOf: make(map[catalog.CanonicalKey]string),
		dirty:      make(map[catalog.CanonicalKey]struct{}),
	}
}

func (s *Snapshot) put(record catalog.ProductRecord) {
	if previous, ok := s.categoryOf[record.Key]; ok && previous != record.Category {
		delete(s.byCategory[previous], record.Key)
		if len(s.byCategory[previous]) == 0 {
			delete(s.byCategory, previous)
		}
	}
	group, ok := s.byCategory[record.Category]
	if !ok {
		group = make(map[catalog.CanonicalKey]catalog.ProductRecord)
		s.byCategory[record.Category] = group
	}
	group[record.Key] = record
	s.categoryOf[record.Key] = record.Category
}

// Upsert replaces the record stored under record.Key as a whole, it returns
// true if the key was not present before. Invalid records are rejected and
// leave the snapshot untouched.
func (s *Snapshot) Upsert(record catalog.ProductRecord) (added bool, err error) {
	err = record.Validate()
	if err != nil {
		return false, err
	}
	record = record.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.categoryOf[record.Key]
	s.put(record)
	s.dirty[record.Key] = struct{}{}
	return !exists, nil
}

func (s *Snapshot) Get(key catalog.CanonicalKey) (catalog.ProductRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	category, ok := s.categoryOf[key]
	if !ok {
		return catalog.ProductRecord{}, false
	}
	return s.byCategory[category][key].Clone(), true
}

func (s *Snapshot) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.categoryOf)
}

// Dirty returns the number of records changed since the last persist.
func (s *Snapshot) Dirty() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty)
}

// Categories returns every category with at least one record, sorted.
func (s *Snapshot) Categories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.byCategory))
	for category := range s.byCategory {
		out = append(out, category)
	}
	sort.Strings(out)
	return out
}

// Records returns the records of one category sorted by key, or of every
// category when `category` is empty.
func (s *Snapshot) Records(category string) []catalog.ProductRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []catalog.ProductRecord
	for name, group := range s.byCategory {
		if category != "" && name != category {
			continue
		}
		for _, record := range group {
			out = append(out, record.Clone())
		}
	}
	slices.SortFunc(out, func(a, b catalog.ProductRecord) int {
		if a.Category != b.Category {
			return cmp.Compare(a.Category, b.Category)
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

// dirtyRecords must be called with s.mu held.
func (s *Snapshot) dirtyRecords() []catalog.ProductRecord {
	out := make([]catalog.ProductRecord, 0, len(s.dirty))
	for key := range s.dirty {
		out = append(out, s.byCategory[s.categoryOf[key]][key])
	}
	slices.SortFunc(out, func(a, b catalog.ProductRecord) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

type exportCategory struct {
	Name     string                  `json:"name"`
	Products []catalog.ProductRecord `json:"products"`
}

type exportDocument struct {
	Products   int              `json:"products"`
	Categories []exportCategory `json:"categories"`
}

// WriteJSON writes the snapshot grouped by category, categories and keys
// in ascending order.
func (s *Snapshot) WriteJSON(w io.Writer) error {
	doc := exportDocument{Categories: []exportCategory{}}
	for _, record := range s.Records("") {
		last := len(doc.Categories) - 1
		if last < 0 || doc.Categories[last].Name != record.Category {
			doc.Categories = append(doc.Categories, exportCategory{Name: record.Category})
			last++
		}
		doc.Categories[last].Products = append(doc.Categories[last].Products, record)
		doc.Products++
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(doc)
}
