package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"catalogsync/internal/assert"
	"catalogsync/internal/catalog"
	"catalogsync/internal/chrono"
	"catalogsync/internal/telemetry"
	configlibsql "catalogsync/lib/configutil/libsql"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

//go:embed schema.sql
var Schema string

var tracer = otel.Tracer("catalogsync/store")

const (
	report_db_query  = "db.query"
	report_load      = "store.load"
	report_persist   = "store.persist"
	report_persisted = "store.persisted"
	report_lock      = "store.lock"
	report_heartbeat = "lock.heartbeat"
)

var ErrNotFound = errors.New("record not found")

const DefaultLockTTL = 10 * time.Minute

type Options struct {
	// LockTTL is how long a run lock survives without a heartbeat before
	// another run may take it over.
	LockTTL time.Duration
	// Remote disables sqlite specific integrity checks.
	Remote bool
}

// Store is the durable mapping of canonical key to product record.
type Store struct {
	db      *sql.DB
	opts    Options
	time    chrono.TimeAPI
	tel     telemetry.API
	ownerMu sync.Mutex
	owner   string
}

// Open opens the configured database and prepares its schema.
func Open(ctx context.Context, config configlibsql.Struct, lockTTL time.Duration, clock chrono.TimeAPI, tel telemetry.API) (*Store, error) {
	db, err := config.OpenDB()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s, err := New(ctx, db, Options{LockTTL: lockTTL, Remote: config.Remote()}, clock, tel)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database.
func New(ctx context.Context, db *sql.DB, opts Options, clock chrono.TimeAPI, tel telemetry.API) (*Store, error) {
	assert.NotNil(db)
	assert.NotNil(clock)
	assert.NotNil(tel)

	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	tel = telemetry.NewScopedAPI("store", tel)

	for _, stmt := range strings.Split(Schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.ExecContext(ctx, stmt)
		if err != nil {
			tel.ReportBroken(report_db_query, err, "schema")
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	return &Store{
		db:   db,
		opts: opts,
		time: clock,
		tel:  tel,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) lockOwner() string {
	s.ownerMu.Lock()
	defer s.ownerMu.Unlock()
	return s.owner
}

func (s *Store) setLockOwner(owner string) {
	s.ownerMu.Lock()
	defer s.ownerMu.Unlock()
	s.owner = owner
}

const selectProducts = `SELECT key, category, source_locator, attributes, last_synced FROM products`

func scanRecord(row interface{ Scan(...any) error }) (catalog.ProductRecord, error) {
	var (
		key, category, locator, attributes string
		lastSynced                         int64
	)
	err := row.Scan(&key, &category, &locator, &attributes, &lastSynced)
	if err != nil {
		return catalog.ProductRecord{}, err
	}

	record := catalog.ProductRecord{
		Key:           catalog.CanonicalKey(key),
		Category:      category,
		SourceLocator: locator,
	}
	if lastSynced > 0 {
		record.LastSynced = time.Unix(0, lastSynced).UTC()
	}

	normalized, err := catalog.Normalize(key)
	if err != nil || normalized != record.Key {
		return record, fmt.Errorf("%w: key %q is not canonical", catalog.ErrStoreCorruption, key)
	}
	record.Attributes, err = catalog.DecodeAttributes([]byte(attributes))
	if err != nil {
		return record, fmt.Errorf("%w: key %q: attributes: %v", catalog.ErrStoreCorruption, key, err)
	}
	err = record.Validate()
	if err != nil {
		return record, fmt.Errorf("%w: %v", catalog.ErrStoreCorruption, err)
	}
	return record, nil
}

func (s *Store) integrityCheck(ctx context.Context) error {
	if s.opts.Remote {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, "PRAGMA quick_check")
	if err != nil {
		return fmt.Errorf("%w: quick_check: %v", catalog.ErrStoreCorruption, err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		err = rows.Scan(&line)
		if err != nil {
			return fmt.Errorf("%w: quick_check: %v", catalog.ErrStoreCorruption, err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("%w: quick_check: %v", catalog.ErrStoreCorruption, err)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", catalog.ErrStoreCorruption, strings.Join(problems, "; "))
	}
	return nil
}

// Load reads every stored record into a new Snapshot. Any row that is not
// a well formed record fails the whole load with ErrStoreCorruption.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Load")
	defer span.End()

	snapshot, err := s.load(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load snapshot")
		s.tel.ReportBroken(report_load, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("store.records", snapshot.Len()))
	return snapshot, nil
}

func (s *Store) load(ctx context.Context) (*Snapshot, error) {
	err := s.integrityCheck(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, selectProducts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", catalog.ErrStoreCorruption, err)
	}
	defer rows.Close()

	snapshot := NewSnapshot()
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			if errors.Is(err, catalog.ErrStoreCorruption) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", catalog.ErrStoreCorruption, err)
		}
		snapshot.put(record)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", catalog.ErrStoreCorruption, err)
	}
	return snapshot, nil
}

// Get reads a single record straight from the database.
func (s *Store) Get(ctx context.Context, key catalog.CanonicalKey) (catalog.ProductRecord, error) {
	row := s.db.QueryRowContext(ctx, selectProducts+` WHERE key = ?`, string(key))
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.ProductRecord{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return catalog.ProductRecord{}, err
	}
	return record, nil
}

const upsertProduct = `INSERT INTO products (key, category, source_locator, attributes, last_synced)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (key) DO UPDATE SET
    category = excluded.category,
    source_locator = excluded.source_locator,
    attributes = excluded.attributes,
    last_synced = excluded.last_synced`

// Persist commits every record changed since the last persist in a single
// transaction and returns how many were written. Either all of them land
// or none do, in which case they stay dirty for the next attempt. The
// caller must hold the run lock.
func (s *Store) Persist(ctx context.Context, snapshot *Snapshot) (int, error) {
	ctx, span := tracer.Start(ctx, "Persist")
	defer span.End()

	n, err := s.persist(ctx, snapshot)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist snapshot")
		s.tel.ReportBroken(report_persist, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("store.persisted", n))
	s.tel.ReportDebug(report_persisted, n)
	return n, nil
}

func (s *Store) persist(ctx context.Context, snapshot *Snapshot) (int, error) {
	owner := s.lockOwner()
	if owner == "" {
		return 0, fmt.Errorf("persist without holding the run lock")
	}

	snapshot.mu.Lock()
	defer snapshot.mu.Unlock()

	records := snapshot.dirtyRecords()
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	err = checkOwner(ctx, tx, owner)
	if err != nil {
		return 0, err
	}

	for _, record := range records {
		attributes, err := json.Marshal(record.Attributes)
		if err != nil {
			return 0, fmt.Errorf("encode %s: %w", record.Key, err)
		}
		_, err = tx.ExecContext(
			ctx,
			upsertProduct,
			string(record.Key),
			record.Category,
			record.SourceLocator,
			string(attributes),
			record.LastSynced.UnixNano(),
		)
		if err != nil {
			return 0, fmt.Errorf("upsert %s: %w", record.Key, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	clear(snapshot.dirty)
	return len(records), nil
}

// Count returns the number of stored records per category.
func (s *Store) Count(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category, count(*) FROM products GROUP BY category`)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "Count")
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var category string
		var n int
		err = rows.Scan(&category, &n)
		if err != nil {
			return nil, err
		}
		out[category] = n
	}
	return out, rows.Err()
}
