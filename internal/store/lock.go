package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"catalogsync/internal/catalog"
)

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func checkOwner(ctx context.Context, tx queryer, owner string) error {
	var current string
	err := tx.QueryRowContext(ctx, `SELECT owner FROM run_lock WHERE id = 1`).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: lock held by %s was released", catalog.ErrStoreLocked, owner)
	}
	if err != nil {
		return err
	}
	if current != owner {
		return fmt.Errorf("%w: lock taken over by %s", catalog.ErrStoreLocked, current)
	}
	return nil
}

// Lock is the run-level exclusive lock over a store. While it is held a
// background goroutine keeps its heartbeat fresh.
type Lock struct {
	store *Store
	owner string

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (l *Lock) Owner() string {
	return l.owner
}

// Lock takes the run lock for `owner`. A lock whose heartbeat is older than
// the TTL belongs to a run that died and is taken over, a live lock fails
// with ErrStoreLocked.
func (s *Store) Lock(ctx context.Context, owner string) (*Lock, error) {
	err := s.acquire(ctx, owner)
	if err != nil {
		s.tel.ReportWarning(report_lock, err, owner)
		return nil, err
	}
	s.setLockOwner(owner)

	l := &Lock{
		store: s,
		owner: owner,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.heartbeat()
	return l, nil
}

func (s *Store) acquire(ctx context.Context, owner string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.time.Now()
	var holder string
	var heartbeat int64
	err = tx.QueryRowContext(ctx, `SELECT owner, heartbeat FROM run_lock WHERE id = 1`).Scan(&holder, &heartbeat)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO run_lock (id, owner, acquired_at, heartbeat) VALUES (1, ?, ?, ?)`,
			owner, now.UnixNano(), now.UnixNano(),
		)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		age := now.Sub(time.Unix(0, heartbeat))
		if age < s.opts.LockTTL {
			return fmt.Errorf("%w: held by %s, last heartbeat %s ago", catalog.ErrStoreLocked, holder, age.Round(time.Second))
		}
		s.tel.ReportWarning(report_lock, "taking over stale lock", holder, age.String())
		_, err = tx.ExecContext(
			ctx,
			`UPDATE run_lock SET owner = ?, acquired_at = ?, heartbeat = ? WHERE id = 1`,
			owner, now.UnixNano(), now.UnixNano(),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (l *Lock) heartbeat() {
	defer close(l.done)

	interval := l.store.opts.LockTTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := l.Refresh(context.Background())
			if err != nil {
				l.store.tel.ReportBroken(report_heartbeat, err, l.owner)
			}
		case <-l.stop:
			return
		}
	}
}

// Refresh bumps the heartbeat, it fails if the lock is no longer ours.
func (l *Lock) Refresh(ctx context.Context) error {
	res, err := l.store.db.ExecContext(
		ctx,
		`UPDATE run_lock SET heartbeat = ? WHERE id = 1 AND owner = ?`,
		l.store.time.Now().UnixNano(), l.owner,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: lock of %s was lost", catalog.ErrStoreLocked, l.owner)
	}
	return nil
}

// Release stops the heartbeat and deletes the lock if it is still ours.
func (l *Lock) Release(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done

	if l.store.lockOwner() == l.owner {
		l.store.setLockOwner("")
	}
	_, err := l.store.db.ExecContext(ctx, `DELETE FROM run_lock WHERE id = 1 AND owner = ?`, l.owner)
	return err
}
