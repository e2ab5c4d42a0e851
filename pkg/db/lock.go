package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const unlockTimeout = 5 * time.Second

// lockConn is the part of a pooled connection an advisory lock needs.
type lockConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Release()
	// Discard closes the session, dropping any lock it still holds.
	Discard(ctx context.Context)
}

type poolConn struct {
	*pgxpool.Conn
}

func (c poolConn) Discard(ctx context.Context) {
	_ = c.Conn.Conn().Close(ctx)
	c.Conn.Release()
}

// AdvisoryLocker takes session-level Postgres advisory locks keyed by
// (namespace, key). A held lock pins one pooled connection until unlocked,
// and is dropped by the server if that session dies.
type AdvisoryLocker struct {
	namespace string
	acquire   func(context.Context) (lockConn, error)
}

// NewAdvisoryLocker returns a locker drawing connections from pool.
func NewAdvisoryLocker(pool *pgxpool.Pool, namespace string) *AdvisoryLocker {
	return newAdvisoryLocker(func(ctx context.Context) (lockConn, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return poolConn{conn}, nil
	}, namespace)
}

func newAdvisoryLocker(acquire func(context.Context) (lockConn, error), namespace string) *AdvisoryLocker {
	return &AdvisoryLocker{namespace: namespace, acquire: acquire}
}

// TryLock takes key's lock without waiting. acquired is false when another
// session holds it. unlock is non-nil only when acquired and is safe to call
// more than once.
func (l *AdvisoryLocker) TryLock(ctx context.Context, key string) (unlock func(), acquired bool, err error) {
	conn, err := l.acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lock connection: %w", err)
	}

	var ok bool
	err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1), hashtext($2))`, l.namespace, key).Scan(&ok)
	if err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("trying advisory lock %s/%s: %w", l.namespace, key, err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	var once sync.Once
	unlock = func() {
		once.Do(func() {
			uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
			defer cancel()

			var released bool
			err := conn.QueryRow(uctx, `SELECT pg_advisory_unlock(hashtext($1), hashtext($2))`, l.namespace, key).Scan(&released)
			if err != nil || !released {
				conn.Discard(uctx)
				return
			}
			conn.Release()
		})
	}
	return unlock, true, nil
}
