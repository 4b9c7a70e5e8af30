package lock

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresLocker holds a session advisory lock on a dedicated connection until unlock.
type PostgresLocker struct {
	db   *sql.DB
	wait time.Duration
}

func NewPostgresLocker(db *sql.DB, wait time.Duration) *PostgresLocker {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &PostgresLocker{db: db, wait: wait}
}

func (l *PostgresLocker) Lock(ctx context.Context, key string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
		}
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.ExecContext(releaseCtx, `SELECT pg_advisory_unlock(hashtext($1))`, key)
		_ = conn.Close()
	}, nil
}
