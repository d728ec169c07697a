package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Locker provides named single-flight locks for background jobs. TryLock
// never blocks; a false result means another holder has the name.
type Locker interface {
	TryLock(ctx context.Context, name string) (acquired bool, release func(), err error)
}

// PGLocker uses Postgres advisory locks keyed by the job name. The lock is
// session-scoped, so the release func pins the acquiring connection until
// it runs.
type PGLocker struct {
	db *sql.DB
}

func NewPGLocker(db *sql.DB) *PGLocker {
	return &PGLocker{db: db}
}

func (l *PGLocker) TryLock(ctx context.Context, name string) (bool, func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("acquire conn: %w", err)
	}
	var got bool
	if err := conn.QueryRowContext(ctx,
		`SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&got); err != nil {
		conn.Close()
		return false, nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !got {
		conn.Close()
		return false, func() {}, nil
	}
	release := func() {
		// Unlock on the same session; closing the conn would also drop the
		// lock but returning it unlocked keeps the pool clean.
		_, _ = conn.ExecContext(context.Background(),
			`SELECT pg_advisory_unlock(hashtext($1))`, name)
		conn.Close()
	}
	return true, release, nil
}

// MemoryLocker is a process-local Locker for tests and single-node runs.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]bool)}
}

func (l *MemoryLocker) TryLock(_ context.Context, name string) (bool, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return false, func() {}, nil
	}
	l.held[name] = true
	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, name)
	}
	return true, release, nil
}
