// Package dbpool bounds concurrent database access to a fixed number of
// leases, mirroring SqlConnPool's queue-plus-semaphore design while letting
// database/sql and the mysql driver own the actual wire connections.
package dbpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"
)

// Pool hands out bounded, semaphore-guarded leases over a *sql.DB. Size
// governs how many leases may be outstanding at once; database/sql itself
// may still maintain more or fewer physical connections underneath.
type Pool struct {
	db  *sql.DB
	sem chan struct{}

	mu     sync.Mutex
	closed bool
}

// Open dials host:port/dbName with user/pwd and bounds concurrent leases to
// size. size <= 0 is treated as 1.
func Open(host string, port int, user, pwd, dbName string, size int) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", user, pwd, host, port, dbName)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbpool: open: %w", err)
	}
	db.SetMaxOpenConns(size)
	db.SetMaxIdleConns(size)

	return &Pool{
		db:  db,
		sem: make(chan struct{}, size),
	}, nil
}

// Acquire blocks until a lease slot is free (or ctx is done) and returns a
// live connection. Release must be called exactly once per successful
// Acquire.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		<-p.sem
		return nil, fmt.Errorf("dbpool: acquire: %w", err)
	}
	return conn, nil
}

// Release returns conn to the underlying pool and frees its lease slot. It
// tolerates a nil conn so callers can defer Release unconditionally after a
// possibly-failed Acquire, and releasing the same conn again is a no-op.
func (p *Pool) Release(conn *sql.Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); errors.Is(err, sql.ErrConnDone) {
		return
	}
	select {
	case <-p.sem:
	default:
	}
}

// FreeCount reports how many lease slots are currently unused.
func (p *Pool) FreeCount() int {
	return cap(p.sem) - len(p.sem)
}

// Close closes the underlying *sql.DB. Idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}
