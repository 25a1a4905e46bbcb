// Package postgres implements the PostgreSQL progress store served by progressd.
// Flags only ever move from false to true: every write is an OR-upsert, so the
// table is monotonic regardless of how writes interleave.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrConnectionClosed = errors.New("postgres: connection pool is closed")
	ErrMigrationFailed  = errors.New("postgres: migration failed")
)

// PoolConfig overrides pool settings from the database URL. Zero fields
// keep the URL's value or the pgxpool default.
type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultPoolConfig suits a single progressd instance.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:          10,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

func (p PoolConfig) apply(c *pgxpool.Config) {
	if p.MaxConns > 0 {
		c.MaxConns = p.MaxConns
	}
	if p.MinConns > 0 {
		c.MinConns = p.MinConns
	}
	if p.MaxConnLifetime > 0 {
		c.MaxConnLifetime = p.MaxConnLifetime
	}
	if p.MaxConnIdleTime > 0 {
		c.MaxConnIdleTime = p.MaxConnIdleTime
	}
	if p.HealthCheckPeriod > 0 {
		c.HealthCheckPeriod = p.HealthCheckPeriod
	}
}

// Connection wraps a pgx pool. After Close every call fails with
// ErrConnectionClosed instead of panicking inside pgx.
type Connection struct {
	mu     sync.RWMutex
	pool   *pgxpool.Pool
	closed bool
}

// Connect opens a pool for databaseURL and fails unless the server answers
// a ping.
func Connect(ctx context.Context, databaseURL string, cfg PoolConfig) (*Connection, error) {
	pc, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database URL: %w", err)
	}
	cfg.apply(pc)

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Connection{pool: pool}, nil
}

// Close is idempotent.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.pool.Close()
	}
}

// open runs fn with the pool while holding the read lock.
func (c *Connection) open(fn func(*pgxpool.Pool) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnectionClosed
	}
	return fn(c.pool)
}

func (c *Connection) Ping(ctx context.Context) error {
	return c.open(func(p *pgxpool.Pool) error { return p.Ping(ctx) })
}

// WithTx runs fn in a read-committed transaction, committing when fn
// returns nil and rolling back otherwise, panics included.
func (c *Connection) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	var tx pgx.Tx
	err := c.open(func(p *pgxpool.Pool) (err error) {
		tx, err = p.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	committed = true
	return nil
}

// Querier is implemented by *Connection and pgx.Tx, so helpers can run
// inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Querier = (*Connection)(nil)

func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (tag pgconn.CommandTag, err error) {
	err = c.open(func(p *pgxpool.Pool) error {
		tag, err = p.Exec(ctx, sql, args...)
		return err
	})
	return tag, err
}

func (c *Connection) Query(ctx context.Context, sql string, args ...any) (rows pgx.Rows, err error) {
	err = c.open(func(p *pgxpool.Pool) error {
		rows, err = p.Query(ctx, sql, args...)
		return err
	})
	return rows, err
}

// QueryRow defers errors to Scan, matching pgx.
func (c *Connection) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	var row pgx.Row
	if err := c.open(func(p *pgxpool.Pool) error {
		row = p.QueryRow(ctx, sql, args...)
		return nil
	}); err != nil {
		return errRow{err}
	}
	return row
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsTransient reports whether a failed statement may succeed if retried:
// connection exceptions (class 08), transaction rollbacks such as
// serialization failures and deadlocks (class 40), and errors pgconn marks
// safe to retry. Cancellation and a closed pool are never transient.
func IsTransient(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrConnectionClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "40")
	}
	return pgconn.SafeToRetry(err)
}
