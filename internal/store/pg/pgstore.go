// Package pg is the Postgres persistence layer. Tenant-scoped reads and
// writes go through connections pinned to a tenant via set_config, so the
// database's row-level security policies enforce isolation even if a query
// forgets its where clause.
package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store wraps the shared connection pool.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres via the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Tests use this with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies connectivity, for readiness checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ScopedConn is a pool connection pinned to one tenant. Every statement run
// on it sees only that tenant's rows. Callers must Release it; a connection
// whose scope cannot be cleared is discarded rather than returned to the
// pool.
type ScopedConn struct {
	conn     *sql.Conn
	tenantID string
	released bool
}

// ScopedConn checks out a connection and scopes it to the tenant. The
// setting is written and then read back; a mismatch discards the connection
// and fails.
func (s *Store) ScopedConn(ctx context.Context, tenantID string) (*ScopedConn, error) {
	if tenantID == "" {
		return nil, errors.New("pg: tenant id is required for a scoped connection")
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, `select set_config('app.tenant_id', $1, false)`, tenantID); err != nil {
		discard(conn)
		return nil, fmt.Errorf("pg: scope connection: %w", err)
	}
	var got string
	if err := conn.QueryRowContext(ctx, `select current_setting('app.tenant_id', true)`).Scan(&got); err != nil {
		discard(conn)
		return nil, fmt.Errorf("pg: confirm scope: %w", err)
	}
	if got != tenantID {
		discard(conn)
		return nil, fmt.Errorf("pg: scope readback mismatch: got %q", got)
	}
	return &ScopedConn{conn: conn, tenantID: tenantID}, nil
}

// TenantID returns the tenant this connection is scoped to.
func (c *ScopedConn) TenantID() string { return c.tenantID }

func (c *ScopedConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

func (c *ScopedConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *ScopedConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

// Release clears the tenant scope and returns the connection to the pool.
// The clear runs even if the request context was canceled. If the scope
// cannot be cleared the connection is discarded so it can never serve
// another tenant.
func (c *ScopedConn) Release(ctx context.Context) error {
	if c.released {
		return nil
	}
	c.released = true
	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := c.conn.ExecContext(clearCtx, `select set_config('app.tenant_id', '', false)`); err != nil {
		discard(c.conn)
		return fmt.Errorf("pg: clear scope: %w", err)
	}
	return c.conn.Close()
}

// discard marks the connection bad so the pool drops it instead of handing
// it to the next caller.
func discard(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = conn.Close()
}
