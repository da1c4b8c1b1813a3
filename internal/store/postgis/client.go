// Package postgis wraps the pgx connection pool used to query the spatial database.
package postgis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohammed-shakir/geologic-api/internal/core/observability"
)

// Querier is the subset of pgxpool.Pool the services depend on.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Option func(*pgxpool.Config)

func WithMaxConns(n int32) Option {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

func WithMinConns(n int32) Option {
	return func(c *pgxpool.Config) {
		if n >= 0 {
			c.MinConns = n
		}
	}
}

func WithMaxConnIdleTime(d time.Duration) Option {
	return func(c *pgxpool.Config) {
		if d > 0 {
			c.MaxConnIdleTime = d
		}
	}
}

type pool interface {
	Querier
	Close()
}

type Client struct {
	pool    pool
	observe func(op string, err error, seconds float64)
}

func New(ctx context.Context, dsn string, opts ...Option) (*Client, error) {
	if dsn == "" {
		return nil, errors.New("database url is required")
	}
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	for _, f := range opts {
		f(pc)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	start := time.Now()
	err = pool.Ping(ctx)
	observability.ObserveDBQuery("ping", err, time.Since(start).Seconds())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return newClient(pool), nil
}

func newClient(p pool) *Client {
	return &Client{pool: p, observe: observability.ObserveDBQuery}
}

func (c *Client) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	start := time.Now()
	rows, err := c.pool.Query(ctx, sql, args...)
	c.observe("query", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("postgres query: %w", err)
	}
	return rows, nil
}

// QueryRow defers latency accounting until the row is scanned. The clock
// starts before the statement is sent.
func (c *Client) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	start := time.Now()
	return &timedRow{row: c.pool.QueryRow(ctx, sql, args...), start: start, observe: c.observe}
}

// Ping runs a trivial round trip against the database.
func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	var one int
	err := c.pool.QueryRow(ctx, "SELECT 1").Scan(&one)
	c.observe("ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

func (c *Client) Close() {
	c.pool.Close()
}

type timedRow struct {
	row     pgx.Row
	start   time.Time
	observe func(op string, err error, seconds float64)
}

func (r *timedRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	obsErr := err
	if errors.Is(err, pgx.ErrNoRows) {
		obsErr = nil
	}
	r.observe("query_row", obsErr, time.Since(r.start).Seconds())
	return err
}
