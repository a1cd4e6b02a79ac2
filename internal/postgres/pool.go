// Package postgres builds the instrumented pgx pool shared by herald's stores.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOption configures NewPool.
type PoolOption func(*poolOptions)

type poolOptions struct {
	maxConns int32
	slow     time.Duration
}

// WithMaxConns caps the pool size. Zero keeps the pgxpool default.
func WithMaxConns(n int32) PoolOption {
	return func(o *poolOptions) {
		if n > 0 {
			o.maxConns = n
		}
	}
}

// WithSlowQueryThreshold only logs successful queries at least this slow.
// Zero logs every query.
func WithSlowQueryThreshold(d time.Duration) PoolOption {
	return func(o *poolOptions) {
		if d >= 0 {
			o.slow = d
		}
	}
}

// NewPool parses databaseURL, installs the otelpgx + logging tracer and
// verifies connectivity.
func NewPool(ctx context.Context, databaseURL string, opts ...PoolOption) (*pgxpool.Pool, error) {
	var o poolOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.Tracer = wrapQueryTracer(otelpgx.NewTracer(), o.slow)
	if o.maxConns > 0 {
		cfg.MaxConns = o.maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
