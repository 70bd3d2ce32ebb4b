// Package postgres builds the instrumented pgx connection pool and carries
// per-request query statistics.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConnIdleTime = 5 * time.Minute
	pingTimeout            = 5 * time.Second
)

type options struct {
	slowQuery time.Duration
	logArgs   bool
	maxConns  int32
}

// Option configures NewPool.
type Option func(*options)

// WithSlowQueryThreshold only logs successful queries at or above d. Failed
// queries are always logged. 0 logs everything.
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(o *options) { o.slowQuery = d }
}

// WithQueryArgs includes bind arguments in query log lines. Ticket bodies
// travel as arguments, so this is off by default.
func WithQueryArgs(on bool) Option {
	return func(o *options) { o.logArgs = on }
}

// WithMaxConns caps the pool size. Values <= 0 keep the pgx default.
func WithMaxConns(n int32) Option {
	return func(o *options) { o.maxConns = n }
}

// NewPool parses databaseURL, installs the otel + logging query tracer and
// returns a pool that has answered a ping.
func NewPool(ctx context.Context, databaseURL string, opts ...Option) (*pgxpool.Pool, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	pcfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pcfg.MaxConnIdleTime = defaultMaxConnIdleTime
	if o.maxConns > 0 {
		pcfg.MaxConns = o.maxConns
	}
	pcfg.ConnConfig.Tracer = wrapQueryTracer(otelpgx.NewTracer(), o)

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return pool, nil
}
