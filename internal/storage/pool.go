// Package storage owns the PostgreSQL connection pool, the schema bootstrap
// and the queries for users and subscriptions.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgxpool.Pool. The pool is the only shared handle; it is passed
// explicitly to every store instead of living in a package variable.
type DB struct {
	Pool *pgxpool.Pool
}

// PoolOptions configures NewDB. Zero MinConns or MaxConns keep pgx defaults.
type PoolOptions struct {
	URL            string
	MinConns       int32
	MaxConns       int32
	ConnectTimeout time.Duration
	// ApplicationName shows up in pg_stat_activity, which is how stuck
	// delivery transactions are traced back to a process.
	ApplicationName string
}

func (o PoolOptions) config() (*pgxpool.Config, error) {
	if o.MaxConns > 0 && o.MinConns > o.MaxConns {
		return nil, fmt.Errorf("pool_min %d exceeds pool_max %d", o.MinConns, o.MaxConns)
	}
	cfg, err := pgxpool.ParseConfig(o.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if o.MinConns > 0 {
		cfg.MinConns = o.MinConns
	}
	if o.MaxConns > 0 {
		cfg.MaxConns = o.MaxConns
	}
	if o.ApplicationName != "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = o.ApplicationName
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute
	return cfg, nil
}

// NewDB opens the pool and pings it within ConnectTimeout.
func NewDB(ctx context.Context, opts PoolOptions) (*DB, error) {
	cfg, err := opts.config()
	if err != nil {
		return nil, err
	}

	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// MaxConns reports the pool's connection ceiling after defaults were applied.
func (db *DB) MaxConns() int32 {
	return db.Pool.Config().MaxConns
}

func (db *DB) Close() {
	db.Pool.Close()
}

// Ping verifies database connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
