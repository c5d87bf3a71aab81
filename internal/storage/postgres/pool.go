// Package postgres is the S1 repository layer: a native pgx connection
// pool for transactional flush writes, paired with an sqlx handle (over
// the same driver, via pgx's database/sql shim) for the ad hoc predicate
// reads the cached entity model issues outside a transaction.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// DB bundles the two handles the repository layer needs.
type DB struct {
	Pool *pgxpool.Pool
	Read *sqlx.DB
}

// Open establishes both handles against the same DSN.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping pool: %w", err)
	}

	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	if cfg.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(int(cfg.MaxConns))
	}
	readDB := sqlx.NewDb(sqlDB, "pgx")
	if err := readDB.PingContext(ctx); err != nil {
		pool.Close()
		_ = sqlDB.Close()
		return nil, fmt.Errorf("postgres: ping read handle: %w", err)
	}

	return &DB{Pool: pool, Read: readDB}, nil
}

// Close releases both handles.
func (db *DB) Close() {
	db.Pool.Close()
	_ = db.Read.Close()
}

// Health pings the pool.
func (db *DB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
