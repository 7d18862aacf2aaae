package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/maltedev/amazon-rank-scraper/internal/config"
)

type DB struct {
	pool *pgxpool.Pool
}

type PoolOptions struct {
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
}

func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxConns:    10,
		MinConns:    1,
		MaxConnLife: time.Hour,
		MaxConnIdle: 30 * time.Minute,
	}
}

func New(ctx context.Context, cfg config.DatabaseConfig, opts PoolOptions) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	poolConfig.MaxConns = opts.MaxConns
	poolConfig.MinConns = opts.MinConns
	poolConfig.MaxConnLifetime = opts.MaxConnLife
	poolConfig.MaxConnIdleTime = opts.MaxConnIdle

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS keyword_runs (
	id TEXT PRIMARY KEY,
	run_id TEXT,
	keyword TEXT NOT NULL,
	country TEXT NOT NULL,
	domain TEXT NOT NULL,
	currency TEXT NOT NULL,
	search_url TEXT NOT NULL,
	status TEXT NOT NULL,
	total_products INTEGER NOT NULL,
	duplicates INTEGER NOT NULL,
	error TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_keyword_runs_country_keyword ON keyword_runs (country, keyword);

CREATE TABLE IF NOT EXISTS keyword_products (
	keyword_run_id TEXT NOT NULL REFERENCES keyword_runs(id) ON DELETE CASCADE,
	asin TEXT NOT NULL,
	search_position INTEGER NOT NULL,
	title TEXT NOT NULL,
	price NUMERIC,
	currency TEXT,
	rating NUMERIC,
	review_count INTEGER NOT NULL,
	bsr_rank INTEGER,
	bsr_category TEXT,
	rank_status TEXT NOT NULL,
	ranks JSONB NOT NULL,
	badges JSONB NOT NULL,
	images JSONB NOT NULL,
	is_duplicate BOOLEAN NOT NULL,
	duplicate_of_keyword TEXT,
	scraped_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (keyword_run_id, asin, search_position)
);

CREATE TABLE IF NOT EXISTS run_summaries (
	run_id TEXT PRIMARY KEY,
	country TEXT NOT NULL,
	keywords_total INTEGER NOT NULL,
	keywords_succeeded INTEGER NOT NULL,
	keywords_failed INTEGER NOT NULL,
	products_total INTEGER NOT NULL,
	duplicates INTEGER NOT NULL,
	ranks_found INTEGER NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS outbox_event (
	id UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload JSONB NOT NULL,
	target_stream TEXT NOT NULL,
	status TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ,
	next_retry_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_event_pending ON outbox_event (status, next_retry_at);
`

// Migrate creates the tables used by the run repository and the outbox.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Transaction executes a function within a database transaction
func (db *DB) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}
