// Package pg is the Postgres implementation of store.Gateway, grounded on
// the teacher's database wrapper shape (Config struct, pooled connection,
// WithTransaction helper, health check) but retargeted from
// modernc.org/sqlite to jackc/pgx/v5 — see SPEC_FULL.md's architectural
// decisions for why.
package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Config configures the connection pool.
type Config struct {
	DatabaseURL string
	MaxConns    int32
}

// DB wraps a pgxpool.Pool with the teacher's transaction-helper idiom.
type DB struct {
	pgpool *pgxpool.Pool
	log    zerolog.Logger
}

// New opens a pooled connection and verifies it with a ping.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	db := &DB{pgpool: pool, log: log}
	if err := db.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Ping verifies connectivity.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.pgpool.Ping(ctx)
}

// Close releases the pool.
func (db *DB) Close() { db.pgpool.Close() }

// pool exposes the underlying pgxpool.Pool to sibling files in this
// package (tickers.go, dividends.go, ...).
func (db *DB) pool() *pgxpool.Pool { return db.pgpool }

// WithTransaction runs fn inside a transaction, committing on nil error and
// rolling back otherwise — the teacher's named-return/defer/recover idiom,
// adapted from database/sql.Tx to pgx.Tx.
func (db *DB) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.pgpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	err = fn(tx)
	return err
}
