// Package store is the durable relational store of spec §3: one Postgres
// database (via pgx) backing the ten tables that make every other
// subsystem's state survive a process restart. Following the pack's
// lueurxax-TelegramDigestBot db.go, the pool owns migrations via goose and
// every mutating operation hands callers an explicit transaction boundary
// rather than holding a package-level lock.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/foiacquire/crawler/migrations"
)

// Store wraps a pgx connection pool. All query methods live in sibling
// files, one per table family (sources.go, crawlurls.go, ...).
type Store struct {
	Pool *pgxpool.Pool
}

// Open connects to dsn, retrying a bounded number of times since the
// database (especially in local/dev compose setups) may not be accepting
// connections yet when the crawler starts.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	var pool *pgxpool.Pool
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		pool, lastErr = pgxpool.NewWithConfig(ctx, cfg)
		if lastErr == nil {
			if lastErr = pool.Ping(ctx); lastErr == nil {
				return &Store{Pool: pool}, nil
			}
		}
		if pool != nil {
			pool.Close()
		}
		time.Sleep(time.Second)
	}

	return nil, fmt.Errorf("connect to store after retries: %w", lastErr)
}

func (s *Store) Close() {
	s.Pool.Close()
}

const migrationLockID = 8443

// Migrate applies every pending goose migration under migrations/. It
// holds a Postgres advisory lock for the duration so concurrent processes
// starting up together don't race each other's schema changes (spec §5:
// multi-process coordination is limited to the shared store).
func (s *Store) Migrate(ctx context.Context) error {
	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)
	}()

	db := stdlib.OpenDB(*s.Pool.Config().ConnConfig)
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
