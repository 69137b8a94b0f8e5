// Package postgres persists tuning iteration history for post-flight
// analysis. The ground station database is optional; the tuner runs without
// it.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DefaultQueryTimeout bounds individual queries so a slow ground link cannot
// hold connections indefinitely.
const DefaultQueryTimeout = 10 * time.Second

type DB struct {
	*sql.DB
}

type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func New(cfg Config) (*DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultQueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &DB{DB: db}, nil
}

// Migrate creates the iteration history table if it does not exist.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS autotune_iterations (
			id              UUID PRIMARY KEY,
			target          TEXT NOT NULL,
			gain_a          DOUBLE PRECISION NOT NULL,
			gain_b          DOUBLE PRECISION NOT NULL,
			cost            DOUBLE PRECISION NOT NULL,
			degraded        BOOLEAN NOT NULL DEFAULT FALSE,
			state_samples   INTEGER NOT NULL DEFAULT 0,
			command_samples INTEGER NOT NULL DEFAULT 0,
			debug_samples   INTEGER NOT NULL DEFAULT 0,
			started_at      TIMESTAMPTZ NOT NULL,
			completed_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_autotune_iterations_target_completed
			ON autotune_iterations (target, completed_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrate iteration history: %w", err)
	}
	return nil
}
