// Package database archives finished transcripts in PostgreSQL.
package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a transcript id does not exist.
var ErrNotFound = errors.New("transcript not found")

// Archive writes are one row per finished job, so a small pool is plenty.
const (
	poolMaxConns    = 8
	poolMaxIdleTime = 10 * time.Minute
)

// DB is the transcript archive.
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// Connect opens a pool and verifies the server answers.
func Connect(ctx context.Context, databaseURL string, log zerolog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	cfg.MaxConns = poolMaxConns
	cfg.MaxConnIdleTime = poolMaxIdleTime
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = "scribe-engine"
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect %s: %w", redactDSN(databaseURL), err)
	}

	log.Info().Str("url", redactDSN(databaseURL)).Int32("max_conns", cfg.MaxConns).Msg("database connected")
	return &DB{Pool: pool, log: log}, nil
}

// HealthCheck pings the server with a short deadline.
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.Pool.Ping(ctx)
}

func (db *DB) Close() {
	db.log.Info().Msg("closing database pool")
	db.Pool.Close()
}

// redactDSN hides the password in a connection URL for logging.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
