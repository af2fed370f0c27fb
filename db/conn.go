package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// appName tags every backend in pg_stat_activity so vote-path sessions are
// attributable during incident triage.
const appName = "transitwatch"

// NewPool constructs a pgx connection pool using the provided connection
// string. The DSN may override the application name and pool sizing.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	if connString == "" {
		return nil, fmt.Errorf("db: empty connection string")
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("db: parse config: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams["application_name"] == "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = appName
	}
	// Keep a couple of warm connections so a vote burst on a hot incident
	// does not pay connect latency on top of the row lock.
	if cfg.MinConns == 0 {
		cfg.MinConns = 2
	}

	return pgxpool.NewWithConfig(ctx, cfg)
}
