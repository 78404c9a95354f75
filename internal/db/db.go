// Package db opens the PostgreSQL pool backing fairness reports and
// manipulation flags.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// RequiredTables lists the tables the discovery stores query. They are
// created by the migrations under migrations/.
var RequiredTables = []string{"fairness_reports", "manipulation_flags"}

// PoolConfig tunes the connection pool and the startup ping.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// PingAttempts bounds retries while the database comes up.
	PingAttempts uint64
	PingInterval time.Duration
}

// DefaultPoolConfig returns the pool settings used by the API server.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		PingAttempts:    5,
		PingInterval:    500 * time.Millisecond,
	}
}

// Open connects to databaseURL and waits for the server to answer a ping,
// retrying with exponential backoff.
func Open(ctx context.Context, databaseURL string, cfg PoolConfig, logger *slog.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.PingInterval
	attempt := 0
	ping := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := conn.PingContext(pingCtx); err != nil {
			logger.Warn("database not ready", "attempt", attempt, "error", err)
			return err
		}
		return nil
	}
	if err := backoff.Retry(ping, backoff.WithContext(backoff.WithMaxRetries(b, cfg.PingAttempts), ctx)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database unreachable after %d attempts: %w", attempt, err)
	}
	return conn, nil
}

// CheckSchema reports the required tables missing from the connected database.
func CheckSchema(ctx context.Context, conn *sql.DB) ([]string, error) {
	var missing []string
	for _, table := range RequiredTables {
		var exists bool
		err := conn.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, "public."+table).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			missing = append(missing, table)
		}
	}
	return missing, nil
}
