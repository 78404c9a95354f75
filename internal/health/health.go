// Package health provides readiness probes for the stores behind the
// discovery engine.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/discovery/internal/db"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 2 * time.Second

// CheckFunc adapts a function to the api.HealthChecker interface.
type CheckFunc func(ctx context.Context) error

// HealthCheck runs f.
func (f CheckFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

// WithTimeout bounds check to d; non-positive d uses DefaultTimeout.
func WithTimeout(check CheckFunc, d time.Duration) CheckFunc {
	if d <= 0 {
		d = DefaultTimeout
	}
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return check(ctx)
	}
}

// Postgres pings the pool and confirms the report and flag tables exist,
// so a database without migrations reports not ready.
func Postgres(conn *sql.DB) CheckFunc {
	return func(ctx context.Context) error {
		if err := conn.PingContext(ctx); err != nil {
			return err
		}
		missing, err := db.CheckSchema(ctx, conn)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing tables: %v", missing)
		}
		return nil
	}
}

// Redis sends PING to the impression counter, tuning and profile store.
func Redis(client redis.UniversalClient) CheckFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
