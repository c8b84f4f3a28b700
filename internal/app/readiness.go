package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BuildReadinessChecks assembles the dependency probes for /readyz. Absent
// dependencies (in-memory store, no redis) are simply not probed.
func BuildReadinessChecks(pool Pinger, rdb *redis.Client) map[string]ReadinessCheck {
	checks := map[string]ReadinessCheck{}
	if pool != nil {
		checks["db"] = func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("op=readiness.db: %w", err)
			}
			return nil
		}
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("op=readiness.redis: %w", err)
			}
			return nil
		}
	}
	return checks
}
