package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthStatus is the result of a pool health check.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Latency       time.Duration `json:"latency"`
	TotalConns    int32         `json:"total_conns"`
	IdleConns     int32         `json:"idle_conns"`
	AcquiredConns int32         `json:"acquired_conns"`
	Error         string        `json:"error,omitempty"`
}

// Check pings the pool and reports its connection counts.
func Check(ctx context.Context, pool *pgxpool.Pool) *HealthStatus {
	status := &HealthStatus{}

	if pool == nil {
		status.Error = "pool is nil"
		return status
	}

	start := time.Now()
	err := pool.Ping(ctx)
	status.Latency = time.Since(start)

	if err != nil {
		status.Error = fmt.Sprintf("ping failed: %v", err)
		return status
	}

	stats := pool.Stat()
	status.Healthy = true
	status.TotalConns = stats.TotalConns()
	status.IdleConns = stats.IdleConns()
	status.AcquiredConns = stats.AcquiredConns()

	return status
}

// Readiness adapts a pool to a plain readiness probe.
func Readiness(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		status := Check(ctx, pool)
		if !status.Healthy {
			return fmt.Errorf("database unhealthy: %s", status.Error)
		}
		return nil
	}
}
