package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Health reports connectivity and pool statistics for readiness checks.
type Health struct {
	Healthy      bool          `json:"healthy"`
	Latency      time.Duration `json:"latency_ns"`
	TotalConns   int32         `json:"total_conns"`
	IdleConns    int32         `json:"idle_conns"`
	AcquireCount int64         `json:"acquire_count"`
	Error        string        `json:"error,omitempty"`
}

// Check pings the database and returns a health snapshot. A failed ping is
// reported in the snapshot, not as an error.
func Check(ctx context.Context, pool *pgxpool.Pool) Health {
	start := time.Now()
	err := pool.Ping(ctx)
	latency := time.Since(start)

	stats := pool.Stat()
	h := Health{
		Healthy:      err == nil,
		Latency:      latency,
		TotalConns:   stats.TotalConns(),
		IdleConns:    stats.IdleConns(),
		AcquireCount: stats.AcquireCount(),
	}
	if err != nil {
		h.Error = err.Error()
	}
	return h
}
