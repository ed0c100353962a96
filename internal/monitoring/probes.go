package monitoring

import (
	"context"
	"time"

	"gorm.io/gorm"
)

const defaultProbeTimeout = 2 * time.Second

// Pinger is satisfied by cache backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseCheck pings the relational store.
func DatabaseCheck(db *gorm.DB, timeout time.Duration) Check {
	return NewCheck("database", func(ctx context.Context) ProbeResult {
		start := time.Now()
		if db == nil {
			return ProbeResult{Status: StatusDown, Details: "database not configured"}
		}

		sqlDB, err := db.DB()
		if err != nil {
			return ResultFromError(err, time.Since(start))
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout))
		defer cancel()
		return ResultFromError(sqlDB.PingContext(probeCtx), time.Since(start))
	})
}

// RedisCheck pings Redis. A nil client reports up with a note, since Redis
// is optional and the service falls back to the database cache.
func RedisCheck(client Pinger, timeout time.Duration) Check {
	return NewCheck("redis", func(ctx context.Context) ProbeResult {
		start := time.Now()
		if client == nil {
			return ProbeResult{Status: StatusUp, Details: "redis disabled"}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout))
		defer cancel()
		return ResultFromError(client.Ping(probeCtx), time.Since(start))
	})
}

func chooseTimeout(provided time.Duration) time.Duration {
	if provided <= 0 {
		return defaultProbeTimeout
	}
	return provided
}
